package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// CacheRow is one stored analysis result.
type CacheRow struct {
	Key           string
	ContentHash   string
	ModelID       string
	PromptHash    string
	SchemaVersion int
	ConfigHash    string
	RepoID        string

	Codec   string
	Payload []byte

	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	Cost         float64
	SizeBytes    int64

	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
}

// EvictionCandidate carries the columns the eviction score is computed from.
type EvictionCandidate struct {
	Key            string
	SizeBytes      int64
	Cost           float64
	AccessCount    int64
	LastAccessedAt time.Time
}

// Cache counter names.
const (
	CounterHits      = "hits"
	CounterMisses    = "misses"
	CounterCorrupt   = "corrupt"
	CounterEvictions = "evictions"
)

// GetCacheRow returns the row for key, or nil when absent.
func GetCacheRow(q Querier, key string) (*CacheRow, error) {
	var (
		r                 CacheRow
		created, accessed string
	)
	err := q.QueryRow(`
		SELECT cache_key, content_hash, model_id, prompt_hash, schema_version,
		       config_hash, repo_id, codec, payload, input_tokens, output_tokens,
		       total_tokens, cost, size_bytes, created_at, last_accessed_at, access_count
		FROM analysis_cache
		WHERE cache_key = ?
	`, key).Scan(
		&r.Key, &r.ContentHash, &r.ModelID, &r.PromptHash, &r.SchemaVersion,
		&r.ConfigHash, &r.RepoID, &r.Codec, &r.Payload, &r.InputTokens, &r.OutputTokens,
		&r.TotalTokens, &r.Cost, &r.SizeBytes, &created, &accessed, &r.AccessCount,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("analysis cache lookup failed: %w", err)
	}
	r.CreatedAt = parseTime(created)
	r.LastAccessedAt = parseTime(accessed)
	return &r, nil
}

// TouchCacheRow records a hit.
func TouchCacheRow(q Querier, key string, at time.Time) error {
	_, err := q.Exec(`
		UPDATE analysis_cache
		SET access_count = access_count + 1, last_accessed_at = ?
		WHERE cache_key = ?
	`, formatTime(at), key)
	return err
}

// PutCacheRow inserts or overwrites an entry. Overwrites reset the access
// statistics to a single access at the write time.
func PutCacheRow(q Querier, r *CacheRow) error {
	at := r.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	now := formatTime(at)
	_, err := q.Exec(`
		INSERT INTO analysis_cache (
			cache_key, content_hash, model_id, prompt_hash, schema_version,
			config_hash, repo_id, codec, payload, input_tokens, output_tokens,
			total_tokens, cost, size_bytes, created_at, last_accessed_at, access_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(cache_key) DO UPDATE SET
			repo_id = excluded.repo_id,
			codec = excluded.codec,
			payload = excluded.payload,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			total_tokens = excluded.total_tokens,
			cost = excluded.cost,
			size_bytes = excluded.size_bytes,
			created_at = excluded.created_at,
			last_accessed_at = excluded.last_accessed_at,
			access_count = 1
	`, r.Key, r.ContentHash, r.ModelID, r.PromptHash, r.SchemaVersion,
		r.ConfigHash, r.RepoID, r.Codec, r.Payload, r.InputTokens, r.OutputTokens,
		r.TotalTokens, r.Cost, r.SizeBytes, now, now)
	if err != nil {
		return fmt.Errorf("analysis cache write failed: %w", err)
	}
	return nil
}

// DeleteCacheRow removes one entry and reports whether it existed.
func DeleteCacheRow(q Querier, key string) (bool, error) {
	res, err := q.Exec("DELETE FROM analysis_cache WHERE cache_key = ?", key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteCacheByRepo removes every entry owned by repoID.
func DeleteCacheByRepo(q Querier, repoID string) (int64, error) {
	return deleteCache(q, "DELETE FROM analysis_cache WHERE repo_id = ?", repoID)
}

// DeleteCacheByModel removes every entry produced by modelID.
func DeleteCacheByModel(q Querier, modelID string) (int64, error) {
	return deleteCache(q, "DELETE FROM analysis_cache WHERE model_id = ?", modelID)
}

// ClearCache removes every entry.
func ClearCache(q Querier) (int64, error) {
	return deleteCache(q, "DELETE FROM analysis_cache")
}

func deleteCache(q Querier, query string, args ...any) (int64, error) {
	res, err := q.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("analysis cache delete failed: %w", err)
	}
	return res.RowsAffected()
}

// CacheSize returns the number of entries and their total compressed size.
func CacheSize(q Querier) (entries, bytes int64, err error) {
	err = q.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM analysis_cache
	`).Scan(&entries, &bytes)
	return entries, bytes, err
}

// ListEvictionCandidates returns the scoring columns of every entry.
func ListEvictionCandidates(q Querier) ([]EvictionCandidate, error) {
	rows, err := q.Query(`
		SELECT cache_key, size_bytes, cost, access_count, last_accessed_at
		FROM analysis_cache
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EvictionCandidate
	for rows.Next() {
		var c EvictionCandidate
		var accessed string
		if err := rows.Scan(&c.Key, &c.SizeBytes, &c.Cost, &c.AccessCount, &accessed); err != nil {
			return nil, err
		}
		c.LastAccessedAt = parseTime(accessed)
		out = append(out, c)
	}
	return out, rows.Err()
}

// BumpCounter adds delta to a named cache counter.
func BumpCounter(q Querier, name string, delta int64) error {
	_, err := q.Exec(`
		INSERT INTO cache_counters (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = value + excluded.value
	`, name, delta)
	return err
}

// GetCounters returns all cache counters.
func GetCounters(q Querier) (map[string]int64, error) {
	rows, err := q.Query("SELECT name, value FROM cache_counters")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var name string
		var value int64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		out[name] = value
	}
	return out, rows.Err()
}

// ResetCounters zeroes every cache counter.
func ResetCounters(q Querier) error {
	_, err := q.Exec("DELETE FROM cache_counters")
	return err
}
