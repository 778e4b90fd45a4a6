package storage

import (
	"database/sql"
	"time"
)

// FileResult links a repository file to the cache entry holding its latest
// analysis. Downstream consumers read these rows and resolve the payload
// through the analysis cache.
type FileResult struct {
	RepoID     string
	FilePath   string
	CacheKey   string
	RunID      string
	FromCache  bool
	Skipped    bool
	SkipReason string
	UpdatedAt  time.Time
}

// PutFileResult records the latest result for a file.
func PutFileResult(q Querier, r *FileResult) error {
	_, err := q.Exec(`
		INSERT INTO file_results (
			repo_id, file_path, cache_key, run_id, from_cache, skipped, skip_reason, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_id, file_path) DO UPDATE SET
			cache_key = excluded.cache_key,
			run_id = excluded.run_id,
			from_cache = excluded.from_cache,
			skipped = excluded.skipped,
			skip_reason = excluded.skip_reason,
			updated_at = excluded.updated_at
	`, r.RepoID, r.FilePath, r.CacheKey, r.RunID, boolInt(r.FromCache),
		boolInt(r.Skipped), r.SkipReason, formatTime(r.UpdatedAt))
	return err
}

// GetFileResult returns the result for one file or ErrNotFound.
func GetFileResult(q Querier, repoID, filePath string) (*FileResult, error) {
	r, err := scanFileResult(q.QueryRow(`
		SELECT repo_id, file_path, cache_key, run_id, from_cache, skipped, skip_reason, updated_at
		FROM file_results WHERE repo_id = ? AND file_path = ?
	`, repoID, filePath))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

// ListFileResults returns every result of a repository ordered by path.
func ListFileResults(q Querier, repoID string) ([]*FileResult, error) {
	rows, err := q.Query(`
		SELECT repo_id, file_path, cache_key, run_id, from_cache, skipped, skip_reason, updated_at
		FROM file_results WHERE repo_id = ? ORDER BY file_path
	`, repoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*FileResult
	for rows.Next() {
		r, err := scanFileResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanFileResult(s rowScanner) (*FileResult, error) {
	var (
		r                  FileResult
		fromCache, skipped int
		updated            string
	)
	if err := s.Scan(&r.RepoID, &r.FilePath, &r.CacheKey, &r.RunID, &fromCache, &skipped, &r.SkipReason, &updated); err != nil {
		return nil, err
	}
	r.FromCache = fromCache != 0
	r.Skipped = skipped != 0
	r.UpdatedAt = parseTime(updated)
	return &r, nil
}
