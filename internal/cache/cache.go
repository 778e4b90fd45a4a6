// Package cache implements the content-addressed analysis cache.
//
// Entries are keyed on five factors (file content, model, prompt template,
// output schema version and analysis settings) and stored compressed in
// SQLite. Get and Set share a read lock; eviction takes the write lock so a
// reader never observes a partially evicted cache.
package cache

import (
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"devscan/internal/storage"
)

// scoreEpsilon keeps zero-cost entries from dividing by zero.
const scoreEpsilon = 1e-6

// Tokens is the token usage recorded with an entry.
type Tokens struct {
	Input  int64
	Output int64
}

// Total returns input plus output tokens.
func (t Tokens) Total() int64 { return t.Input + t.Output }

// Entry is a decoded cache entry.
type Entry struct {
	Digest         string
	Key            Key
	RepoID         string
	Payload        []byte
	Tokens         Tokens
	Cost           float64
	Codec          string
	SizeBytes      int64
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
}

// Stats summarizes cache contents and traffic.
type Stats struct {
	Entries   int64
	Bytes     int64
	Hits      int64
	Misses    int64
	Corrupt   int64
	Evictions int64
}

// HitRate returns hits / (hits + misses), or 0 with no traffic.
func (s *Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// EvictionReport describes one eviction pass.
type EvictionReport struct {
	Triggered     bool
	BytesBefore   int64
	BytesAfter    int64
	EntriesBefore int64
	Evicted       int
}

// FreedBytes returns the bytes released by the pass.
func (r *EvictionReport) FreedBytes() int64 { return r.BytesBefore - r.BytesAfter }

// Cache is the analysis cache.
type Cache struct {
	db     *storage.DB
	codec  Codec
	logger *slog.Logger

	mu  sync.RWMutex
	now func() time.Time
}

// New creates a cache writing new entries with the named codec. Entries
// written with another codec remain readable.
func New(db *storage.DB, codecName string, logger *slog.Logger) (*Cache, error) {
	codec, err := NewCodec(codecName)
	if err != nil {
		return nil, err
	}
	return &Cache{
		db:     db,
		codec:  codec,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Get looks up key. A hit bumps the access count and last-access time.
// An entry that cannot be decoded is removed and reported as a miss.
func (c *Cache) Get(key Key) (*Entry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.get(key.Digest(), &key)
}

// Lookup resolves an entry by its stored digest, as recorded in file results.
func (c *Cache) Lookup(digest string) (*Entry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.get(digest, nil)
}

func (c *Cache) get(digest string, key *Key) (*Entry, bool, error) {
	row, err := storage.GetCacheRow(c.db, digest)
	if err != nil {
		return nil, false, err
	}
	if row == nil {
		c.bump(storage.CounterMisses)
		return nil, false, nil
	}

	stored := Key{
		ContentHash:   row.ContentHash,
		ModelID:       row.ModelID,
		PromptHash:    row.PromptHash,
		SchemaVersion: row.SchemaVersion,
		ConfigHash:    row.ConfigHash,
	}
	if key != nil && stored != *key {
		c.bump(storage.CounterMisses)
		return nil, false, nil
	}

	payload, err := c.decode(row)
	if err != nil {
		c.logger.Warn("Dropping corrupt cache entry",
			"key", digest,
			"codec", row.Codec,
			"error", err.Error(),
		)
		if _, delErr := storage.DeleteCacheRow(c.db, digest); delErr != nil {
			return nil, false, fmt.Errorf("removing corrupt cache entry: %w", delErr)
		}
		c.bump(storage.CounterCorrupt)
		c.bump(storage.CounterMisses)
		return nil, false, nil
	}

	now := c.now()
	if err := storage.TouchCacheRow(c.db, digest, now); err != nil {
		return nil, false, fmt.Errorf("updating cache access stats: %w", err)
	}
	c.bump(storage.CounterHits)

	entry := &Entry{
		Digest:         digest,
		Key:            stored,
		RepoID:         row.RepoID,
		Payload:        payload,
		Tokens:         Tokens{Input: row.InputTokens, Output: row.OutputTokens},
		Cost:           row.Cost,
		Codec:          row.Codec,
		SizeBytes:      row.SizeBytes,
		CreatedAt:      row.CreatedAt,
		LastAccessedAt: now,
		AccessCount:    row.AccessCount + 1,
	}
	return entry, true, nil
}

func (c *Cache) decode(row *storage.CacheRow) ([]byte, error) {
	codec := c.codec
	if row.Codec != codec.Name() {
		var err error
		if codec, err = NewCodec(row.Codec); err != nil {
			return nil, err
		}
	}
	return codec.Decode(row.Payload)
}

// Set compresses and stores payload under key, replacing any existing entry.
func (c *Cache) Set(key Key, repoID string, payload []byte, tokens Tokens, cost float64) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if cost < 0 || math.IsNaN(cost) {
		return fmt.Errorf("cache: invalid cost %v", cost)
	}

	compressed, err := c.codec.Encode(payload)
	if err != nil {
		return fmt.Errorf("compressing payload: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return storage.PutCacheRow(c.db, &storage.CacheRow{
		Key:           key.Digest(),
		ContentHash:   key.ContentHash,
		ModelID:       key.ModelID,
		PromptHash:    key.PromptHash,
		SchemaVersion: key.SchemaVersion,
		ConfigHash:    key.ConfigHash,
		RepoID:        repoID,
		Codec:         c.codec.Name(),
		Payload:       compressed,
		InputTokens:   tokens.Input,
		OutputTokens:  tokens.Output,
		TotalTokens:   tokens.Total(),
		Cost:          cost,
		SizeBytes:     int64(len(compressed)),
		CreatedAt:     c.now(),
	})
}

// Score returns the eviction score; higher scores are evicted first.
// Rarely used, cheap to recompute and stale entries score highest.
func Score(accessCount int64, cost float64, lastAccessed, now time.Time) float64 {
	ageDays := now.Sub(lastAccessed).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return (1 / math.Max(float64(accessCount), 1)) *
		(1 / math.Max(cost, scoreEpsilon)) *
		(1 + ageDays)
}

// EvictToWatermark deletes the highest-scoring entries once the cache
// exceeds high*maxBytes, until it is at or below low*maxBytes. Deletion
// happens in a single transaction under the write lock.
func (c *Cache) EvictToWatermark(maxBytes int64, low, high float64) (*EvictionReport, error) {
	if maxBytes <= 0 || !(low > 0 && low < high && high <= 1) {
		return nil, fmt.Errorf("cache: invalid eviction bounds max=%d low=%v high=%v", maxBytes, low, high)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	report := &EvictionReport{}
	now := c.now()

	err := c.db.WithTx(func(tx *sql.Tx) error {
		entries, bytes, err := storage.CacheSize(tx)
		if err != nil {
			return err
		}
		report.EntriesBefore = entries
		report.BytesBefore = bytes
		report.BytesAfter = bytes

		if float64(bytes) <= high*float64(maxBytes) {
			return nil
		}
		report.Triggered = true

		candidates, err := storage.ListEvictionCandidates(tx)
		if err != nil {
			return err
		}
		sort.Slice(candidates, func(i, j int) bool {
			si := Score(candidates[i].AccessCount, candidates[i].Cost, candidates[i].LastAccessedAt, now)
			sj := Score(candidates[j].AccessCount, candidates[j].Cost, candidates[j].LastAccessedAt, now)
			if si != sj {
				return si > sj
			}
			return candidates[i].Key < candidates[j].Key
		})

		target := low * float64(maxBytes)
		for _, cand := range candidates {
			if float64(report.BytesAfter) <= target {
				break
			}
			if _, err := storage.DeleteCacheRow(tx, cand.Key); err != nil {
				return err
			}
			report.BytesAfter -= cand.SizeBytes
			report.Evicted++
		}
		return storage.BumpCounter(tx, storage.CounterEvictions, int64(report.Evicted))
	})
	if err != nil {
		return nil, fmt.Errorf("cache eviction failed: %w", err)
	}

	if report.Triggered {
		c.logger.Info("Evicted cache entries",
			"evicted", report.Evicted,
			"bytes_before", report.BytesBefore,
			"bytes_after", report.BytesAfter,
		)
	}
	return report, nil
}

// Stats returns current cache statistics.
func (c *Cache) Stats() (*Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries, bytes, err := storage.CacheSize(c.db)
	if err != nil {
		return nil, err
	}
	counters, err := storage.GetCounters(c.db)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Entries:   entries,
		Bytes:     bytes,
		Hits:      counters[storage.CounterHits],
		Misses:    counters[storage.CounterMisses],
		Corrupt:   counters[storage.CounterCorrupt],
		Evictions: counters[storage.CounterEvictions],
	}, nil
}

// InvalidateRepo removes every entry written for repoID.
func (c *Cache) InvalidateRepo(repoID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return storage.DeleteCacheByRepo(c.db, repoID)
}

// InvalidateModel removes every entry produced by modelID.
func (c *Cache) InvalidateModel(modelID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return storage.DeleteCacheByModel(c.db, modelID)
}

// Clear removes every entry and resets the counters.
func (c *Cache) Clear() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	err := c.db.WithTx(func(tx *sql.Tx) error {
		var err error
		if n, err = storage.ClearCache(tx); err != nil {
			return err
		}
		return storage.ResetCounters(tx)
	})
	return n, err
}

func (c *Cache) bump(counter string) {
	if err := storage.BumpCounter(c.db, counter, 1); err != nil {
		c.logger.Debug("cache counter update failed", "counter", counter, "error", err.Error())
	}
}
