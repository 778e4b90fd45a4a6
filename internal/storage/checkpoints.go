package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// CheckpointRecord is the durable progress marker of an in-progress cycle.
type CheckpointRecord struct {
	RepoID          string
	RunID           string
	ListFingerprint string
	TotalFiles      int
	NextIndex       int
	LastFile        string
	Analyzed        int
	Cached          int
	Skipped         int
	AccumulatedCost float64
	UpdatedAt       time.Time
}

// GetCheckpoint returns the checkpoint for repoID, or nil when none exists.
func GetCheckpoint(q Querier, repoID string) (*CheckpointRecord, error) {
	var c CheckpointRecord
	var updated string
	err := q.QueryRow(`
		SELECT repo_id, run_id, list_fingerprint, total_files, next_index, last_file,
		       analyzed, cached, skipped, accumulated_cost, updated_at
		FROM scan_checkpoints WHERE repo_id = ?
	`, repoID).Scan(
		&c.RepoID, &c.RunID, &c.ListFingerprint, &c.TotalFiles, &c.NextIndex, &c.LastFile,
		&c.Analyzed, &c.Cached, &c.Skipped, &c.AccumulatedCost, &updated,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint for %s: %w", repoID, err)
	}
	c.UpdatedAt = parseTime(updated)
	return &c, nil
}

// PutCheckpoint writes c, replacing any previous checkpoint of the repository.
func PutCheckpoint(q Querier, c *CheckpointRecord) error {
	_, err := q.Exec(`
		INSERT INTO scan_checkpoints (
			repo_id, run_id, list_fingerprint, total_files, next_index, last_file,
			analyzed, cached, skipped, accumulated_cost, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_id) DO UPDATE SET
			run_id = excluded.run_id,
			list_fingerprint = excluded.list_fingerprint,
			total_files = excluded.total_files,
			next_index = excluded.next_index,
			last_file = excluded.last_file,
			analyzed = excluded.analyzed,
			cached = excluded.cached,
			skipped = excluded.skipped,
			accumulated_cost = excluded.accumulated_cost,
			updated_at = excluded.updated_at
	`, c.RepoID, c.RunID, c.ListFingerprint, c.TotalFiles, c.NextIndex, c.LastFile,
		c.Analyzed, c.Cached, c.Skipped, c.AccumulatedCost, formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("writing checkpoint for %s: %w", c.RepoID, err)
	}
	return nil
}

// DeleteCheckpoint removes the checkpoint of repoID if any.
func DeleteCheckpoint(q Querier, repoID string) error {
	_, err := q.Exec("DELETE FROM scan_checkpoints WHERE repo_id = ?", repoID)
	return err
}
