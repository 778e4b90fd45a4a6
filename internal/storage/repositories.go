package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Repository is the scan state of one tracked repository.
type Repository struct {
	ID       string
	Name     string
	RootPath string

	// LastCommittedReference is the revision of the last fully processed
	// cycle. nil means the next cycle treats every file as changed.
	LastCommittedReference *string

	ScanEnabled  bool
	IntervalExpr string
	ScanInterval time.Duration

	LastScanAttemptAt *time.Time
	LastCompletedAt   *time.Time
	LastOutcome       string
	LastError         string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsDue reports whether the repository should be scanned at now.
func (r *Repository) IsDue(now time.Time) bool {
	if !r.ScanEnabled {
		return false
	}
	if r.LastScanAttemptAt == nil {
		return true
	}
	return now.Sub(*r.LastScanAttemptAt) >= r.ScanInterval
}

const repositoryColumns = `
	id, name, root_path, last_committed_reference, scan_enabled,
	scan_interval, scan_interval_seconds, last_scan_attempt_at,
	last_completed_at, last_outcome, last_error, created_at, updated_at`

// UpsertRepository registers a repository or updates its name, root,
// interval and enabled flag. Scan progress columns are never touched here.
func UpsertRepository(q Querier, r *Repository) error {
	now := time.Now()
	_, err := q.Exec(`
		INSERT INTO repositories (
			id, name, root_path, scan_enabled, scan_interval,
			scan_interval_seconds, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			root_path = excluded.root_path,
			scan_enabled = excluded.scan_enabled,
			scan_interval = excluded.scan_interval,
			scan_interval_seconds = excluded.scan_interval_seconds,
			updated_at = excluded.updated_at
	`, r.ID, r.Name, r.RootPath, boolInt(r.ScanEnabled), r.IntervalExpr,
		int64(r.ScanInterval/time.Second), formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("upserting repository %s: %w", r.ID, err)
	}
	return nil
}

// GetRepository returns the repository with the given id or ErrNotFound.
func GetRepository(q Querier, id string) (*Repository, error) {
	row := q.QueryRow("SELECT "+repositoryColumns+" FROM repositories WHERE id = ?", id)
	r, err := scanRepository(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading repository %s: %w", id, err)
	}
	return r, nil
}

// ListRepositories returns all repositories ordered by id.
func ListRepositories(q Querier) ([]*Repository, error) {
	rows, err := q.Query("SELECT " + repositoryColumns + " FROM repositories ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []*Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

// ListDueRepositories returns enabled repositories whose interval has elapsed
// since their last attempt.
func ListDueRepositories(q Querier, now time.Time) ([]*Repository, error) {
	all, err := ListRepositories(q)
	if err != nil {
		return nil, err
	}
	var due []*Repository
	for _, r := range all {
		if r.IsDue(now) {
			due = append(due, r)
		}
	}
	return due, nil
}

// MarkAttempt records the start of a scan cycle.
func MarkAttempt(q Querier, id string, at time.Time) error {
	return updateRepository(q, id, `
		UPDATE repositories SET last_scan_attempt_at = ?, updated_at = ? WHERE id = ?
	`, formatTime(at), formatTime(at), id)
}

// CommitReference advances the committed reference after a complete cycle.
func CommitReference(q Querier, id, reference string, at time.Time) error {
	return updateRepository(q, id, `
		UPDATE repositories
		SET last_committed_reference = ?, last_completed_at = ?, updated_at = ?
		WHERE id = ?
	`, reference, formatTime(at), formatTime(at), id)
}

// RecordOutcome stores the terminal state of the latest cycle.
func RecordOutcome(q Querier, id, outcome, errMsg string) error {
	return updateRepository(q, id, `
		UPDATE repositories SET last_outcome = ?, last_error = ?, updated_at = ? WHERE id = ?
	`, outcome, errMsg, formatTime(time.Now()), id)
}

// ForceRescan clears the committed reference, the attempt timestamp and any
// in-progress checkpoint so the next cycle starts from the first file and
// the repository is due immediately. Callers wanting atomicity pass a *sql.Tx.
func ForceRescan(q Querier, id string) error {
	if err := updateRepository(q, id, `
		UPDATE repositories
		SET last_committed_reference = NULL, last_scan_attempt_at = NULL, updated_at = ?
		WHERE id = ?
	`, formatTime(time.Now()), id); err != nil {
		return err
	}
	return DeleteCheckpoint(q, id)
}

// SetScanEnabled toggles periodic scanning.
func SetScanEnabled(q Querier, id string, enabled bool) error {
	return updateRepository(q, id, `
		UPDATE repositories SET scan_enabled = ?, updated_at = ? WHERE id = ?
	`, boolInt(enabled), formatTime(time.Now()), id)
}

// DeleteRepository removes a repository together with its checkpoint and
// file results. Cache entries are content-addressed and left for eviction.
func DeleteRepository(q Querier, id string) error {
	if err := updateRepository(q, id, "DELETE FROM repositories WHERE id = ?", id); err != nil {
		return err
	}
	if _, err := q.Exec("DELETE FROM scan_checkpoints WHERE repo_id = ?", id); err != nil {
		return err
	}
	_, err := q.Exec("DELETE FROM file_results WHERE repo_id = ?", id)
	return err
}

func updateRepository(q Querier, id, query string, args ...any) error {
	res, err := q.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("updating repository %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepository(s rowScanner) (*Repository, error) {
	var (
		r                    Repository
		ref                  sql.NullString
		enabled              int
		intervalSeconds      int64
		attempt, completed   sql.NullString
		createdAt, updatedAt string
	)
	if err := s.Scan(
		&r.ID, &r.Name, &r.RootPath, &ref, &enabled,
		&r.IntervalExpr, &intervalSeconds, &attempt,
		&completed, &r.LastOutcome, &r.LastError, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	r.LastCommittedReference = stringPtr(ref)
	r.ScanEnabled = enabled != 0
	r.ScanInterval = time.Duration(intervalSeconds) * time.Second
	r.LastScanAttemptAt = timePtr(attempt)
	r.LastCompletedAt = timePtr(completed)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}
