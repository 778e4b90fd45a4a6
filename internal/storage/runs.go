package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// ScanRun is the ledger row of one cycle.
type ScanRun struct {
	RunID          string
	RepoID         string
	StartedAt      time.Time
	EndedAt        *time.Time
	Outcome        string
	Ceiling        float64
	Spent          float64
	HaltedOnBudget bool
	FilesTotal     int
	FilesAnalyzed  int
	FilesCached    int
	FilesSkipped   int
	FilesFailed    int
	ReferenceFrom  string
	ReferenceTo    string
	Error          string
}

// InsertRun creates the ledger row at cycle start.
func InsertRun(q Querier, r *ScanRun) error {
	_, err := q.Exec(`
		INSERT INTO scan_runs (run_id, repo_id, started_at, ceiling, reference_from)
		VALUES (?, ?, ?, ?, ?)
	`, r.RunID, r.RepoID, formatTime(r.StartedAt), r.Ceiling, r.ReferenceFrom)
	if err != nil {
		return fmt.Errorf("inserting scan run %s: %w", r.RunID, err)
	}
	return nil
}

// UpdateRun persists the mutable columns of r.
func UpdateRun(q Querier, r *ScanRun) error {
	_, err := q.Exec(`
		UPDATE scan_runs SET
			ended_at = ?, outcome = ?, spent = ?, halted_on_budget = ?,
			files_total = ?, files_analyzed = ?, files_cached = ?, files_skipped = ?,
			files_failed = ?, reference_to = ?, error = ?
		WHERE run_id = ?
	`, nullTime(r.EndedAt), r.Outcome, r.Spent, boolInt(r.HaltedOnBudget),
		r.FilesTotal, r.FilesAnalyzed, r.FilesCached, r.FilesSkipped,
		r.FilesFailed, r.ReferenceTo, r.Error, r.RunID)
	if err != nil {
		return fmt.Errorf("updating scan run %s: %w", r.RunID, err)
	}
	return nil
}

const runColumns = `
	run_id, repo_id, started_at, ended_at, outcome, ceiling, spent, halted_on_budget,
	files_total, files_analyzed, files_cached, files_skipped, files_failed,
	reference_from, reference_to, error`

// GetRun returns a run by id or ErrNotFound.
func GetRun(q Querier, runID string) (*ScanRun, error) {
	r, err := scanRun(q.QueryRow("SELECT "+runColumns+" FROM scan_runs WHERE run_id = ?", runID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

// ListRuns returns the most recent runs, newest first. An empty repoID lists all repositories.
func ListRuns(q Querier, repoID string, limit int) ([]*ScanRun, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if repoID != "" {
		rows, err = q.Query("SELECT "+runColumns+" FROM scan_runs WHERE repo_id = ? ORDER BY started_at DESC LIMIT ?", repoID, limit)
	} else {
		rows, err = q.Query("SELECT "+runColumns+" FROM scan_runs ORDER BY started_at DESC LIMIT ?", limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*ScanRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func scanRun(s rowScanner) (*ScanRun, error) {
	var (
		r       ScanRun
		started string
		ended   sql.NullString
		halted  int
	)
	if err := s.Scan(
		&r.RunID, &r.RepoID, &started, &ended, &r.Outcome, &r.Ceiling, &r.Spent, &halted,
		&r.FilesTotal, &r.FilesAnalyzed, &r.FilesCached, &r.FilesSkipped, &r.FilesFailed,
		&r.ReferenceFrom, &r.ReferenceTo, &r.Error,
	); err != nil {
		return nil, err
	}
	r.StartedAt = parseTime(started)
	r.EndedAt = timePtr(ended)
	r.HaltedOnBudget = halted != 0
	return &r, nil
}
