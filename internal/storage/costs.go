package storage

import (
	"time"
)

// CostRecord is one charged analysis call.
type CostRecord struct {
	ID           int64
	RepoID       string
	RunID        string
	FilePath     string
	ModelID      string
	InputTokens  int64
	OutputTokens int64
	Cost         float64
	RecordedAt   time.Time
}

// CostAggregate summarizes spend for one repository within a window.
type CostAggregate struct {
	RepoID       string
	Calls        int64
	InputTokens  int64
	OutputTokens int64
	Cost         float64
}

// RecordCost appends a record to the cost log.
func RecordCost(q Querier, r *CostRecord) error {
	_, err := q.Exec(`
		INSERT INTO cost_log (
			repo_id, run_id, file_path, model_id, input_tokens, output_tokens, cost, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.RepoID, r.RunID, r.FilePath, r.ModelID, r.InputTokens, r.OutputTokens, r.Cost, formatTime(r.RecordedAt))
	return err
}

// SpendSince returns the total cost recorded at or after since.
func SpendSince(q Querier, since time.Time) (float64, error) {
	var total float64
	err := q.QueryRow(`
		SELECT COALESCE(SUM(cost), 0) FROM cost_log WHERE recorded_at >= ?
	`, formatTime(since)).Scan(&total)
	return total, err
}

// SpendByRepoSince aggregates spend per repository at or after since, largest first.
func SpendByRepoSince(q Querier, since time.Time) ([]CostAggregate, error) {
	rows, err := q.Query(`
		SELECT repo_id, COUNT(*), SUM(input_tokens), SUM(output_tokens), SUM(cost)
		FROM cost_log
		WHERE recorded_at >= ?
		GROUP BY repo_id
		ORDER BY SUM(cost) DESC
	`, formatTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CostAggregate
	for rows.Next() {
		var a CostAggregate
		if err := rows.Scan(&a.RepoID, &a.Calls, &a.InputTokens, &a.OutputTokens, &a.Cost); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// RunCost returns the total cost recorded for runID.
func RunCost(q Querier, runID string) (float64, error) {
	var total float64
	err := q.QueryRow("SELECT COALESCE(SUM(cost), 0) FROM cost_log WHERE run_id = ?", runID).Scan(&total)
	return total, err
}

// CleanupOldCosts removes records older than the retention period.
func CleanupOldCosts(q Querier, retention time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-retention))
	res, err := q.Exec("DELETE FROM cost_log WHERE recorded_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
