package main

import (
	"context"
	"fmt"
	"time"

	"devscan/internal/budget"
	"devscan/internal/repos"
	"devscan/internal/repostate"
	"devscan/internal/scheduler"
	"devscan/internal/storage"
	"devscan/internal/version"

	"github.com/spf13/cobra"
)

var (
	statusFormat string
	statusNoGit  bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show repositories, spend and cache state",
	Long: `Show the scan state of every registered repository together with
calendar spend, budget alerts and cache occupancy.

Examples:
  devscan status
  devscan status --format=json
  devscan status --no-git`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusFormat, "format", "human", "Output format (json, human)")
	statusCmd.Flags().BoolVar(&statusNoGit, "no-git", false, "Skip working tree checks")
	rootCmd.AddCommand(statusCmd)
}

// StatusResponseCLI is the overall scanner status
type StatusResponseCLI struct {
	Version      string                 `json:"version"`
	DataDir      string                 `json:"dataDir"`
	Repositories []RepoStatusCLI        `json:"repositories"`
	Spend        SpendStatusCLI         `json:"spend"`
	Cache        *CacheStatsResponseCLI `json:"cache"`
	Alerts       []string               `json:"alerts,omitempty"`
}

// RepoStatusCLI is the scan state of one repository
type RepoStatusCLI struct {
	ID          string         `json:"id"`
	Enabled     bool           `json:"enabled"`
	State       string         `json:"state"`
	Dirty       *bool          `json:"dirty,omitempty"`
	LastOutcome string         `json:"lastOutcome,omitempty"`
	LastError   string         `json:"lastError,omitempty"`
	LastAttempt *time.Time     `json:"lastAttempt,omitempty"`
	NextDue     *time.Time     `json:"nextDue,omitempty"`
	Progress    string         `json:"progress,omitempty"`
	MonthSpent  float64        `json:"monthSpent"`
	LastRun     *RunSummaryCLI `json:"lastRun,omitempty"`
}

// RunSummaryCLI summarizes the most recent scan run
type RunSummaryCLI struct {
	RunID          string  `json:"runId"`
	Outcome        string  `json:"outcome"`
	Spent          float64 `json:"spent"`
	FilesAnalyzed  int     `json:"filesAnalyzed"`
	FilesCached    int     `json:"filesCached"`
	FilesFailed    int     `json:"filesFailed"`
	HaltedOnBudget bool    `json:"haltedOnBudget"`
}

// SpendStatusCLI is calendar spend against budgets
type SpendStatusCLI struct {
	DailySpent    float64 `json:"dailySpent"`
	DailyBudget   float64 `json:"dailyBudget"`
	MonthlySpent  float64 `json:"monthlySpent"`
	MonthlyBudget float64 `json:"monthlyBudget"`
	PerRunCeiling float64 `json:"perRunCeiling"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	e, err := openEnv(false, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	resp, err := collectStatus(cmd.Context(), e, time.Now())
	if err != nil {
		return err
	}

	out, err := FormatResponse(resp, OutputFormat(statusFormat))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

func collectStatus(ctx context.Context, e *env, now time.Time) (*StatusResponseCLI, error) {
	resp := &StatusResponseCLI{
		Version:      version.Info(),
		DataDir:      e.dataDir,
		Repositories: []RepoStatusCLI{},
	}

	spend, err := budget.NewSpendTracker(e.db, e.cfg.Budget.DailyBudget, e.cfg.Budget.MonthlyBudget).Status()
	if err != nil {
		return nil, err
	}
	resp.Spend = SpendStatusCLI{
		DailySpent:    spend.DailySpent,
		DailyBudget:   spend.DailyBudget,
		MonthlySpent:  spend.MonthlySpent,
		MonthlyBudget: spend.MonthlyBudget,
		PerRunCeiling: e.cfg.Budget.PerRunCeiling,
	}
	for _, a := range spend.Alerts {
		resp.Alerts = append(resp.Alerts, a.String())
	}

	monthStart := time.Date(now.UTC().Year(), now.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	byRepo, err := storage.SpendByRepoSince(e.db, monthStart)
	if err != nil {
		return nil, err
	}
	monthSpent := make(map[string]float64, len(byRepo))
	for _, agg := range byRepo {
		monthSpent[agg.RepoID] = agg.Cost
	}

	all, err := storage.ListRepositories(e.db)
	if err != nil {
		return nil, err
	}
	for _, r := range all {
		rs, err := repoStatus(ctx, e.db, r, now)
		if err != nil {
			return nil, err
		}
		rs.MonthSpent = monthSpent[r.ID]
		if rs.State == string(repos.RepoStateMissing) && r.ScanEnabled {
			resp.Alerts = append(resp.Alerts, fmt.Sprintf("%s: root %s is missing", r.ID, r.RootPath))
		}
		resp.Repositories = append(resp.Repositories, rs)
	}

	c, err := e.openCache()
	if err != nil {
		return nil, err
	}
	stats, err := c.Stats()
	if err != nil {
		return nil, err
	}
	resp.Cache = newCacheStats(stats, e.cfg.Cache.MaxBytes, e.cfg.Cache.Codec)
	return resp, nil
}

func repoStatus(ctx context.Context, q storage.Querier, r *storage.Repository, now time.Time) (RepoStatusCLI, error) {
	rs := RepoStatusCLI{
		ID:          r.ID,
		Enabled:     r.ScanEnabled,
		State:       string(repos.ValidateState(r.RootPath)),
		LastOutcome: r.LastOutcome,
		LastError:   r.LastError,
		LastAttempt: r.LastScanAttemptAt,
	}
	if r.ScanEnabled {
		next := scheduler.NextDue(r.LastScanAttemptAt, r.ScanInterval, now)
		rs.NextDue = &next
	}

	if !statusNoGit && rs.State == string(repos.RepoStateValid) {
		gitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if st, err := repostate.ComputeRepoState(gitCtx, r.RootPath); err == nil {
			dirty := st.Dirty
			rs.Dirty = &dirty
		}
		cancel()
	}

	cp, err := storage.GetCheckpoint(q, r.ID)
	if err != nil {
		return rs, err
	}
	if cp != nil {
		rs.Progress = fmt.Sprintf("%d/%d", cp.NextIndex, cp.TotalFiles)
	}

	runs, err := storage.ListRuns(q, r.ID, 1)
	if err != nil {
		return rs, err
	}
	if len(runs) > 0 {
		run := runs[0]
		rs.LastRun = &RunSummaryCLI{
			RunID:          run.RunID,
			Outcome:        run.Outcome,
			Spent:          run.Spent,
			FilesAnalyzed:  run.FilesAnalyzed,
			FilesCached:    run.FilesCached,
			FilesFailed:    run.FilesFailed,
			HaltedOnBudget: run.HaltedOnBudget,
		}
	}
	return rs, nil
}
