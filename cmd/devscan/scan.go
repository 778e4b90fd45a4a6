package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"devscan/internal/repos"
	"devscan/internal/scan"

	"github.com/spf13/cobra"
)

var (
	scanFormat string
	scanForce  bool
)

var scanCmd = &cobra.Command{
	Use:   "scan [repo]",
	Short: "Run one scan cycle now",
	Long: `Run a single scan cycle for a registered repository in the foreground.

The repository may be given as its id or as a path inside it. Without an
argument, $DEVSCAN_REPO and then the working directory are used.

Examples:
  devscan scan api
  devscan scan ~/src/api/internal
  devscan scan --force api
  devscan scan --format=json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanFormat, "format", "human", "Output format (json, human)")
	scanCmd.Flags().BoolVar(&scanForce, "force", false, "Forget the committed reference and rescan every file")
	rootCmd.AddCommand(scanCmd)
}

// CycleResponseCLI is the outcome of one scan cycle
type CycleResponseCLI struct {
	RunID           string  `json:"runId"`
	Repo            string  `json:"repo"`
	ResolvedFrom    string  `json:"resolvedFrom"`
	State           string  `json:"state"`
	FilesTotal      int     `json:"filesTotal"`
	ResumeIndex     int     `json:"resumeIndex"`
	NextIndex       int     `json:"nextIndex"`
	Analyzed        int     `json:"analyzed"`
	Cached          int     `json:"cached"`
	Skipped         int     `json:"skipped"`
	Failed          int     `json:"failed"`
	Unprocessed     int     `json:"unprocessed"`
	Spent           float64 `json:"spent"`
	Ceiling         float64 `json:"ceiling"`
	AccumulatedCost float64 `json:"accumulatedCost"`
	ReferenceFrom   string  `json:"referenceFrom,omitempty"`
	ReferenceTo     string  `json:"referenceTo,omitempty"`
	Committed       bool    `json:"committed"`
	DurationMs      int64   `json:"durationMs"`
	Error           string  `json:"error,omitempty"`
}

func runScan(cmd *cobra.Command, args []string) error {
	e, err := openEnv(false, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	var arg string
	if len(args) > 0 {
		arg = args[0]
	}
	cwd, _ := os.Getwd()
	repo, source, err := repos.Resolve(e.db, arg, cwd)
	if err != nil {
		return err
	}

	c, err := e.openCache()
	if err != nil {
		return err
	}
	orch, err := e.newOrchestrator(c, nil)
	if err != nil {
		return err
	}

	if scanForce {
		if err := orch.ForceRescan(repo.ID); err != nil {
			return err
		}
	}

	// Ctrl-C ends the cycle as partial; completed files stay checkpointed.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := orch.RunCycle(ctx, repo.ID)
	if err != nil {
		return err
	}

	out, err := FormatResponse(newCycleResponse(result, string(source)), OutputFormat(scanFormat))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)

	if result.State == scan.StateFailed && result.Err != nil {
		return result.Err
	}
	return nil
}

func newCycleResponse(r *scan.CycleResult, source string) *CycleResponseCLI {
	resp := &CycleResponseCLI{
		RunID:           r.RunID,
		Repo:            r.RepoID,
		ResolvedFrom:    source,
		State:           string(r.State),
		FilesTotal:      r.FilesTotal,
		ResumeIndex:     r.ResumeIndex,
		NextIndex:       r.NextIndex,
		Analyzed:        r.Analyzed,
		Cached:          r.Cached,
		Skipped:         r.Skipped,
		Failed:          r.Failed,
		Unprocessed:     r.Unprocessed(),
		Spent:           r.Spent,
		Ceiling:         r.Ceiling,
		AccumulatedCost: r.AccumulatedCost,
		ReferenceFrom:   r.ReferenceFrom,
		ReferenceTo:     r.ReferenceTo,
		Committed:       r.Committed,
		DurationMs:      r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		resp.Error = r.Err.Error()
	}
	return resp
}
