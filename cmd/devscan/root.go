package main

import (
	"devscan/internal/version"

	"github.com/spf13/cobra"
)

var (
	// dataDirFlag overrides $DEVSCAN_HOME for a single invocation
	dataDirFlag string
	verbosity   int
	quietFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "devscan",
	Short: "devscan - incremental, budget-bounded repository scanner",
	Long: `devscan periodically scans registered repositories, sends files that changed
since the last committed revision to an analysis backend, and caches the results.

Each cycle is bounded by a per-run cost ceiling. A cycle that runs out of budget
keeps its checkpoint and resumes where it stopped on the next run.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("devscan version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "",
		"Data directory (default: $DEVSCAN_HOME or ~/.devscan)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v",
		"Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress log output")
}
