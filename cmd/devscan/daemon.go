package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"devscan/internal/metrics"
	"devscan/internal/paths"
	"devscan/internal/repos"
	"devscan/internal/scheduler"
	"devscan/internal/storage"
	"devscan/internal/version"

	"github.com/spf13/cobra"
)

var (
	daemonManifest      string
	daemonPrune         bool
	daemonCostRetention time.Duration
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the periodic scanner in the foreground",
	Long: `Run the scheduler until SIGINT or SIGTERM.

On start the repository manifest is synced into the registry. Every tick,
repositories whose interval has elapsed are scanned, at most
scan.maxConcurrentRepos at a time, and the cache is trimmed to its watermarks.
On shutdown no new cycles start; running cycles stop at the next file
boundary and keep their checkpoints.

When metrics.enabled is set, Prometheus metrics are served on metrics.listen.

Examples:
  devscan daemon
  devscan daemon -v
  devscan daemon --manifest ~/dotfiles/repos.yaml --prune`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&daemonManifest, "manifest", "", "Repository manifest to sync on start (default: <data-dir>/repos.yaml)")
	daemonCmd.Flags().BoolVar(&daemonPrune, "prune", false, "Disable registered repositories missing from the manifest")
	daemonCmd.Flags().DurationVar(&daemonCostRetention, "cost-retention", 400*24*time.Hour, "Drop cost log records older than this")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	e, err := openEnv(true, os.Stderr)
	if err != nil {
		return err
	}
	defer e.Close()
	logger := e.logger

	manifest := daemonManifest
	if manifest == "" {
		manifest = paths.GetManifestPath(e.dataDir)
	}
	if err := syncManifest(e, manifest); err != nil {
		return err
	}

	if n, err := storage.CleanupOldCosts(e.db, daemonCostRetention); err != nil {
		logger.Warn("Cost log cleanup failed", "error", err.Error())
	} else if n > 0 {
		logger.Info("Cost log cleaned up", "removed", n)
	}

	var collector *metrics.Collector
	if e.cfg.Metrics.Enabled {
		collector = metrics.New()
	}

	c, err := e.openCache()
	if err != nil {
		return err
	}
	orch, err := e.newOrchestrator(c, collector)
	if err != nil {
		return err
	}
	sched := scheduler.New(e.db, orch, c, collector, logger, scheduler.ConfigFrom(e.cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if collector != nil {
		srv, err = startMetricsServer(e.cfg.Metrics.Listen, collector, logger)
		if err != nil {
			return err
		}
	}

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	logger.Info("Daemon started",
		"version", version.Info(),
		"dataDir", e.dataDir,
		"tick", e.cfg.Scan.TickInterval.String(),
		"maxConcurrentRepos", e.cfg.Scan.MaxConcurrentRepos,
	)

	<-ctx.Done()
	logger.Info("Shutting down", "timeout", e.cfg.Scan.ShutdownTimeout.String())

	stopErr := sched.Stop(e.cfg.Scan.ShutdownTimeout)
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", "error", err.Error())
		}
		cancel()
	}
	if stopErr != nil {
		return stopErr
	}
	logger.Info("Daemon stopped")
	return nil
}

func syncManifest(e *env, path string) error {
	m, err := repos.LoadManifest(path)
	if err != nil {
		return err
	}
	if len(m.Repositories) == 0 && !daemonPrune {
		return nil
	}
	report, err := repos.NewRegistry(e.db, e.cfg.Scan.DefaultInterval, e.logger).Sync(m, daemonPrune)
	if err != nil {
		return err
	}
	e.logger.Info("Manifest synced",
		"path", path,
		"added", len(report.Added),
		"updated", len(report.Updated),
		"disabled", len(report.Disabled),
	)
	return nil
}

// startMetricsServer binds listen before returning so that address errors
// fail the daemon start.
func startMetricsServer(listen string, collector *metrics.Collector, logger *slog.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", listen, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err.Error())
		}
	}()
	logger.Info("Metrics server listening", "addr", ln.Addr().String())
	return srv, nil
}
