package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"devscan/internal/analysis"
	"devscan/internal/budget"
	"devscan/internal/cache"
	"devscan/internal/changes"
	"devscan/internal/config"
	"devscan/internal/errors"
	"devscan/internal/metrics"
	"devscan/internal/paths"
	"devscan/internal/scan"
	"devscan/internal/slogutil"
	"devscan/internal/storage"
)

// env bundles what every command needs: the data directory, validated
// configuration, the database and a logger.
type env struct {
	dataDir string
	cfg     *config.Config
	db      *storage.DB
	logs    *slogutil.LoggerFactory
	logger  *slog.Logger
}

// openEnv loads configuration and opens the database. Daemon loggers mirror
// records to console; every other command logs to scan.log only.
func openEnv(daemon bool, console io.Writer) (*env, error) {
	dataDir, err := resolveDataDir()
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(dataDir)
	if err != nil {
		return nil, errors.New(errors.ConfigInvalid, "failed to load configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.New(errors.ConfigInvalid, err.Error(), err)
	}

	logs := slogutil.NewLoggerFactory(dataDir, cfg.Logging)
	if verbosity > 0 || quietFlag {
		logs.WithCLILevel(slogutil.LevelFromVerbosity(verbosity, quietFlag))
	}
	var logger *slog.Logger
	if daemon {
		logger = logs.DaemonLogger(console)
	} else {
		logger = logs.ScanLogger()
	}

	db, err := storage.Open(dataDir, logger)
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &env{dataDir: dataDir, cfg: cfg, db: db, logs: logs, logger: logger}, nil
}

func resolveDataDir() (string, error) {
	if dataDirFlag == "" {
		return paths.EnsureHome()
	}
	if err := os.MkdirAll(dataDirFlag, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dataDirFlag, nil
}

func (e *env) Close() {
	if err := e.db.Close(); err != nil {
		e.logger.Warn("Failed to close database", "error", err.Error())
	}
	_ = e.logs.Close()
}

func (e *env) openCache() (*cache.Cache, error) {
	return cache.New(e.db, e.cfg.Cache.Codec, e.logger)
}

// newOrchestrator wires the change detector, analysis backend and spend
// tracker around c. collector may be nil.
func (e *env) newOrchestrator(c *cache.Cache, collector *metrics.Collector) (*scan.Orchestrator, error) {
	prompt, err := analysis.LoadPrompt(e.cfg.Analysis.PromptTemplate)
	if err != nil {
		return nil, errors.New(errors.ConfigInvalid, "invalid prompt template", err)
	}
	backend, err := analysis.NewBackend(e.cfg.Analysis, prompt)
	if err != nil {
		return nil, errors.New(errors.BackendFatal, "failed to create analysis backend", err)
	}
	opts, err := scan.OptionsFromConfig(e.cfg)
	if err != nil {
		return nil, err
	}

	filter := changes.NewFilter(e.cfg.Scan.Extensions, e.cfg.Scan.MaxFileSizeBytes)
	return scan.New(scan.Deps{
		DB:         e.db,
		Detector:   changes.NewDetector(filter, e.logger),
		Cache:      c,
		Backend:    backend,
		PromptHash: prompt.Hash(),
		Spend:      budget.NewSpendTracker(e.db, e.cfg.Budget.DailyBudget, e.cfg.Budget.MonthlyBudget),
		Metrics:    collector,
		Logger:     e.logger,
	}, opts), nil
}
