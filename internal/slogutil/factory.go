package slogutil

import (
	"io"
	"log/slog"

	"devscan/internal/config"
	"devscan/internal/paths"
)

// LoggerFactory creates configured loggers for the daemon and scan subsystems.
// Level precedence: CLI flag > subsystem config > global config > info.
type LoggerFactory struct {
	dataDir  string
	config   config.LoggingConfig
	cliLevel *slog.Level
	closers  []io.Closer
}

// NewLoggerFactory creates a new logger factory rooted at dataDir.
func NewLoggerFactory(dataDir string, cfg config.LoggingConfig) *LoggerFactory {
	return &LoggerFactory{dataDir: dataDir, config: cfg}
}

// WithCLILevel pins every logger produced by the factory to level.
func (f *LoggerFactory) WithCLILevel(level slog.Level) *LoggerFactory {
	f.cliLevel = &level
	return f
}

// DaemonLogger writes to <dataDir>/logs/daemon.log and, when console is
// non-nil, mirrors every record there as well.
func (f *LoggerFactory) DaemonLogger(console io.Writer) *slog.Logger {
	level := f.effectiveLevel("daemon")

	handlers := make([]slog.Handler, 0, 2)
	if console != nil {
		handlers = append(handlers, NewLineHandler(console, &slog.HandlerOptions{Level: level}))
	}
	if h := f.fileHandler(paths.GetDaemonLogPath(f.dataDir), level); h != nil {
		handlers = append(handlers, h)
	}

	if len(handlers) == 0 {
		return NewDiscardLogger()
	}
	return NewTeeLogger(handlers...)
}

// ScanLogger writes to <dataDir>/logs/scan.log. It is used by one-shot scans
// started from the CLI; failures to open the file degrade to a discard logger.
func (f *LoggerFactory) ScanLogger() *slog.Logger {
	h := f.fileHandler(paths.GetScanLogPath(f.dataDir), f.effectiveLevel("scan"))
	if h == nil {
		return NewDiscardLogger()
	}
	return slog.New(h)
}

func (f *LoggerFactory) fileHandler(path string, level slog.Level) slog.Handler {
	if f.dataDir == "" {
		return nil
	}
	w, err := NewRotatingWriter(path, f.config.MaxSize, f.config.MaxBackups)
	if err != nil {
		return nil
	}
	f.closers = append(f.closers, w)
	return NewHandler(w, level, f.config.Format)
}

func (f *LoggerFactory) effectiveLevel(subsystem string) slog.Level {
	if f.cliLevel != nil {
		return *f.cliLevel
	}

	var subsystemLevel string
	switch subsystem {
	case "daemon":
		subsystemLevel = f.config.Daemon
	case "scan":
		subsystemLevel = f.config.Scan
	}
	if subsystemLevel != "" {
		return LevelFromString(subsystemLevel)
	}

	if f.config.Level != "" {
		return LevelFromString(f.config.Level)
	}
	return slog.LevelInfo
}

// Close closes all open log files.
func (f *LoggerFactory) Close() error {
	var firstErr error
	for _, c := range f.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.closers = nil
	return firstErr
}
