// Package scheduler drives periodic scan cycles for registered repositories.
package scheduler

import (
	"context"
	"time"

	"devscan/internal/config"
	"devscan/internal/scan"
)

// Runner runs scan cycles. *scan.Orchestrator implements it.
type Runner interface {
	RunCycle(ctx context.Context, repoID string) (*scan.CycleResult, error)
	IsRunning(repoID string) bool
}

// Config contains scheduler configuration
type Config struct {
	TickInterval       time.Duration // How often to check for due repositories
	MaxConcurrentRepos int

	// Cache eviction after each tick; disabled when CacheMaxBytes <= 0.
	CacheMaxBytes int64
	HighWatermark float64
	LowWatermark  float64
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() Config {
	return Config{
		TickInterval:       time.Minute,
		MaxConcurrentRepos: 2,
	}
}

// ConfigFrom derives scheduler settings from the loaded configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		TickInterval:       cfg.Scan.TickInterval,
		MaxConcurrentRepos: cfg.Scan.MaxConcurrentRepos,
		CacheMaxBytes:      cfg.Cache.MaxBytes,
		HighWatermark:      cfg.Cache.HighWatermark,
		LowWatermark:       cfg.Cache.LowWatermark,
	}
}

// TickSummary describes one tick.
type TickSummary struct {
	Due        int
	Dispatched []string
	// Skipped repositories were due but already running or over the
	// concurrency limit; they are picked up by a later tick.
	Skipped []string
	Evicted int
}
