package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"devscan/internal/cache"
	"devscan/internal/metrics"
	"devscan/internal/scan"
	"devscan/internal/slogutil"
	"devscan/internal/storage"
)

// Scheduler is the single periodic driver. Each tick dispatches due
// repositories, at most MaxConcurrentRepos at a time, then runs cache
// eviction.
type Scheduler struct {
	db      *storage.DB
	runner  Runner
	cache   *cache.Cache
	metrics *metrics.Collector
	logger  *slog.Logger
	config  Config
	sem     *semaphore.Weighted
	now     func() time.Time

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	loop   sync.WaitGroup

	mu     sync.Mutex
	active map[string]bool
}

// New creates a scheduler. c and m may be nil.
func New(db *storage.DB, runner Runner, c *cache.Cache, m *metrics.Collector, logger *slog.Logger, config Config) *Scheduler {
	if config.TickInterval <= 0 {
		config.TickInterval = time.Minute
	}
	if config.MaxConcurrentRepos <= 0 {
		config.MaxConcurrentRepos = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		db:      db,
		runner:  runner,
		cache:   c,
		metrics: m,
		logger:  logger,
		config:  config,
		sem:     semaphore.NewWeighted(int64(config.MaxConcurrentRepos)),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		active:  make(map[string]bool),
	}
}

// Start begins the scheduler loop
func (s *Scheduler) Start() error {
	s.logger.Info("Starting scheduler",
		"tickInterval", s.config.TickInterval.String(),
		"maxConcurrentRepos", s.config.MaxConcurrentRepos,
	)

	s.loop.Add(1)
	go s.run()

	return nil
}

// Stop stops dispatching and cancels running cycles, then waits up to
// timeout for them to record their outcome.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.logger.Info("Stopping scheduler")
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.loop.Wait()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("scheduler shutdown timed out after %s", timeout)
	}
}

// run is the main scheduler loop
func (s *Scheduler) run() {
	defer s.loop.Done()

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	// Run immediately on start
	s.Tick(s.ctx)

	for {
		select {
		case <-ticker.C:
			s.Tick(s.ctx)
		case <-s.ctx.Done():
			return
		}
	}
}

// Tick dispatches every due repository that is not already running while
// capacity remains, then runs cache eviction. Cycles run in the
// background; Tick does not wait for them.
func (s *Scheduler) Tick(ctx context.Context) *TickSummary {
	summary := &TickSummary{}
	if ctx.Err() != nil {
		return summary
	}

	due, err := storage.ListDueRepositories(s.db, s.now())
	if err != nil {
		s.logger.Error("Failed to list due repositories", "error", err.Error())
		return summary
	}
	summary.Due = len(due)

	for _, repo := range due {
		if s.isActive(repo.ID) || s.runner.IsRunning(repo.ID) {
			summary.Skipped = append(summary.Skipped, repo.ID)
			continue
		}
		if !s.sem.TryAcquire(1) {
			summary.Skipped = append(summary.Skipped, repo.ID)
			continue
		}
		s.setActive(repo.ID, true)
		summary.Dispatched = append(summary.Dispatched, repo.ID)

		s.wg.Add(1)
		go func(id string) {
			defer s.wg.Done()
			defer s.sem.Release(1)
			defer s.setActive(id, false)
			s.runCycle(ctx, id)
		}(repo.ID)
	}

	if len(summary.Dispatched) > 0 || len(summary.Skipped) > 0 {
		s.logger.Debug("Scheduler tick",
			"due", summary.Due,
			"dispatched", len(summary.Dispatched),
			"skipped", len(summary.Skipped),
		)
	}

	summary.Evicted = s.maintainCache()
	return summary
}

// RunNow runs one cycle for repoID immediately and waits for it. It counts
// against the concurrency limit like a scheduled cycle.
func (s *Scheduler) RunNow(repoID string) (*scan.CycleResult, error) {
	if err := s.ctx.Err(); err != nil {
		return nil, fmt.Errorf("scheduler stopped: %w", err)
	}
	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		return nil, fmt.Errorf("scheduler stopped: %w", err)
	}
	defer s.sem.Release(1)

	s.wg.Add(1)
	defer s.wg.Done()
	return s.runner.RunCycle(s.ctx, repoID)
}

// Wait blocks until every dispatched cycle has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runCycle(ctx context.Context, repoID string) {
	// Cycle outcomes are logged by the runner.
	_, err := s.runner.RunCycle(ctx, repoID)
	switch {
	case stderrors.Is(err, scan.ErrCycleRunning):
		s.logger.Debug("Cycle already running", slogutil.RepoKey, repoID)
	case err != nil:
		s.logger.Error("Scan cycle could not run", slogutil.RepoKey, repoID, "error", err.Error())
	}
}

// maintainCache evicts down to the low watermark and publishes cache
// gauges. It returns the number of evicted entries.
func (s *Scheduler) maintainCache() int {
	if s.cache == nil {
		return 0
	}

	evicted := 0
	if s.config.CacheMaxBytes > 0 {
		report, err := s.cache.EvictToWatermark(s.config.CacheMaxBytes, s.config.LowWatermark, s.config.HighWatermark)
		if err != nil {
			s.logger.Error("Cache eviction failed", "error", err.Error())
		} else {
			evicted = report.Evicted
			s.metrics.AddEvictions(report.Evicted)
		}
	}

	if s.metrics != nil {
		stats, err := s.cache.Stats()
		if err != nil {
			s.logger.Warn("Failed to read cache stats", "error", err.Error())
		} else {
			s.metrics.ObserveCache(stats.Entries, stats.Bytes, stats.HitRate())
		}
	}
	return evicted
}

func (s *Scheduler) isActive(repoID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[repoID]
}

func (s *Scheduler) setActive(repoID string, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v {
		s.active[repoID] = true
	} else {
		delete(s.active, repoID)
	}
}
