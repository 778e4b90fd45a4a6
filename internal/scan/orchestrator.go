// Package scan runs incremental analysis cycles over registered repositories.
package scan

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"devscan/internal/analysis"
	"devscan/internal/budget"
	"devscan/internal/cache"
	"devscan/internal/changes"
	"devscan/internal/checkpoint"
	"devscan/internal/errors"
	"devscan/internal/metrics"
	"devscan/internal/slogutil"
	"devscan/internal/storage"
)

const tracerName = "devscan/scan"

// ErrCycleRunning is returned when a cycle for the repository is already
// in progress.
var ErrCycleRunning = stderrors.New("scan cycle already running")

// Deps are the collaborators of an Orchestrator. Spend, Metrics and
// Tracer are optional.
type Deps struct {
	DB         *storage.DB
	Detector   *changes.Detector
	Cache      *cache.Cache
	Backend    analysis.Backend
	PromptHash string
	Spend      *budget.SpendTracker
	Metrics    *metrics.Collector
	Tracer     trace.Tracer
	Logger     *slog.Logger
}

// Orchestrator drives scan cycles. Cycles of different repositories may run
// concurrently; a repository never has two cycles at once.
type Orchestrator struct {
	db          *storage.DB
	detector    *changes.Detector
	cache       *cache.Cache
	checkpoints *checkpoint.Store
	backend     analysis.Backend
	promptHash  string
	spend       *budget.SpendTracker
	metrics     *metrics.Collector
	tracer      trace.Tracer
	logger      *slog.Logger
	opts        Options
	now         func() time.Time

	mu      sync.Mutex
	running map[string]bool
}

// New creates an orchestrator.
func New(d Deps, opts Options) *Orchestrator {
	opts.normalize()
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer(tracerName)
	}
	return &Orchestrator{
		db:          d.DB,
		detector:    d.Detector,
		cache:       d.Cache,
		checkpoints: checkpoint.NewStore(d.DB),
		backend:     d.Backend,
		promptHash:  d.PromptHash,
		spend:       d.Spend,
		metrics:     d.Metrics,
		tracer:      d.Tracer,
		logger:      d.Logger,
		opts:        opts,
		now:         time.Now,
		running:     make(map[string]bool),
	}
}

// IsRunning reports whether a cycle for repoID is in progress.
func (o *Orchestrator) IsRunning(repoID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running[repoID]
}

func (o *Orchestrator) acquire(repoID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running[repoID] {
		return false
	}
	o.running[repoID] = true
	return true
}

func (o *Orchestrator) release(repoID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, repoID)
}

// ForceRescan clears the committed reference, the attempt timestamp and
// the checkpoint, so the next cycle treats every file as changed, starts
// at the first file and runs immediately.
func (o *Orchestrator) ForceRescan(repoID string) error {
	err := o.db.WithTx(func(tx *sql.Tx) error {
		return storage.ForceRescan(tx, repoID)
	})
	if stderrors.Is(err, storage.ErrNotFound) {
		return errors.New(errors.RepoNotFound, fmt.Sprintf("repository '%s' not found", repoID), err)
	}
	return err
}

// keyFor returns the cache key of content hashed to contentHash under the
// current analysis settings.
func (o *Orchestrator) keyFor(contentHash string) cache.Key {
	return cache.Key{
		ContentHash:   contentHash,
		ModelID:       o.backend.Identity(),
		PromptHash:    o.promptHash,
		SchemaVersion: o.opts.SchemaVersion,
		ConfigHash:    o.opts.ConfigHash,
	}
}

// RunCycle runs one scan cycle for repoID. Cycle outcomes, including
// failures, are reported in the result; the error is non-nil only when
// the cycle could not start or its outcome could not be recorded.
func (o *Orchestrator) RunCycle(ctx context.Context, repoID string) (*CycleResult, error) {
	if !o.acquire(repoID) {
		return nil, ErrCycleRunning
	}
	defer o.release(repoID)
	o.metrics.Running(1)
	defer o.metrics.Running(-1)

	repo, err := storage.GetRepository(o.db, repoID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.New(errors.RepoNotFound, fmt.Sprintf("repository '%s' not found", repoID), err)
	}
	if err != nil {
		return nil, err
	}

	start := o.now()
	if err := storage.MarkAttempt(o.db, repoID, start); err != nil {
		return nil, err
	}

	ceiling, withinBudget := o.opts.PerRunCeiling, true
	if o.spend != nil {
		if ceiling, withinBudget, err = o.spend.EffectiveCeiling(ceiling); err != nil {
			return nil, fmt.Errorf("reading cumulative spend: %w", err)
		}
	}

	ctx, span := o.tracer.Start(ctx, "scan.cycle", trace.WithAttributes(
		attribute.String("repo.id", repoID),
	))
	defer span.End()

	runID := uuid.NewString()
	c := &cycle{
		o:      o,
		repo:   repo,
		ledger: budget.NewLedger(ceiling),
		res: &CycleResult{
			RunID:   runID,
			RepoID:  repoID,
			State:   StateIdle,
			Ceiling: ceiling,
		},
		logger: o.logger.With(slogutil.RepoKey, repoID, slogutil.RunKey, runID),
	}
	if repo.LastCommittedReference != nil {
		c.res.ReferenceFrom = *repo.LastCommittedReference
	}
	c.run = &storage.ScanRun{
		RunID:         c.res.RunID,
		RepoID:        repoID,
		StartedAt:     start,
		Ceiling:       ceiling,
		ReferenceFrom: c.res.ReferenceFrom,
	}
	if err := storage.InsertRun(o.db, c.run); err != nil {
		return nil, err
	}

	if withinBudget {
		c.execute(ctx)
	} else {
		c.res.State = StateBudgetHalted
		c.res.Err = errors.New(errors.BudgetExceeded, "daily or monthly budget exhausted", nil)
	}

	finishErr := c.finish()
	c.res.Duration = o.now().Sub(start)

	span.SetAttributes(
		attribute.String("run.id", c.res.RunID),
		attribute.String("scan.outcome", string(c.res.State)),
		attribute.Int("files.total", c.res.FilesTotal),
		attribute.Int("files.analyzed", c.res.Analyzed),
		attribute.Int("files.cached", c.res.Cached),
		attribute.Float64("cost.spent", c.res.Spent),
	)
	if c.res.Err != nil && c.res.State != StateCompleted {
		span.RecordError(c.res.Err)
		if c.res.State == StateFailed {
			span.SetStatus(codes.Error, c.res.Err.Error())
		}
	}
	o.metrics.ObserveCycle(string(c.res.State), c.res.Duration)
	c.log()

	if finishErr != nil {
		return c.res, finishErr
	}
	return c.res, nil
}

// cycle is the state of one RunCycle call.
type cycle struct {
	o      *Orchestrator
	repo   *storage.Repository
	ledger *budget.Ledger
	res    *CycleResult
	run    *storage.ScanRun
	cp     *checkpoint.Checkpoint
	logger *slog.Logger

	files     []changes.ChangedFile
	reference string
}

func (c *cycle) execute(ctx context.Context) {
	c.res.State = StateDiffing
	files, ref, err := c.o.detector.Detect(ctx, c.repo)
	if err != nil {
		c.res.State = StateFailed
		if ctx.Err() != nil {
			c.res.State = StatePartial
		}
		c.res.Err = err
		return
	}
	c.files, c.reference = files, ref
	c.res.FilesTotal = len(files)
	c.res.ReferenceTo = ref
	c.run.FilesTotal = len(files)

	if len(files) == 0 {
		c.res.State = StateCompleted
		return
	}

	list := checkpoint.List{
		Files:    make([]checkpoint.File, len(files)),
		Settings: c.o.keyFor("").SettingsDigest(),
	}
	for i, f := range files {
		list.Files[i] = checkpoint.File{Path: f.Path, Size: f.Size, ModTime: f.ModTime}
	}
	cp, rp, err := c.o.checkpoints.Begin(c.repo.ID, c.res.RunID, list)
	if err != nil {
		c.res.State = StateFailed
		c.res.Err = errors.New(errors.InternalError, "failed to open checkpoint", err)
		return
	}
	c.cp = cp
	c.res.ResumeIndex = rp.NextIndex
	c.res.NextIndex = rp.NextIndex
	if rp.ListChanged {
		c.logger.Info("Changed-file list differs from checkpoint, restarting at first file",
			"carriedCost", rp.AccumulatedCost,
		)
	} else if rp.NextIndex > 0 {
		c.logger.Info("Resuming from checkpoint", "index", rp.NextIndex, "lastFile", rp.LastFile)
	}

	c.res.State = StateProcessing
	c.process(ctx, rp.NextIndex)
	if c.res.State == StateProcessing {
		c.res.State = StateCompleted
	}
}

// finish persists the terminal state. Only a completed cycle commits the
// reference and clears the checkpoint.
func (c *cycle) finish() error {
	ended := c.o.now()
	c.run.EndedAt = &ended
	c.run.Outcome = string(c.res.State)
	c.run.Spent = c.ledger.Spent()
	c.run.HaltedOnBudget = c.res.State == StateBudgetHalted
	c.res.Spent = c.run.Spent
	if c.cp != nil {
		c.res.AccumulatedCost = c.cp.AccumulatedCost()
	}

	if c.res.State == StateCompleted {
		c.run.ReferenceTo = c.reference
		if err := c.o.checkpoints.Commit(c.repo.ID, c.reference, c.run); err != nil {
			c.res.State = StateFailed
			c.res.Err = errors.New(errors.InternalError, "failed to commit scan", err)
			return c.recordIncomplete()
		}
		c.res.Committed = true
		return nil
	}
	return c.recordIncomplete()
}

func (c *cycle) recordIncomplete() error {
	c.run.Outcome = string(c.res.State)
	c.run.FilesFailed = c.res.Unprocessed()
	if c.res.Err != nil {
		c.run.Error = c.res.Err.Error()
	}
	return c.o.db.WithTx(func(tx *sql.Tx) error {
		if err := storage.UpdateRun(tx, c.run); err != nil {
			return err
		}
		return storage.RecordOutcome(tx, c.repo.ID, c.run.Outcome, c.run.Error)
	})
}

func (c *cycle) log() {
	attrs := []any{
		"outcome", string(c.res.State),
		"files", c.res.FilesTotal,
		"analyzed", c.res.Analyzed,
		"cached", c.res.Cached,
		"skipped", c.res.Skipped,
		"failed", c.res.Failed,
		"spent", c.res.Spent,
		"duration", c.res.Duration.String(),
	}
	switch c.res.State {
	case StateCompleted:
		c.logger.Info("Scan cycle completed", attrs...)
	case StateFailed:
		c.logger.Error("Scan cycle failed", append(attrs, "error", errString(c.res.Err))...)
	default:
		c.logger.Warn("Scan cycle stopped early", append(attrs,
			"nextIndex", c.res.NextIndex,
			"error", errString(c.res.Err),
		)...)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
