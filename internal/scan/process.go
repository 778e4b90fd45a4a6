package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"devscan/internal/analysis"
	"devscan/internal/cache"
	"devscan/internal/changes"
	"devscan/internal/checkpoint"
	"devscan/internal/errors"
	"devscan/internal/storage"
)

// itemKind is how a dispatched file resolved.
type itemKind int

const (
	itemCached itemKind = iota
	itemSkipped
	itemAnalyzed
	itemHalted    // the ledger refused the reservation
	itemExhausted // transient errors outlasted the retry policy
	itemFatal     // the cycle cannot continue
	itemCancelled // shutdown
)

// pending is one file travelling from the dispatcher to the committer.
// Fields other than index and file are written before done is closed.
type pending struct {
	index int
	file  changes.ChangedFile
	done  chan struct{}

	kind     itemKind
	key      cache.Key
	skip     string
	req      *analysis.Request
	reserved float64
	resp     *analysis.Response
	err      error
}

func (p *pending) resolve(kind itemKind) {
	p.kind = kind
	close(p.done)
}

// process handles files[from:]. The dispatcher resolves cache hits and
// skips inline and starts up to MaxInFlight analysis calls; the committer
// advances the checkpoint strictly in list order. A file whose retries run
// out does not stop the cycle: later files are still analyzed and cached,
// but the checkpoint stays at the first failed index and the cycle ends
// partial.
func (c *cycle) process(ctx context.Context, from int) {
	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()
	callCtx, cancelCalls := context.WithCancel(ctx)
	defer cancelCalls()

	queue := make(chan *pending, c.o.opts.MaxInFlight)
	sem := semaphore.NewWeighted(int64(c.o.opts.MaxInFlight))
	var calls sync.WaitGroup

	go c.dispatch(dispatchCtx, callCtx, from, queue, sem, &calls)

	var (
		stopped bool
		failed  []*pending // exhausted files, in list order
	)
	for p := range queue {
		<-p.done
		if stopped {
			c.abandon(p)
			continue
		}

		switch p.kind {
		case itemCached, itemSkipped, itemAnalyzed:
			if len(failed) > 0 {
				c.settle(p)
				continue
			}
			if err := c.commit(p); err != nil {
				c.stop(StateFailed, errors.New(errors.InternalError, "failed to advance checkpoint", err))
				stopped = true
			}
		case itemHalted:
			c.stop(StateBudgetHalted, errors.New(errors.BudgetExceeded,
				fmt.Sprintf("ceiling $%.4f reached before %s", c.ledger.Ceiling(), p.file.Path), nil))
			stopped = true
		case itemExhausted:
			c.logger.Warn("Retries exhausted, continuing with later files",
				"file", p.file.Path,
				"index", p.index,
				"error", p.err.Error(),
			)
			c.res.Failed++
			failed = append(failed, p)
		case itemFatal:
			c.abandon(p)
			c.stop(StateFailed, p.err)
			cancelCalls()
			stopped = true
		case itemCancelled:
			c.stop(StatePartial, fmt.Errorf("interrupted before %s: %w", p.file.Path, p.err))
			stopped = true
		}
		if stopped {
			stopDispatch()
		}
	}
	calls.Wait()

	if !stopped && len(failed) > 0 {
		first := failed[0]
		c.stop(StatePartial, errors.New(errors.BackendTransient,
			fmt.Sprintf("retries exhausted for %d file(s), first %s", len(failed), first.file.Path), first.err))
	}
}

func (c *cycle) stop(state State, err error) {
	c.res.State = state
	c.res.Err = err
}

// dispatch walks the list in order and always sends every item it
// creates; the committer drains the queue until it is closed.
func (c *cycle) dispatch(ctx, callCtx context.Context, from int, queue chan<- *pending, sem *semaphore.Weighted, calls *sync.WaitGroup) {
	defer close(queue)
	for i := from; i < len(c.files); i++ {
		p := &pending{index: i, file: c.files[i], done: make(chan struct{})}
		more := c.prepare(ctx, callCtx, p, sem, calls)
		queue <- p
		if !more {
			return
		}
	}
}

// prepare resolves p or starts its analysis call. It returns false when
// dispatching must stop.
func (c *cycle) prepare(ctx, callCtx context.Context, p *pending, sem *semaphore.Weighted, calls *sync.WaitGroup) bool {
	if err := ctx.Err(); err != nil {
		p.err = err
		p.resolve(itemCancelled)
		return false
	}

	content, err := os.ReadFile(filepath.Join(c.repo.RootPath, filepath.FromSlash(p.file.Path)))
	if err != nil {
		c.logger.Warn("Cannot read file, skipping", "file", p.file.Path, "error", err.Error())
		p.skip = changes.SkipUnreadable
		p.resolve(itemSkipped)
		return true
	}
	if reason := changes.ContentSkipReason(content); reason != "" {
		c.logger.Debug("Skipping file", "file", p.file.Path, "reason", reason)
		p.skip = reason
		p.resolve(itemSkipped)
		return true
	}

	p.key = c.o.keyFor(cache.HashContent(content))
	if _, hit, err := c.o.cache.Get(p.key); err != nil {
		c.logger.Warn("Cache lookup failed, treating as miss", "file", p.file.Path, "error", err.Error())
	} else if hit {
		p.resolve(itemCached)
		return true
	}

	p.req = &analysis.Request{
		RepoID:     c.repo.ID,
		Path:       p.file.Path,
		Content:    content,
		ChangeType: string(p.file.ChangeType),
		Added:      p.file.Added,
		Deleted:    p.file.Deleted,
	}
	estimate := c.o.backend.EstimateCost(p.req)

	if err := sem.Acquire(ctx, 1); err != nil {
		p.err = err
		p.resolve(itemCancelled)
		return false
	}
	if !c.ledger.Reserve(estimate) {
		sem.Release(1)
		p.resolve(itemHalted)
		return false
	}
	p.reserved = estimate

	calls.Add(1)
	go func() {
		defer calls.Done()
		defer sem.Release(1)
		c.analyze(callCtx, p)
	}()
	return true
}

// analyze calls the backend with retries and resolves p.
func (c *cycle) analyze(ctx context.Context, p *pending) {
	ctx, span := c.o.tracer.Start(ctx, "scan.analyze", trace.WithAttributes(
		attribute.String("file.path", p.file.Path),
		attribute.Float64("cost.reserved", p.reserved),
	))
	defer span.End()

	var resp *analysis.Response
	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.o.opts.CallTimeout)
		defer cancel()

		c.o.metrics.InFlight(1)
		started := time.Now()
		r, err := c.o.backend.Analyze(attemptCtx, p.req)
		c.o.metrics.ObserveCall(time.Since(started))
		c.o.metrics.InFlight(-1)

		if err != nil {
			ae := analysis.Classify(err)
			if ae.Kind == analysis.Fatal || ctx.Err() != nil {
				return backoff.Permanent(ae)
			}
			return ae
		}
		resp = r
		return nil
	}

	err := backoff.RetryNotify(op, c.newBackOff(ctx), func(err error, wait time.Duration) {
		c.o.metrics.AddRetry()
		c.logger.Warn("Retrying analysis call",
			"file", p.file.Path,
			"wait", wait.String(),
			"error", err.Error(),
		)
	})

	switch {
	case err == nil:
		c.ledger.Charge(resp.Cost, p.reserved)
		c.o.metrics.AddCharge(resp.Cost, resp.Usage.InputTokens, resp.Usage.OutputTokens)
		p.resp = resp
		span.SetAttributes(attribute.Float64("cost.actual", resp.Cost))

		tokens := cache.Tokens{Input: resp.Usage.InputTokens, Output: resp.Usage.OutputTokens}
		if setErr := c.o.cache.Set(p.key, c.repo.ID, resp.Payload, tokens, resp.Cost); setErr != nil {
			p.err = errors.New(errors.InternalError, "failed to store analysis result", setErr)
			span.RecordError(setErr)
			p.resolve(itemFatal)
			return
		}
		p.resolve(itemAnalyzed)

	case ctx.Err() != nil:
		c.ledger.Release(p.reserved)
		p.err = ctx.Err()
		p.resolve(itemCancelled)

	case analysis.IsFatal(err):
		c.ledger.Release(p.reserved)
		span.RecordError(err)
		p.err = errors.New(errors.BackendFatal, fmt.Sprintf("analysis of %s failed", p.file.Path), err)
		p.resolve(itemFatal)

	default:
		c.ledger.Release(p.reserved)
		span.RecordError(err)
		p.err = err
		p.resolve(itemExhausted)
	}
}

func (c *cycle) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.o.opts.InitialBackoff
	eb.MaxInterval = c.o.opts.MaxBackoff
	eb.MaxElapsedTime = 0
	retries := uint64(c.o.opts.MaxAttempts - 1)
	return backoff.WithContext(backoff.WithMaxRetries(eb, retries), ctx)
}

// commit advances the checkpoint past p together with its ledger rows.
func (c *cycle) commit(p *pending) error {
	prog := checkpoint.Progress{
		Index: p.index,
		File:  p.file.Path,
	}

	run := *c.run
	switch p.kind {
	case itemCached:
		prog.Outcome = checkpoint.Cached
		prog.CacheKey = p.key.Digest()
		run.FilesCached++
	case itemSkipped:
		prog.Outcome = checkpoint.Skipped
		prog.SkipReason = p.skip
		run.FilesSkipped++
	case itemAnalyzed:
		prog.Outcome = checkpoint.Analyzed
		prog.CacheKey = p.key.Digest()
		prog.Cost = p.resp.Cost
		prog.CostRecord = c.costRecord(p)
		run.FilesAnalyzed++
	}
	run.Spent = c.ledger.Spent()
	prog.Run = &run

	if err := c.cp.Advance(prog); err != nil {
		return err
	}
	*c.run = run

	switch p.kind {
	case itemCached:
		c.res.Cached++
	case itemSkipped:
		c.res.Skipped++
	case itemAnalyzed:
		c.res.Analyzed++
	}
	c.res.NextIndex = c.cp.NextIndex()
	c.o.metrics.AddFile(prog.Outcome.String())
	return nil
}

// settle handles a resolved item behind a failed file. The checkpoint
// cannot pass the failure, so the item is only counted and its cost
// logged; the next cycle finds its analysis in the cache.
func (c *cycle) settle(p *pending) {
	var outcome checkpoint.FileOutcome
	switch p.kind {
	case itemCached:
		c.res.Cached++
		outcome = checkpoint.Cached
	case itemSkipped:
		c.res.Skipped++
		outcome = checkpoint.Skipped
	case itemAnalyzed:
		c.res.Analyzed++
		outcome = checkpoint.Analyzed
	}
	c.o.metrics.AddFile(outcome.String())
	c.abandon(p)
}

// abandon handles an item that will not advance the checkpoint. A
// finished analysis was paid for, so its cost is logged anyway; its result
// is normally cached for the next cycle.
func (c *cycle) abandon(p *pending) {
	if p.resp == nil {
		return
	}
	if err := storage.RecordCost(c.o.db, c.costRecord(p)); err != nil {
		c.logger.Error("Failed to record cost of abandoned analysis", "file", p.file.Path, "error", err.Error())
	}
}

func (c *cycle) costRecord(p *pending) *storage.CostRecord {
	return &storage.CostRecord{
		RepoID:       c.repo.ID,
		RunID:        c.res.RunID,
		FilePath:     p.file.Path,
		ModelID:      p.resp.Model,
		InputTokens:  p.resp.Usage.InputTokens,
		OutputTokens: p.resp.Usage.OutputTokens,
		Cost:         p.resp.Cost,
		RecordedAt:   c.o.now(),
	}
}
