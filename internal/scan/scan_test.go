package scan

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devscan/internal/analysis"
	"devscan/internal/budget"
	"devscan/internal/cache"
	"devscan/internal/changes"
	"devscan/internal/errors"
	"devscan/internal/metrics"
	"devscan/internal/slogutil"
	"devscan/internal/storage"
)

// fakeBackend charges a fixed cost per file. hook, when set, runs before
// every call and its error is returned as the call's error.
type fakeBackend struct {
	mu       sync.Mutex
	estimate float64
	cost     float64
	hook     func(ctx context.Context, path string, attempt int) error

	calls    map[string]int
	order    []string
	inFlight int
	peak     int
}

func newFakeBackend(estimate, cost float64) *fakeBackend {
	return &fakeBackend{estimate: estimate, cost: cost, calls: make(map[string]int)}
}

func (f *fakeBackend) Analyze(ctx context.Context, req *analysis.Request) (*analysis.Response, error) {
	f.mu.Lock()
	f.calls[req.Path]++
	attempt := f.calls[req.Path]
	f.order = append(f.order, req.Path)
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	hook := f.hook
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if hook != nil {
		if err := hook(ctx, req.Path, attempt); err != nil {
			return nil, err
		}
	}
	return &analysis.Response{
		Payload: []byte(fmt.Sprintf(`{"path":%q}`, req.Path)),
		Usage:   budget.Usage{InputTokens: 100, OutputTokens: 20},
		Cost:    f.cost,
		Model:   "fake-model",
	}, nil
}

func (f *fakeBackend) EstimateCost(*analysis.Request) float64 { return f.estimate }

func (f *fakeBackend) Identity() string { return "fake:model" }

func (f *fakeBackend) callCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *fakeBackend) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order)
}

type fixture struct {
	t       *testing.T
	db      *storage.DB
	cache   *cache.Cache
	backend *fakeBackend
	root    string
	repoID  string
}

func newFixture(t *testing.T, backend *fakeBackend, files map[string]string) *fixture {
	t.Helper()
	db, err := storage.Open(t.TempDir(), slogutil.NewDiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	c, err := cache.New(db, cache.CodecZstd, slogutil.NewDiscardLogger())
	require.NoError(t, err)

	root := t.TempDir()
	f := &fixture{t: t, db: db, cache: c, backend: backend, root: root, repoID: "demo"}
	for name, content := range files {
		f.write(name, content)
	}

	require.NoError(t, storage.UpsertRepository(db, &storage.Repository{
		ID:           f.repoID,
		Name:         "demo",
		RootPath:     root,
		ScanEnabled:  true,
		IntervalExpr: "1h",
		ScanInterval: time.Hour,
	}))
	return f
}

func (f *fixture) write(name, content string) {
	f.t.Helper()
	path := filepath.Join(f.root, filepath.FromSlash(name))
	require.NoError(f.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(f.t, os.WriteFile(path, []byte(content), 0o644))
}

func (f *fixture) orchestrator(opts Options, spend *budget.SpendTracker) *Orchestrator {
	if opts.InitialBackoff == 0 {
		opts.InitialBackoff = time.Millisecond
		opts.MaxBackoff = 5 * time.Millisecond
	}
	if opts.ConfigHash == "" {
		opts.ConfigHash = cache.HashBytes([]byte("test-config"))
	}
	return New(Deps{
		DB:         f.db,
		Detector:   changes.NewDetector(changes.NewFilter([]string{".go"}, 0), nil),
		Cache:      f.cache,
		Backend:    f.backend,
		PromptHash: cache.HashBytes([]byte("prompt")),
		Spend:      spend,
		Metrics:    metrics.New(),
	}, opts)
}

func (f *fixture) repo() *storage.Repository {
	f.t.Helper()
	r, err := storage.GetRepository(f.db, f.repoID)
	require.NoError(f.t, err)
	return r
}

func threeFiles() map[string]string {
	return map[string]string{
		"a.go": "package a\n\nfunc A() {}\n",
		"b.go": "package b\n\nfunc B() {}\n",
		"c.go": "package c\n\nfunc C() {}\n",
	}
}

func TestRunCycle_BudgetHaltKeepsReference(t *testing.T) {
	f := newFixture(t, newFakeBackend(0.10, 0.10), threeFiles())
	o := f.orchestrator(Options{MaxInFlight: 1, MaxAttempts: 1, PerRunCeiling: 0.25}, nil)

	res, err := o.RunCycle(context.Background(), f.repoID)
	require.NoError(t, err)

	assert.Equal(t, StateBudgetHalted, res.State)
	assert.Equal(t, 3, res.FilesTotal)
	assert.Equal(t, 2, res.Analyzed)
	assert.Equal(t, 2, res.NextIndex)
	assert.Equal(t, 1, res.Unprocessed())
	assert.InDelta(t, 0.20, res.Spent, 1e-9)
	assert.LessOrEqual(t, res.Spent, 0.25)
	assert.False(t, res.Committed)
	assert.True(t, errors.Is(res.Err, errors.BudgetExceeded))
	assert.Equal(t, 0, f.backend.callCount("c.go"))

	repo := f.repo()
	assert.Nil(t, repo.LastCommittedReference)
	assert.Equal(t, string(StateBudgetHalted), repo.LastOutcome)

	cp, err := storage.GetCheckpoint(f.db, f.repoID)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 2, cp.NextIndex)
	assert.Equal(t, "b.go", cp.LastFile)

	run, err := storage.GetRun(f.db, res.RunID)
	require.NoError(t, err)
	assert.True(t, run.HaltedOnBudget)
	assert.Equal(t, 2, run.FilesAnalyzed)
	assert.Equal(t, 1, run.FilesFailed)
	require.NotNil(t, run.EndedAt)

	cost, err := storage.RunCost(f.db, res.RunID)
	require.NoError(t, err)
	assert.InDelta(t, 0.20, cost, 1e-9)
}

func TestRunCycle_ResumesAfterHalt(t *testing.T) {
	f := newFixture(t, newFakeBackend(0.10, 0.10), threeFiles())
	o := f.orchestrator(Options{MaxInFlight: 1, MaxAttempts: 1, PerRunCeiling: 0.25}, nil)

	first, err := o.RunCycle(context.Background(), f.repoID)
	require.NoError(t, err)
	require.Equal(t, StateBudgetHalted, first.State)

	second, err := o.RunCycle(context.Background(), f.repoID)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, second.State)
	assert.Equal(t, 2, second.ResumeIndex)
	assert.Equal(t, 1, second.Analyzed)
	assert.InDelta(t, 0.10, second.Spent, 1e-9)
	assert.InDelta(t, 0.30, second.AccumulatedCost, 1e-9)
	assert.True(t, second.Committed)

	// a.go and b.go are never re-analyzed.
	assert.Equal(t, 1, f.backend.callCount("a.go"))
	assert.Equal(t, 1, f.backend.callCount("b.go"))
	assert.Equal(t, 1, f.backend.callCount("c.go"))

	repo := f.repo()
	require.NotNil(t, repo.LastCommittedReference)
	assert.Equal(t, second.ReferenceTo, *repo.LastCommittedReference)
	assert.True(t, strings.HasPrefix(*repo.LastCommittedReference, changes.TreeReferencePrefix))
	assert.NotNil(t, repo.LastCompletedAt)

	cp, err := storage.GetCheckpoint(f.db, f.repoID)
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestRunCycle_EditAfterHaltRestartsList(t *testing.T) {
	f := newFixture(t, newFakeBackend(0.10, 0.10), threeFiles())
	o := f.orchestrator(Options{MaxInFlight: 1, MaxAttempts: 1, PerRunCeiling: 0.25}, nil)

	first, err := o.RunCycle(context.Background(), f.repoID)
	require.NoError(t, err)
	require.Equal(t, StateBudgetHalted, first.State)
	require.Equal(t, 2, first.NextIndex)

	// a.go sits below the checkpoint index; its new content must still be analyzed.
	f.write("a.go", "package a\n\nfunc A() int { return 42 }\n")

	second, err := o.RunCycle(context.Background(), f.repoID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, second.State)
	assert.Equal(t, 0, second.ResumeIndex)
	assert.Equal(t, 2, second.Analyzed, "edited a.go and c.go")
	assert.Equal(t, 1, second.Cached, "b.go")
	assert.Equal(t, 2, f.backend.callCount("a.go"))
	assert.Equal(t, 1, f.backend.callCount("b.go"))
	assert.InDelta(t, 0.40, second.AccumulatedCost, 1e-9)

	third, err := o.RunCycle(context.Background(), f.repoID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, third.State)
	assert.Equal(t, 0, third.FilesTotal)
}

func TestRunCycle_ForceRescanDropsCheckpoint(t *testing.T) {
	f := newFixture(t, newFakeBackend(0.10, 0.10), threeFiles())
	o := f.orchestrator(Options{MaxInFlight: 1, MaxAttempts: 1, PerRunCeiling: 0.25}, nil)

	first, err := o.RunCycle(context.Background(), f.repoID)
	require.NoError(t, err)
	require.Equal(t, StateBudgetHalted, first.State)

	require.NoError(t, o.ForceRescan(f.repoID))
	cp, err := storage.GetCheckpoint(f.db, f.repoID)
	require.NoError(t, err)
	assert.Nil(t, cp)

	second, err := o.RunCycle(context.Background(), f.repoID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, second.State)
	assert.Equal(t, 0, second.ResumeIndex)
	assert.Equal(t, 2, second.Cached)
	assert.Equal(t, 1, second.Analyzed)
	assert.InDelta(t, 0.10, second.AccumulatedCost, 1e-9, "no cost is carried past a forced rescan")
}

func TestRunCycle_UnchangedTreeIsEmptyCycle(t *testing.T) {
	f := newFixture(t, newFakeBackend(0.01, 0.01), threeFiles())
	o := f.orchestrator(Options{MaxInFlight: 2, MaxAttempts: 1}, nil)

	_, err := o.RunCycle(context.Background(), f.repoID)
	require.NoError(t, err)
	calls := f.backend.totalCalls()

	res, err := o.RunCycle(context.Background(), f.repoID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 0, res.FilesTotal)
	assert.True(t, res.Committed)
	assert.Equal(t, calls, f.backend.totalCalls())
}

func TestRunCycle_CacheHitsAreFree(t *testing.T) {
	f := newFixture(t, newFakeBackend(0.05, 0.05), threeFiles())
	o := f.orchestrator(Options{MaxInFlight: 2, MaxAttempts: 1}, nil)

	first, err := o.RunCycle(context.Background(), f.repoID)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, first.State)
	require.Equal(t, 3, first.Analyzed)

	require.NoError(t, o.ForceRescan(f.repoID))
	repo := f.repo()
	assert.Nil(t, repo.LastCommittedReference)
	assert.Nil(t, repo.LastScanAttemptAt)

	second, err := o.RunCycle(context.Background(), f.repoID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, second.State)
	assert.Equal(t, 3, second.Cached)
	assert.Equal(t, 0, second.Analyzed)
	assert.Zero(t, second.Spent)
	assert.Equal(t, 3, f.backend.totalCalls())

	stats, err := f.cache.Stats()
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Entries)
}

func TestRunCycle_ListChangeCarriesCost(t *testing.T) {
	f := newFixture(t, newFakeBackend(0.10, 0.10), threeFiles())
	o := f.orchestrator(Options{MaxInFlight: 1, MaxAttempts: 1, PerRunCeiling: 0.25}, nil)

	first, err := o.RunCycle(context.Background(), f.repoID)
	require.NoError(t, err)
	require.Equal(t, StateBudgetHalted, first.State)

	f.write("d.go", "package d\n\nfunc D() {}\n")

	second, err := o.RunCycle(context.Background(), f.repoID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, second.State)
	assert.Equal(t, 0, second.ResumeIndex)
	assert.Equal(t, 2, second.Cached, "a.go and b.go come from the cache")
	assert.Equal(t, 2, second.Analyzed)
	assert.InDelta(t, 0.40, second.AccumulatedCost, 1e-9)
}

func TestRunCycle_TransientRetriesRecover(t *testing.T) {
	b := newFakeBackend(0.01, 0.01)
	b.hook = func(_ context.Context, path string, attempt int) error {
		if path == "b.go" && attempt == 1 {
			return fmt.Errorf("API returned unexpected status code: 503")
		}
		return nil
	}
	f := newFixture(t, b, threeFiles())
	o := f.orchestrator(Options{MaxInFlight: 1, MaxAttempts: 3}, nil)

	res, err := o.RunCycle(context.Background(), f.repoID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 2, b.callCount("b.go"))
	assert.InDelta(t, 0.03, res.Spent, 1e-9)
}

func TestRunCycle_RetriesExhaustedIsPartial(t *testing.T) {
	b := newFakeBackend(0.01, 0.01)
	b.hook = func(_ context.Context, path string, _ int) error {
		if path == "b.go" {
			return fmt.Errorf("API returned unexpected status code: 429")
		}
		return nil
	}
	f := newFixture(t, b, threeFiles())
	o := f.orchestrator(Options{MaxInFlight: 1, MaxAttempts: 2}, nil)

	res, err := o.RunCycle(context.Background(), f.repoID)
	require.NoError(t, err)
	assert.Equal(t, StatePartial, res.State)
	assert.Equal(t, 1, res.NextIndex, "the checkpoint stops at the failed file")
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 2, b.callCount("b.go"))
	assert.Equal(t, 1, b.callCount("c.go"), "files after the failure are still analyzed")
	assert.Equal(t, 2, res.Analyzed)
	assert.True(t, errors.Is(res.Err, errors.BackendTransient))
	assert.InDelta(t, 0.02, res.Spent, 1e-9, "the failed file is not charged")
	assert.Nil(t, f.repo().LastCommittedReference)

	cost, err := storage.RunCost(f.db, res.RunID)
	require.NoError(t, err)
	assert.InDelta(t, 0.02, cost, 1e-9, "the c.go call is logged although the checkpoint did not pass it")

	cp, err := storage.GetCheckpoint(f.db, f.repoID)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 1, cp.NextIndex)

	b.hook = nil
	next, err := o.RunCycle(context.Background(), f.repoID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, next.State)
	assert.Equal(t, 1, next.ResumeIndex)
	assert.Equal(t, 1, next.Analyzed)
	assert.Equal(t, 1, next.Cached, "c.go comes from the cache")
	assert.Equal(t, 1, b.callCount("a.go"))
	assert.Equal(t, 1, b.callCount("c.go"))
}

func TestRunCycle_FatalErrorFails(t *testing.T) {
	b := newFakeBackend(0.01, 0.01)
	b.hook = func(_ context.Context, path string, _ int) error {
		if path == "a.go" {
			return fmt.Errorf("status code: 401: invalid api key")
		}
		return nil
	}
	f := newFixture(t, b, threeFiles())
	o := f.orchestrator(Options{MaxInFlight: 1, MaxAttempts: 5}, nil)

	res, err := o.RunCycle(context.Background(), f.repoID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.True(t, errors.Is(res.Err, errors.BackendFatal))
	assert.Equal(t, 1, b.callCount("a.go"), "fatal errors are not retried")
	assert.Equal(t, 0, res.NextIndex)

	repo := f.repo()
	assert.Equal(t, string(StateFailed), repo.LastOutcome)
	assert.NotEmpty(t, repo.LastError)
}

func TestRunCycle_ShutdownIsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := newFakeBackend(0.01, 0.01)
	b.hook = func(callCtx context.Context, path string, _ int) error {
		if path == "b.go" {
			cancel()
			<-callCtx.Done()
			return callCtx.Err()
		}
		return nil
	}
	f := newFixture(t, b, threeFiles())
	o := f.orchestrator(Options{MaxInFlight: 1, MaxAttempts: 3}, nil)

	res, err := o.RunCycle(ctx, f.repoID)
	require.NoError(t, err)
	assert.Equal(t, StatePartial, res.State)
	assert.Equal(t, 1, res.NextIndex)
	assert.Equal(t, 1, b.callCount("b.go"))
	assert.Equal(t, 0, b.callCount("c.go"))
	assert.Nil(t, f.repo().LastCommittedReference)

	cp, err := storage.GetCheckpoint(f.db, f.repoID)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 1, cp.NextIndex)
}

func TestRunCycle_OrderedCommitsWithConcurrency(t *testing.T) {
	files := make(map[string]string)
	for i := 0; i < 12; i++ {
		files[fmt.Sprintf("f%02d.go", i)] = fmt.Sprintf("package f\n\nconst N = %d\n", i)
	}
	b := newFakeBackend(0.01, 0.01)
	b.hook = func(_ context.Context, path string, _ int) error {
		// Earlier files finish last.
		var i int
		_, _ = fmt.Sscanf(path, "f%02d.go", &i)
		time.Sleep(time.Duration(12-i) * time.Millisecond)
		return nil
	}
	f := newFixture(t, b, files)
	o := f.orchestrator(Options{MaxInFlight: 3, MaxAttempts: 1}, nil)

	res, err := o.RunCycle(context.Background(), f.repoID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 12, res.Analyzed)
	assert.Equal(t, 12, res.NextIndex)
	assert.LessOrEqual(t, b.peak, 3)

	results, err := storage.ListFileResults(f.db, f.repoID)
	require.NoError(t, err)
	assert.Len(t, results, 12)
}

func TestRunCycle_SkipsMinifiedFiles(t *testing.T) {
	files := threeFiles()
	files["bundle.go"] = strings.Repeat("x", 2000)
	b := newFakeBackend(0.01, 0.01)
	f := newFixture(t, b, files)
	o := f.orchestrator(Options{MaxInFlight: 2, MaxAttempts: 1}, nil)

	res, err := o.RunCycle(context.Background(), f.repoID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 3, res.Analyzed)
	assert.Equal(t, 0, b.callCount("bundle.go"))

	fr, err := storage.GetFileResult(f.db, f.repoID, "bundle.go")
	require.NoError(t, err)
	assert.True(t, fr.Skipped)
	assert.Equal(t, changes.SkipMinified, fr.SkipReason)
}

func TestRunCycle_EmptyListCommits(t *testing.T) {
	f := newFixture(t, newFakeBackend(0.01, 0.01), map[string]string{
		"README.md": "# demo\n",
	})
	o := f.orchestrator(Options{MaxInFlight: 1, MaxAttempts: 1}, nil)

	res, err := o.RunCycle(context.Background(), f.repoID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 0, res.FilesTotal)
	assert.True(t, res.Committed)

	repo := f.repo()
	require.NotNil(t, repo.LastCommittedReference)
	assert.Equal(t, res.ReferenceTo, *repo.LastCommittedReference)
}

func TestRunCycle_CalendarBudgetExhausted(t *testing.T) {
	f := newFixture(t, newFakeBackend(0.01, 0.01), threeFiles())
	require.NoError(t, storage.RecordCost(f.db, &storage.CostRecord{
		RepoID:     f.repoID,
		RunID:      "earlier",
		FilePath:   "x.go",
		ModelID:    "fake-model",
		Cost:       1.0,
		RecordedAt: time.Now(),
	}))
	spend := budget.NewSpendTracker(f.db, 1.0, 0)
	o := f.orchestrator(Options{MaxInFlight: 1, MaxAttempts: 1, PerRunCeiling: 5}, spend)

	res, err := o.RunCycle(context.Background(), f.repoID)
	require.NoError(t, err)
	assert.Equal(t, StateBudgetHalted, res.State)
	assert.True(t, errors.Is(res.Err, errors.BudgetExceeded))
	assert.Zero(t, f.backend.totalCalls())
}

func TestRunCycle_CalendarBudgetNarrowsCeiling(t *testing.T) {
	f := newFixture(t, newFakeBackend(0.10, 0.10), threeFiles())
	require.NoError(t, storage.RecordCost(f.db, &storage.CostRecord{
		RepoID:     f.repoID,
		RunID:      "earlier",
		FilePath:   "x.go",
		ModelID:    "fake-model",
		Cost:       0.85,
		RecordedAt: time.Now(),
	}))
	spend := budget.NewSpendTracker(f.db, 1.0, 0)
	o := f.orchestrator(Options{MaxInFlight: 1, MaxAttempts: 1, PerRunCeiling: 5}, spend)

	res, err := o.RunCycle(context.Background(), f.repoID)
	require.NoError(t, err)
	assert.Equal(t, StateBudgetHalted, res.State)
	assert.InDelta(t, 0.15, res.Ceiling, 1e-9)
	assert.Equal(t, 1, res.Analyzed)
}

func TestRunCycle_RejectsConcurrentCycle(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	b := newFakeBackend(0.01, 0.01)
	var once sync.Once
	b.hook = func(_ context.Context, _ string, _ int) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}
	f := newFixture(t, b, threeFiles())
	o := f.orchestrator(Options{MaxInFlight: 1, MaxAttempts: 1}, nil)

	done := make(chan *CycleResult, 1)
	go func() {
		res, _ := o.RunCycle(context.Background(), f.repoID)
		done <- res
	}()

	<-started
	assert.True(t, o.IsRunning(f.repoID))
	_, err := o.RunCycle(context.Background(), f.repoID)
	assert.True(t, stderrors.Is(err, ErrCycleRunning))

	close(release)
	res := <-done
	require.NotNil(t, res)
	assert.Equal(t, StateCompleted, res.State)
	assert.False(t, o.IsRunning(f.repoID))
}

func TestRunCycle_UnknownRepository(t *testing.T) {
	f := newFixture(t, newFakeBackend(0.01, 0.01), threeFiles())
	o := f.orchestrator(Options{}, nil)

	_, err := o.RunCycle(context.Background(), "missing")
	assert.True(t, errors.Is(err, errors.RepoNotFound))
	assert.True(t, errors.Is(o.ForceRescan("missing"), errors.RepoNotFound))
}

func TestRunCycle_UnhealthyRootFails(t *testing.T) {
	f := newFixture(t, newFakeBackend(0.01, 0.01), threeFiles())
	require.NoError(t, os.RemoveAll(f.root))
	o := f.orchestrator(Options{}, nil)

	res, err := o.RunCycle(context.Background(), f.repoID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.True(t, errors.Is(res.Err, errors.RepoUnhealthy))
}

func TestState_Terminal(t *testing.T) {
	for _, s := range []State{StateCompleted, StateBudgetHalted, StateFailed, StatePartial} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []State{StateIdle, StateDiffing, StateProcessing} {
		assert.False(t, s.Terminal(), s)
	}
}

func TestOptions_Normalize(t *testing.T) {
	var o Options
	o.normalize()
	assert.Equal(t, 1, o.MaxInFlight)
	assert.Equal(t, 1, o.MaxAttempts)
	assert.Equal(t, time.Second, o.InitialBackoff)
	assert.Equal(t, time.Second, o.MaxBackoff)
	assert.Equal(t, 1, o.SchemaVersion)
}
