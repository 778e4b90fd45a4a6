package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"devscan/internal/config"
	"devscan/internal/errors"
	"devscan/internal/repos"
	"devscan/internal/scan"
	"devscan/internal/slogutil"
	"devscan/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	logger := slogutil.NewDiscardLogger()
	db, err := storage.Open(dir, logger)
	require.NoError(t, err)
	cfg := config.DefaultConfig()
	e := &env{
		dataDir: dir,
		cfg:     cfg,
		db:      db,
		logs:    slogutil.NewLoggerFactory("", cfg.Logging),
		logger:  logger,
	}
	t.Cleanup(e.Close)
	return e
}

func TestFormatResponse(t *testing.T) {
	resp := &EvictionResponseCLI{Triggered: true, MaxBytes: 1000, BytesBefore: 950, BytesAfter: 600, EntriesBefore: 10, Evicted: 4}

	out, err := FormatResponse(resp, FormatJSON)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, float64(4), decoded["evicted"])

	out, err = FormatResponse(resp, FormatHuman)
	require.NoError(t, err)
	assert.Contains(t, out, "Evicted 4 of 10 entries")

	_, err = FormatResponse(resp, "xml")
	assert.Error(t, err)
}

func TestFormatResponse_UnknownTypeFallsBackToJSON(t *testing.T) {
	out, err := FormatResponse(map[string]int{"n": 1}, FormatHuman)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n": 1}`, out)
}

func TestNewCycleResponse(t *testing.T) {
	result := &scan.CycleResult{
		RunID:           "run-1",
		RepoID:          "api",
		State:           scan.StateBudgetHalted,
		FilesTotal:      3,
		NextIndex:       2,
		Analyzed:        2,
		Spent:           0.2,
		Ceiling:         0.25,
		AccumulatedCost: 0.2,
		ReferenceFrom:   "0123456789abcdef0123",
		ReferenceTo:     "fedcba9876543210fedc",
		Duration:        1500 * time.Millisecond,
	}

	resp := newCycleResponse(result, "id")
	assert.Equal(t, "budget_halted", resp.State)
	assert.Equal(t, 1, resp.Unprocessed)
	assert.Equal(t, int64(1500), resp.DurationMs)
	assert.Empty(t, resp.Error)

	out, err := FormatResponse(resp, FormatHuman)
	require.NoError(t, err)
	assert.Contains(t, out, "budget_halted")
	assert.Contains(t, out, "1 left")
	assert.Contains(t, out, "0123456789ab (not advanced)")
	assert.NotContains(t, out, "fedcba")
}

func TestRenderConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Analysis.APIKey = "sk-secret"

	for _, format := range []string{"json", "yaml", "toml"} {
		t.Run(format, func(t *testing.T) {
			out, err := renderConfig(cfg, format)
			require.NoError(t, err)
			assert.NotContains(t, out, "sk-secret")
			assert.Contains(t, out, "perRunCeiling")
		})
	}

	assert.Equal(t, "sk-secret", cfg.Analysis.APIKey, "rendering must not modify the config")

	_, err := renderConfig(cfg, "ini")
	assert.Error(t, err)
}

func TestCollectStatus(t *testing.T) {
	e := testEnv(t)
	now := time.Now()

	root := t.TempDir()
	_, err := repos.NewRegistry(e.db, "1h", nil).Add(repos.Entry{ID: "api", Path: root})
	require.NoError(t, err)
	_, err = repos.NewRegistry(e.db, "1h", nil).Add(repos.Entry{ID: "gone", Path: t.TempDir()})
	require.NoError(t, err)

	require.NoError(t, storage.InsertRun(e.db, &storage.ScanRun{RunID: "r1", RepoID: "api", StartedAt: now.Add(-time.Minute), Ceiling: 1}))
	require.NoError(t, storage.PutCheckpoint(e.db, &storage.CheckpointRecord{
		RepoID: "api", RunID: "r1", ListFingerprint: "fp", TotalFiles: 5, NextIndex: 2, UpdatedAt: now,
	}))
	require.NoError(t, storage.RecordCost(e.db, &storage.CostRecord{RepoID: "api", RunID: "r1", FilePath: "a.go", Cost: 0.05, RecordedAt: now}))

	e.cfg.Budget.DailyBudget = 0.05
	statusNoGit = true
	t.Cleanup(func() { statusNoGit = false })

	resp, err := collectStatus(context.Background(), e, now)
	require.NoError(t, err)
	require.Len(t, resp.Repositories, 2)

	api := resp.Repositories[0]
	assert.Equal(t, "api", api.ID)
	assert.Equal(t, "2/5", api.Progress)
	assert.InDelta(t, 0.05, api.MonthSpent, 1e-9)
	require.NotNil(t, api.LastRun)
	assert.Equal(t, "r1", api.LastRun.RunID)
	require.NotNil(t, api.NextDue)
	assert.Nil(t, api.Dirty)

	assert.InDelta(t, 0.05, resp.Spend.DailySpent, 1e-9)
	require.NotEmpty(t, resp.Alerts)
	assert.Contains(t, resp.Alerts[0], "daily budget exceeded")
	require.NotNil(t, resp.Cache)

	out, err := FormatResponse(resp, FormatHuman)
	require.NoError(t, err)
	assert.Contains(t, out, "api")
	assert.Contains(t, out, "2/5")
	assert.Contains(t, out, "Alerts")
}

func TestShortRef(t *testing.T) {
	assert.Equal(t, "-", shortRef(""))
	assert.Equal(t, "abc", shortRef("abc"))
	assert.Equal(t, "0123456789ab", shortRef("0123456789abcdef"))
}

func TestDescribeFix(t *testing.T) {
	fixes := errors.GetSuggestedFixes(errors.BudgetExceeded)
	require.NotEmpty(t, fixes)
	assert.Contains(t, describeFix(fixes[0]), "budget.perRunCeiling")
}
