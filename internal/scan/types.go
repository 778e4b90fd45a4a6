package scan

import (
	"fmt"
	"time"

	"devscan/internal/cache"
	"devscan/internal/config"
)

// State is the state of a scan cycle.
type State string

const (
	StateIdle         State = "idle"
	StateDiffing      State = "diffing"
	StateProcessing   State = "processing"
	StateCompleted    State = "completed"
	StateBudgetHalted State = "budget_halted"
	StateFailed       State = "failed"
	// StatePartial means processing stopped early without a budget halt or
	// fatal error: a file exhausted its retries or shutdown interrupted the
	// cycle. The reference is not advanced and the checkpoint is kept.
	StatePartial State = "partial"
)

// Terminal reports whether s ends a cycle.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateBudgetHalted, StateFailed, StatePartial:
		return true
	}
	return false
}

// CycleResult summarizes one RunCycle call.
type CycleResult struct {
	RunID  string
	RepoID string
	State  State

	FilesTotal int
	// ResumeIndex is the index processing started from.
	ResumeIndex int
	// NextIndex is the first unprocessed index when the cycle ended.
	NextIndex int
	Analyzed  int
	Cached    int
	Skipped   int
	// Failed counts files whose transient errors outlasted the retries.
	Failed int

	// Spent is what this cycle charged; AccumulatedCost includes earlier
	// cycles of the same uncommitted run.
	Spent           float64
	Ceiling         float64
	AccumulatedCost float64

	ReferenceFrom string
	ReferenceTo   string
	Committed     bool

	Duration time.Duration
	Err      error
}

// Unprocessed returns how many listed files remain for a later cycle.
func (r *CycleResult) Unprocessed() int {
	return r.FilesTotal - r.NextIndex
}

func (r *CycleResult) String() string {
	return fmt.Sprintf("%s: %s (%d/%d files, $%.4f)", r.RepoID, r.State, r.NextIndex, r.FilesTotal, r.Spent)
}

// Options tunes the orchestrator.
type Options struct {
	MaxInFlight    int
	CallTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	PerRunCeiling  float64
	SchemaVersion  int
	ConfigHash     string
}

// analysisSettings are the settings folded into the cache key config hash.
type analysisSettings struct {
	Provider    string  `toml:"provider"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float64 `toml:"temperature"`
}

// OptionsFromConfig derives orchestrator options from configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	hash, err := cache.HashConfig(analysisSettings{
		Provider:    cfg.Analysis.Provider,
		Model:       cfg.Analysis.Model,
		MaxTokens:   cfg.Analysis.MaxTokens,
		Temperature: cfg.Analysis.Temperature,
	})
	if err != nil {
		return Options{}, err
	}
	return Options{
		MaxInFlight:    cfg.Scan.MaxInFlightPerRepo,
		CallTimeout:    cfg.Scan.CallTimeout,
		MaxAttempts:    cfg.Scan.MaxAttempts,
		InitialBackoff: cfg.Scan.InitialBackoff,
		MaxBackoff:     cfg.Scan.MaxBackoff,
		PerRunCeiling:  cfg.Budget.PerRunCeiling,
		SchemaVersion:  cfg.Analysis.SchemaVersion,
		ConfigHash:     hash,
	}, nil
}

func (o *Options) normalize() {
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = 1
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 2 * time.Minute
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = time.Second
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = o.InitialBackoff
	}
	if o.SchemaVersion <= 0 {
		o.SchemaVersion = 1
	}
}
