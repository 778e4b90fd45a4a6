// Package checkpoint persists scan progress so an interrupted cycle resumes
// where it stopped instead of re-running completed files.
package checkpoint

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"devscan/internal/storage"
)

// FileOutcome is how a processed file was resolved.
type FileOutcome int

const (
	// Analyzed files were sent to the analysis backend and charged.
	Analyzed FileOutcome = iota
	// Cached files were served from the analysis cache at no cost.
	Cached
	// Skipped files were rejected by content heuristics at no cost.
	Skipped
)

func (o FileOutcome) String() string {
	switch o {
	case Analyzed:
		return "analyzed"
	case Cached:
		return "cached"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// ResumePoint tells a cycle where to continue.
type ResumePoint struct {
	RunID           string
	NextIndex       int
	LastFile        string
	Analyzed        int
	Cached          int
	Skipped         int
	AccumulatedCost float64
	// ListChanged is set when the stored checkpoint was for a different
	// list, including edited files or changed settings; the index restarts
	// at 0 and only the cost is carried.
	ListChanged bool
}

// Store reads and writes checkpoints.
type Store struct {
	db  *storage.DB
	now func() time.Time
}

// NewStore creates a checkpoint store.
func NewStore(db *storage.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// File is one entry of a cycle's work list.
type File struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// List is the ordered work list of a cycle together with the digest of the
// analysis settings it is processed under.
type List struct {
	Files    []File
	Settings string
}

// Len returns the number of files.
func (l List) Len() int { return len(l.Files) }

// Fingerprint identifies the list. Any change to a path, size or
// modification time, or to the settings, yields a different fingerprint,
// so a checkpoint is never resumed over edited files.
func (l List) Fingerprint() string {
	h, _ := blake2b.New256(nil)
	fmt.Fprintf(h, "%s\x00", l.Settings)
	for _, f := range l.Files {
		fmt.Fprintf(h, "%s\x00%d\x00%d\x00", f.Path, f.Size, f.ModTime.UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Resume returns the resume point for list, and false when no checkpoint exists.
func (s *Store) Resume(repoID string, list List) (*ResumePoint, bool, error) {
	rec, err := storage.GetCheckpoint(s.db, repoID)
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return &ResumePoint{}, false, nil
	}
	return reconcile(rec, list), true, nil
}

func reconcile(rec *storage.CheckpointRecord, list List) *ResumePoint {
	if rec.ListFingerprint != list.Fingerprint() || rec.NextIndex > list.Len() {
		return &ResumePoint{
			RunID:           rec.RunID,
			AccumulatedCost: rec.AccumulatedCost,
			ListChanged:     true,
		}
	}
	return &ResumePoint{
		RunID:           rec.RunID,
		NextIndex:       rec.NextIndex,
		LastFile:        rec.LastFile,
		Analyzed:        rec.Analyzed,
		Cached:          rec.Cached,
		Skipped:         rec.Skipped,
		AccumulatedCost: rec.AccumulatedCost,
	}
}

// Checkpoint is the live progress marker of one cycle. Its in-memory state
// only changes after the corresponding write has committed.
type Checkpoint struct {
	store *Store
	rec   storage.CheckpointRecord
}

// Begin creates or reconciles the checkpoint of repoID for list and
// persists it under runID.
func (s *Store) Begin(repoID, runID string, list List) (*Checkpoint, *ResumePoint, error) {
	rp, _, err := s.Resume(repoID, list)
	if err != nil {
		return nil, nil, err
	}

	rec := storage.CheckpointRecord{
		RepoID:          repoID,
		RunID:           runID,
		ListFingerprint: list.Fingerprint(),
		TotalFiles:      list.Len(),
		NextIndex:       rp.NextIndex,
		LastFile:        rp.LastFile,
		Analyzed:        rp.Analyzed,
		Cached:          rp.Cached,
		Skipped:         rp.Skipped,
		AccumulatedCost: rp.AccumulatedCost,
		UpdatedAt:       s.now(),
	}
	if err := storage.PutCheckpoint(s.db, &rec); err != nil {
		return nil, nil, err
	}
	return &Checkpoint{store: s, rec: rec}, rp, nil
}

// Progress is one processed file plus the ledger rows written with it.
type Progress struct {
	Index      int
	File       string
	Outcome    FileOutcome
	CacheKey   string
	SkipReason string
	Cost       float64

	// Cost log row for analyzed files.
	CostRecord *storage.CostRecord
	// Run ledger row, persisted with its current counters.
	Run *storage.ScanRun
}

// Advance durably records that p.Index is done. The checkpoint, the file
// result, the run ledger row and the cost record commit together.
func (c *Checkpoint) Advance(p Progress) error {
	if p.Index != c.rec.NextIndex {
		return fmt.Errorf("checkpoint: advancing index %d, expected %d", p.Index, c.rec.NextIndex)
	}

	next := c.rec
	next.NextIndex = p.Index + 1
	next.LastFile = p.File
	next.UpdatedAt = c.store.now()
	switch p.Outcome {
	case Analyzed:
		next.Analyzed++
		next.AccumulatedCost += p.Cost
	case Cached:
		next.Cached++
	case Skipped:
		next.Skipped++
	}

	err := c.store.db.WithTx(func(tx *sql.Tx) error {
		if err := storage.PutCheckpoint(tx, &next); err != nil {
			return err
		}
		if err := storage.PutFileResult(tx, &storage.FileResult{
			RepoID:     next.RepoID,
			FilePath:   p.File,
			CacheKey:   p.CacheKey,
			RunID:      next.RunID,
			FromCache:  p.Outcome == Cached,
			Skipped:    p.Outcome == Skipped,
			SkipReason: p.SkipReason,
			UpdatedAt:  next.UpdatedAt,
		}); err != nil {
			return err
		}
		if p.CostRecord != nil {
			if err := storage.RecordCost(tx, p.CostRecord); err != nil {
				return err
			}
		}
		if p.Run != nil {
			return storage.UpdateRun(tx, p.Run)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("advancing checkpoint for %s: %w", c.rec.RepoID, err)
	}

	c.rec = next
	return nil
}

// NextIndex returns the first unprocessed index.
func (c *Checkpoint) NextIndex() int { return c.rec.NextIndex }

// AccumulatedCost returns the cost of the in-progress run across cycles.
func (c *Checkpoint) AccumulatedCost() float64 { return c.rec.AccumulatedCost }

// Counts returns analyzed, cached and skipped totals.
func (c *Checkpoint) Counts() (analyzed, cached, skipped int) {
	return c.rec.Analyzed, c.rec.Cached, c.rec.Skipped
}

// Commit finishes a complete cycle: it advances the committed reference,
// clears the checkpoint and finalizes the run row in one transaction.
func (s *Store) Commit(repoID, reference string, run *storage.ScanRun) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		if err := storage.CommitReference(tx, repoID, reference, s.now()); err != nil {
			return err
		}
		if err := storage.DeleteCheckpoint(tx, repoID); err != nil {
			return err
		}
		if run != nil {
			if err := storage.UpdateRun(tx, run); err != nil {
				return err
			}
			return storage.RecordOutcome(tx, repoID, run.Outcome, run.Error)
		}
		return nil
	})
}

// Get returns the raw stored checkpoint, or nil.
func (s *Store) Get(repoID string) (*storage.CheckpointRecord, error) {
	return storage.GetCheckpoint(s.db, repoID)
}
