// Package budget tracks analysis spend against per-cycle and calendar limits.
package budget

import (
	"math"
	"sync"
)

// Ledger is the cost ledger of one scan cycle. It is safe for concurrent use
// by the dispatcher and committer of that cycle.
//
// Calls are admitted through Reserve with an estimate; the estimate stays
// reserved until Charge or Release. A ceiling of zero or less is unlimited.
type Ledger struct {
	mu       sync.Mutex
	ceiling  float64
	spent    float64
	reserved float64
	halted   bool
}

// Snapshot is a point-in-time copy of a ledger.
type Snapshot struct {
	Ceiling  float64
	Spent    float64
	Reserved float64
	Halted   bool
}

// NewLedger creates an empty ledger with the given ceiling.
func NewLedger(ceiling float64) *Ledger {
	return &Ledger{ceiling: ceiling}
}

func (l *Ledger) unlimited() bool {
	return l.ceiling <= 0
}

// WouldExceed reports whether spending additional on top of what is already
// spent and reserved would cross the ceiling. Landing exactly on the ceiling
// is allowed.
func (l *Ledger) WouldExceed(additional float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wouldExceed(additional)
}

func (l *Ledger) wouldExceed(additional float64) bool {
	if l.unlimited() {
		return false
	}
	return l.spent+l.reserved+additional > l.ceiling+1e-12
}

// Reserve admits a call with the given estimate. The first refusal halts the
// ledger; once halted every later Reserve is refused.
func (l *Ledger) Reserve(estimate float64) bool {
	if estimate < 0 || math.IsNaN(estimate) {
		estimate = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.halted {
		return false
	}
	if l.wouldExceed(estimate) {
		l.halted = true
		return false
	}
	l.reserved += estimate
	return true
}

// Charge records the actual cost of a successful call and releases its reservation.
func (l *Ledger) Charge(actual, reserved float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.release(reserved)
	if actual > 0 {
		l.spent += actual
	}
}

// Release drops the reservation of a call that did not complete.
func (l *Ledger) Release(reserved float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.release(reserved)
}

func (l *Ledger) release(reserved float64) {
	l.reserved -= reserved
	if l.reserved < 1e-12 {
		l.reserved = 0
	}
}

// Halted reports whether a call has been refused for budget.
func (l *Ledger) Halted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.halted
}

// Spent returns the total charged so far.
func (l *Ledger) Spent() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spent
}

// Ceiling returns the configured ceiling.
func (l *Ledger) Ceiling() float64 {
	return l.ceiling
}

// Remaining returns what can still be reserved, or +Inf when unlimited.
func (l *Ledger) Remaining() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.unlimited() {
		return math.Inf(1)
	}
	return math.Max(0, l.ceiling-l.spent-l.reserved)
}

// Snapshot returns a consistent copy of the ledger state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		Ceiling:  l.ceiling,
		Spent:    l.spent,
		Reserved: l.reserved,
		Halted:   l.halted,
	}
}
