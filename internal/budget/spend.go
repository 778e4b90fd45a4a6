package budget

import (
	"fmt"
	"math"
	"time"

	"devscan/internal/storage"
)

// Alert thresholds as a fraction of a calendar budget.
const (
	WarnThreshold     = 0.8
	ExceededThreshold = 1.0
)

// AlertLevel classifies a budget alert.
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"
	AlertExceeded AlertLevel = "exceeded"
)

// Alert reports a calendar budget crossing a threshold.
type Alert struct {
	Window  string // "daily" or "monthly"
	Level   AlertLevel
	Spent   float64
	Budget  float64
	Percent float64
}

func (a Alert) String() string {
	return fmt.Sprintf("%s budget %s: $%.4f of $%.2f (%.0f%%)", a.Window, a.Level, a.Spent, a.Budget, a.Percent)
}

// SpendStatus is cumulative spend for the current day and month (UTC).
type SpendStatus struct {
	DailySpent     float64
	DailyBudget    float64
	MonthlySpent   float64
	MonthlyBudget  float64
	DailyPercent   float64
	MonthlyPercent float64
	Alerts         []Alert
}

// SpendTracker reads the cost log to enforce daily and monthly budgets.
// A budget of zero or less is unlimited.
type SpendTracker struct {
	q       storage.Querier
	daily   float64
	monthly float64
	now     func() time.Time
}

// NewSpendTracker creates a tracker over the cost log.
func NewSpendTracker(q storage.Querier, daily, monthly float64) *SpendTracker {
	return &SpendTracker{q: q, daily: daily, monthly: monthly, now: time.Now}
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Status returns current spend and any alerts.
func (s *SpendTracker) Status() (*SpendStatus, error) {
	now := s.now()
	daySpent, err := storage.SpendSince(s.q, startOfDay(now))
	if err != nil {
		return nil, fmt.Errorf("reading daily spend: %w", err)
	}
	monthSpent, err := storage.SpendSince(s.q, startOfMonth(now))
	if err != nil {
		return nil, fmt.Errorf("reading monthly spend: %w", err)
	}

	st := &SpendStatus{
		DailySpent:    daySpent,
		DailyBudget:   s.daily,
		MonthlySpent:  monthSpent,
		MonthlyBudget: s.monthly,
	}
	st.DailyPercent, st.Alerts = evaluate("daily", daySpent, s.daily, st.Alerts)
	st.MonthlyPercent, st.Alerts = evaluate("monthly", monthSpent, s.monthly, st.Alerts)
	return st, nil
}

func evaluate(window string, spent, limit float64, alerts []Alert) (float64, []Alert) {
	if limit <= 0 {
		return 0, alerts
	}
	frac := spent / limit
	pct := frac * 100
	switch {
	case frac >= ExceededThreshold:
		alerts = append(alerts, Alert{Window: window, Level: AlertExceeded, Spent: spent, Budget: limit, Percent: pct})
	case frac >= WarnThreshold:
		alerts = append(alerts, Alert{Window: window, Level: AlertWarning, Spent: spent, Budget: limit, Percent: pct})
	}
	return pct, alerts
}

// EffectiveCeiling narrows the per-run ceiling to what remains of the daily
// and monthly budgets. It returns 0 with ok=false when a calendar budget is
// already exhausted, and the per-run ceiling unchanged when none is set.
func (s *SpendTracker) EffectiveCeiling(perRun float64) (ceiling float64, ok bool, err error) {
	if s.daily <= 0 && s.monthly <= 0 {
		return perRun, true, nil
	}
	st, err := s.Status()
	if err != nil {
		return 0, false, err
	}

	limit := math.Inf(1)
	if perRun > 0 {
		limit = perRun
	}
	if s.daily > 0 {
		limit = math.Min(limit, s.daily-st.DailySpent)
	}
	if s.monthly > 0 {
		limit = math.Min(limit, s.monthly-st.MonthlySpent)
	}
	if limit <= 0 {
		return 0, false, nil
	}
	return limit, true, nil
}
