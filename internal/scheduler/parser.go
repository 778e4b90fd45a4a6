package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"devscan/internal/errors"
)

// MinInterval is the shortest accepted scan interval.
const MinInterval = time.Minute

var intervalRegex = regexp.MustCompile(`^(?:every\s+)?(\d+)\s*(s|m|h|d|seconds?|minutes?|hours?|days?)$`)

// ParseInterval parses a scan interval. It accepts Go durations ("45m",
// "1h30m") and "every N unit" expressions ("every 30m", "every 2 hours",
// "every 1d").
func ParseInterval(expr string) (time.Duration, error) {
	s := strings.TrimSpace(strings.ToLower(expr))
	if s == "" {
		return 0, invalidInterval(expr, "empty interval")
	}

	var d time.Duration
	if matches := intervalRegex.FindStringSubmatch(s); matches != nil {
		value, err := strconv.Atoi(matches[1])
		if err != nil {
			return 0, invalidInterval(expr, err.Error())
		}
		unit := matches[2]

		switch {
		case strings.HasPrefix(unit, "s"):
			d = time.Duration(value) * time.Second
		case strings.HasPrefix(unit, "m"):
			d = time.Duration(value) * time.Minute
		case strings.HasPrefix(unit, "h"):
			d = time.Duration(value) * time.Hour
		case strings.HasPrefix(unit, "d"):
			d = time.Duration(value) * 24 * time.Hour
		}
	} else {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return 0, invalidInterval(expr, "expected a duration like 30m or an expression like 'every 2h'")
		}
		d = parsed
	}

	if d < MinInterval {
		return 0, invalidInterval(expr, "minimum interval is 1 minute")
	}
	return d, nil
}

func invalidInterval(expr, reason string) error {
	return errors.New(errors.ConfigInvalid, fmt.Sprintf("invalid scan interval %q: %s", expr, reason), nil)
}

// FormatDuration formats a duration for display
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}

// NextDue returns when a repository attempted at last becomes due again.
// A repository never attempted is due at now.
func NextDue(last *time.Time, interval time.Duration, now time.Time) time.Time {
	if last == nil {
		return now
	}
	next := last.Add(interval)
	if next.Before(now) {
		return now
	}
	return next
}
