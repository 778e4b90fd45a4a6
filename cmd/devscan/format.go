package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatHuman OutputFormat = "human"
)

// FormatResponse formats a response according to the specified format
func FormatResponse(resp interface{}, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(resp)
	case FormatHuman:
		return formatHuman(resp)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// formatJSON formats the response as JSON
func formatJSON(resp interface{}) (string, error) {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

// formatHuman formats the response in human-readable format
func formatHuman(resp interface{}) (string, error) {
	switch v := resp.(type) {
	case *CycleResponseCLI:
		return formatCycleHuman(v), nil
	case *RepoListResponseCLI:
		return formatRepoListHuman(v), nil
	case *StatusResponseCLI:
		return formatStatusHuman(v), nil
	case *CacheStatsResponseCLI:
		return formatCacheStatsHuman(v), nil
	case *EvictionResponseCLI:
		return formatEvictionHuman(v), nil
	default:
		// For unknown types, fall back to JSON
		return formatJSON(resp)
	}
}

func newTable() table.Writer {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	return tbl
}

func formatCycleHuman(r *CycleResponseCLI) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s (%s)\n", r.Repo, r.ResolvedFrom)
	fmt.Fprintf(&b, "Run:        %s\n", r.RunID)
	fmt.Fprintf(&b, "Outcome:    %s\n", r.State)
	fmt.Fprintf(&b, "Files:      %d listed, %d analyzed, %d cached, %d skipped, %d left\n",
		r.FilesTotal, r.Analyzed, r.Cached, r.Skipped, r.Unprocessed)
	if r.Failed > 0 {
		fmt.Fprintf(&b, "Failed:     %d file(s) after retries\n", r.Failed)
	}
	if r.ResumeIndex > 0 {
		fmt.Fprintf(&b, "Resumed at: file %d\n", r.ResumeIndex)
	}
	fmt.Fprintf(&b, "Cost:       %s of %s", formatDollars(r.Spent), formatCeiling(r.Ceiling))
	if r.AccumulatedCost > r.Spent {
		fmt.Fprintf(&b, " (%s across resumed cycles)", formatDollars(r.AccumulatedCost))
	}
	b.WriteString("\n")
	if r.Committed {
		fmt.Fprintf(&b, "Reference:  %s -> %s\n", shortRef(r.ReferenceFrom), shortRef(r.ReferenceTo))
	} else {
		fmt.Fprintf(&b, "Reference:  %s (not advanced)\n", shortRef(r.ReferenceFrom))
	}
	fmt.Fprintf(&b, "Duration:   %s", (time.Duration(r.DurationMs) * time.Millisecond).String())
	if r.Error != "" {
		fmt.Fprintf(&b, "\nError:      %s", r.Error)
	}
	return b.String()
}

func formatRepoListHuman(r *RepoListResponseCLI) string {
	if len(r.Repositories) == 0 {
		return "No repositories registered. Add one with 'devscan repo add <id> <path>'."
	}

	tbl := newTable()
	tbl.AppendHeader(table.Row{"ID", "Path", "State", "Scan", "Interval", "Last outcome", "Last attempt", "Reference"})
	for _, repo := range r.Repositories {
		tbl.AppendRow(table.Row{
			repo.ID,
			repo.Path,
			repo.State,
			enabledLabel(repo.Enabled),
			repo.Interval,
			orDash(repo.LastOutcome),
			relativeTime(repo.LastAttempt),
			shortRef(repo.Reference),
		})
	}
	tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d", len(r.Repositories))})
	return tbl.Render()
}

func formatStatusHuman(s *StatusResponseCLI) string {
	var b strings.Builder
	fmt.Fprintf(&b, "devscan %s (%s)\n\n", s.Version, s.DataDir)

	if len(s.Repositories) == 0 {
		b.WriteString("No repositories registered.\n")
	} else {
		tbl := newTable()
		tbl.AppendHeader(table.Row{"Repository", "Scan", "State", "Last outcome", "Last attempt", "Next due", "Progress", "Month"})
		for _, r := range s.Repositories {
			state := r.State
			if r.Dirty != nil && *r.Dirty {
				state += " (dirty)"
			}
			next := "-"
			if r.NextDue != nil {
				next = humanize.Time(*r.NextDue)
			}
			tbl.AppendRow(table.Row{
				r.ID,
				enabledLabel(r.Enabled),
				state,
				orDash(r.LastOutcome),
				relativeTime(r.LastAttempt),
				next,
				orDash(r.Progress),
				formatDollars(r.MonthSpent),
			})
		}
		b.WriteString(tbl.Render())
		b.WriteString("\n")
	}

	b.WriteString("\nSpend\n")
	fmt.Fprintf(&b, "  Today:      %s of %s\n", formatDollars(s.Spend.DailySpent), formatCeiling(s.Spend.DailyBudget))
	fmt.Fprintf(&b, "  This month: %s of %s\n", formatDollars(s.Spend.MonthlySpent), formatCeiling(s.Spend.MonthlyBudget))
	fmt.Fprintf(&b, "  Per run:    %s\n", formatCeiling(s.Spend.PerRunCeiling))

	if s.Cache != nil {
		b.WriteString("\nCache\n")
		fmt.Fprintf(&b, "  %s in %s entries", formatBytes(s.Cache.Bytes), humanize.Comma(s.Cache.Entries))
		if s.Cache.MaxBytes > 0 {
			fmt.Fprintf(&b, " (limit %s)", formatBytes(s.Cache.MaxBytes))
		}
		fmt.Fprintf(&b, ", hit rate %.1f%%\n", s.Cache.HitRate*100)
	}

	if len(s.Alerts) > 0 {
		b.WriteString("\nAlerts\n")
		for _, a := range s.Alerts {
			fmt.Fprintf(&b, "  ! %s\n", a)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatCacheStatsHuman(s *CacheStatsResponseCLI) string {
	tbl := newTable()
	tbl.AppendRows([]table.Row{
		{"Entries", humanize.Comma(s.Entries)},
		{"Size", formatBytes(s.Bytes)},
		{"Limit", formatBytes(s.MaxBytes)},
		{"Codec", s.Codec},
		{"Hits", humanize.Comma(s.Hits)},
		{"Misses", humanize.Comma(s.Misses)},
		{"Hit rate", fmt.Sprintf("%.1f%%", s.HitRate*100)},
		{"Corrupt", humanize.Comma(s.Corrupt)},
		{"Evicted", humanize.Comma(s.Evictions)},
	})
	return tbl.Render()
}

func formatEvictionHuman(r *EvictionResponseCLI) string {
	if !r.Triggered {
		return fmt.Sprintf("Cache at %s of %s, below the high watermark; nothing evicted.",
			formatBytes(r.BytesBefore), formatBytes(r.MaxBytes))
	}
	return fmt.Sprintf("Evicted %d of %d entries: %s -> %s (limit %s)",
		r.Evicted, r.EntriesBefore, formatBytes(r.BytesBefore), formatBytes(r.BytesAfter), formatBytes(r.MaxBytes))
}

func formatBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	return humanize.Bytes(uint64(n))
}

func formatDollars(v float64) string {
	return fmt.Sprintf("$%.4f", v)
}

func formatCeiling(v float64) string {
	if v <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("$%.2f", v)
}

func relativeTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return humanize.Time(*t)
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// shortRef abbreviates commit references; listing digests keep their prefix.
func shortRef(ref string) string {
	switch {
	case ref == "":
		return "-"
	case len(ref) > 12:
		return ref[:12]
	default:
		return ref
	}
}
