// Package slogutil provides the slog handlers and logger construction used by devscan.
package slogutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Attribute keys that identify a scan cycle. At the top level they are
// lifted out of the key=value list into the line's scope.
const (
	RepoKey = "repo"
	RunKey  = "run"
)

// runIDWidth is how much of a run id the scope shows.
const runIDWidth = 8

// LineHandler formats records as a single human-readable line:
// TIMESTAMP [level] (repo/run) Message | key=value key="quoted value"
// The scope is omitted when the record carries neither RepoKey nor RunKey.
type LineHandler struct {
	w      io.Writer
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
	mu     *sync.Mutex
}

// NewLineHandler creates a new line handler.
func NewLineHandler(w io.Writer, opts *slog.HandlerOptions) *LineHandler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &LineHandler{
		w:     w,
		level: level,
		mu:    &sync.Mutex{},
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *LineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle formats and writes the log record.
func (h *LineHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, h.qualify(a))
		return true
	})

	var repo, run string
	rest := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		switch a.Key {
		case "":
			continue
		case RepoKey:
			repo = a.Value.Resolve().String()
		case RunKey:
			run = a.Value.Resolve().String()
		default:
			rest = append(rest, a)
		}
	}

	var buf bytes.Buffer
	buf.WriteString(r.Time.UTC().Format(time.RFC3339))
	buf.WriteString(" [")
	buf.WriteString(levelString(r.Level))
	buf.WriteString("] ")
	if scope := scopeString(repo, run); scope != "" {
		buf.WriteString(scope)
		buf.WriteByte(' ')
	}
	buf.WriteString(r.Message)

	if len(rest) > 0 {
		buf.WriteString(" |")
		for _, a := range rest {
			writeAttr(&buf, a.Key, a.Value.Resolve())
		}
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

// WithAttrs returns a new handler with the given attributes added.
func (h *LineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(merged, h.attrs)
	for _, a := range attrs {
		merged = append(merged, h.qualify(a))
	}

	clone := *h
	clone.attrs = merged
	return &clone
}

// WithGroup returns a new handler whose subsequent attribute keys are prefixed with name.
func (h *LineHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := make([]string, len(h.groups)+1)
	copy(groups, h.groups)
	groups[len(h.groups)] = name

	clone := *h
	clone.groups = groups
	return &clone
}

// qualify prefixes a.Key with the open groups. Grouped keys never match
// RepoKey or RunKey, so a "cycle.repo" attribute stays in the list.
func (h *LineHandler) qualify(a slog.Attr) slog.Attr {
	if len(h.groups) == 0 || a.Key == "" {
		return a
	}
	return slog.Attr{Key: strings.Join(h.groups, ".") + "." + a.Key, Value: a.Value}
}

func scopeString(repo, run string) string {
	if len(run) > runIDWidth {
		run = run[:runIDWidth]
	}
	switch {
	case repo != "" && run != "":
		return "(" + repo + "/" + run + ")"
	case repo != "":
		return "(" + repo + ")"
	case run != "":
		return "(run " + run + ")"
	}
	return ""
}

// writeAttr flattens group values into dotted keys.
func writeAttr(buf *bytes.Buffer, key string, v slog.Value) {
	if v.Kind() == slog.KindGroup {
		for _, ga := range v.Group() {
			writeAttr(buf, key+"."+ga.Key, ga.Value.Resolve())
		}
		return
	}
	buf.WriteByte(' ')
	buf.WriteString(key)
	buf.WriteByte('=')
	buf.WriteString(formatValue(v))
}

func levelString(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return "debug"
	case level < slog.LevelWarn:
		return "info"
	case level < slog.LevelError:
		return "warn"
	default:
		return "error"
	}
}

func formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return quoteIfNeeded(v.String())
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'g', 6, 64)
	default:
		return quoteIfNeeded(fmt.Sprint(v.Any()))
	}
}

// quoteIfNeeded quotes values that would otherwise split into several
// key=value tokens, such as error messages.
func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " =\"\t\n") {
		return strconv.Quote(s)
	}
	return s
}
