package changes

import (
	"bytes"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DefaultMaxFileSize is the largest file analyzed when no limit is configured.
const DefaultMaxFileSize int64 = 100 * 1024

// skipDirs are directory names never descended into, at any depth.
var skipDirs = map[string]bool{
	"dist":         true,
	"build":        true,
	"node_modules": true,
	"target":       true,
	".git":         true,
	"vendor":       true,
	"__pycache__":  true,
	".next":        true,
	"out":          true,
	"coverage":     true,
	".cache":       true,
}

// skipSuffixes are generated or bundled artifacts.
var skipSuffixes = []string{
	".min.js",
	".min.css",
	".map",
	".bundle.js",
	".chunk.js",
	".min.mjs",
	".d.ts",
	".lock",
}

// Skip reasons reported for files rejected by content heuristics.
const (
	SkipEmpty      = "empty"
	SkipMinified   = "minified"
	SkipBinary     = "binary"
	SkipUnreadable = "unreadable"
)

// Minified-file heuristic thresholds.
const (
	minifiedAvgLineLength = 500
	minifiedMaxLines      = 50
	binarySniffLen        = 8000
)

// Filter decides which paths are analyzable source files.
type Filter struct {
	extensions map[string]bool
	maxSize    int64
}

// NewFilter creates a filter for the given extensions (with or without a
// leading dot) and size limit. maxSize <= 0 selects DefaultMaxFileSize.
func NewFilter(extensions []string, maxSize int64) *Filter {
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	return &Filter{extensions: exts, maxSize: maxSize}
}

// MaxSize returns the size limit in bytes.
func (f *Filter) MaxSize() int64 {
	return f.maxSize
}

// PathAllowed reports whether a repo-relative path names an analyzable
// file, looking only at the path itself.
func (f *Filter) PathAllowed(rel string) bool {
	rel = filepath.ToSlash(rel)
	if rel == "" || strings.HasSuffix(rel, "/") {
		return false
	}

	dir, base := path.Split(rel)
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		if skipDirs[part] {
			return false
		}
	}

	lower := strings.ToLower(base)
	for _, suffix := range skipSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return false
		}
	}
	return f.extensions[path.Ext(lower)]
}

// Stat checks that rel exists under root as a regular file within the
// size limit.
func (f *Filter) Stat(root, rel string) (os.FileInfo, bool) {
	info, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil || !info.Mode().IsRegular() {
		return nil, false
	}
	return info, info.Size() <= f.maxSize
}

// ContentSkipReason inspects file content and returns a non-empty reason
// when the file should be skipped without analysis.
func ContentSkipReason(content []byte) string {
	if len(bytes.TrimSpace(content)) == 0 {
		return SkipEmpty
	}

	sniff := content
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		return SkipBinary
	}

	lines := bytes.Count(content, []byte{'\n'})
	if content[len(content)-1] != '\n' {
		lines++
	}
	if lines < minifiedMaxLines && len(content)/lines > minifiedAvgLineLength {
		return SkipMinified
	}
	return ""
}
