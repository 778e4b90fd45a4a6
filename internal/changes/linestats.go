package changes

import (
	"bytes"
	"fmt"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// LineStats counts added and deleted lines for one file.
type LineStats struct {
	Added   int
	Deleted int
}

// ParseLineStats parses a unified multi-file diff and returns line counts
// keyed by the file's new path. Deleted files are keyed by their old path.
func ParseLineStats(diffContent []byte) (map[string]LineStats, error) {
	stats := make(map[string]LineStats)
	if len(bytes.TrimSpace(diffContent)) == 0 {
		return stats, nil
	}

	fileDiffs, err := godiff.ParseMultiFileDiff(diffContent)
	if err != nil {
		return nil, fmt.Errorf("failed to parse diff: %w", err)
	}

	for _, fd := range fileDiffs {
		name := cleanPath(fd.NewName)
		if name == "" || name == "/dev/null" {
			name = cleanPath(fd.OrigName)
		}
		if name == "" || name == "/dev/null" {
			continue
		}

		s := stats[name]
		for _, hunk := range fd.Hunks {
			added, deleted := countHunk(hunk)
			s.Added += added
			s.Deleted += deleted
		}
		stats[name] = s
	}
	return stats, nil
}

func countHunk(hunk *godiff.Hunk) (added, deleted int) {
	for _, line := range strings.Split(string(hunk.Body), "\n") {
		if line == "" {
			continue
		}
		switch line[0] {
		case '+':
			added++
		case '-':
			deleted++
		}
	}
	return added, deleted
}

// cleanPath removes the a/ or b/ prefix from git diff paths
func cleanPath(path string) string {
	if path == "" || path == "/dev/null" {
		return path
	}
	if strings.HasPrefix(path, "a/") || strings.HasPrefix(path, "b/") {
		return path[2:]
	}
	return path
}
