package changes

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"devscan/internal/errors"
	"devscan/internal/repostate"
	"devscan/internal/storage"
)

// Detector computes the files changed since a repository's last
// committed scan.
type Detector struct {
	filter *Filter
	logger *slog.Logger
}

// NewDetector creates a detector using the given filter.
func NewDetector(filter *Filter, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Detector{filter: filter, logger: logger}
}

// Detect returns the changed files of repo ordered by path, and the
// reference observed at diff time. The reference is what a successful
// cycle commits.
func (d *Detector) Detect(ctx context.Context, repo *storage.Repository) ([]ChangedFile, string, error) {
	return d.DetectRoot(ctx, repo.RootPath, repo.LastCommittedReference)
}

// DetectRoot is Detect for a bare root path and last reference.
func (d *Detector) DetectRoot(ctx context.Context, root string, lastRef *string) ([]ChangedFile, string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, "", errors.New(errors.RepoUnhealthy, "repository root is not accessible", err).
			WithDetails(map[string]string{"root": root})
	}
	if !info.IsDir() {
		return nil, "", errors.New(errors.RepoUnhealthy, "repository root is not a directory", nil).
			WithDetails(map[string]string{"root": root})
	}

	if !repostate.IsGitRepository(root) {
		return d.detectTree(ctx, root, lastRef)
	}
	return d.detectGit(ctx, root, lastRef)
}

func (d *Detector) detectGit(ctx context.Context, root string, lastRef *string) ([]ChangedFile, string, error) {
	if !repostate.HasCommits(ctx, root) {
		// Nothing committed yet: the listing digest stands in for HEAD.
		files, err := d.listAll(ctx, root)
		if err != nil {
			return nil, "", err
		}
		result := d.finalize(root, files, nil)
		ref := treeReference(result)
		if lastRef != nil && *lastRef == ref {
			return nil, ref, nil
		}
		return result, ref, nil
	}

	head, err := repostate.HeadCommit(ctx, root)
	if err != nil {
		return nil, "", err
	}

	var (
		raw   []ChangedFile
		since string
	)
	switch {
	case lastRef == nil || *lastRef == "":
		raw, err = d.listAll(ctx, root)

	case strings.HasPrefix(*lastRef, TreeReferencePrefix) || !repostate.ResolveCommit(ctx, root, *lastRef):
		d.logger.Warn("Last committed reference is not resolvable, rescanning all files",
			"root", root,
			"reference", *lastRef,
		)
		raw, err = d.listAll(ctx, root)

	case *lastRef == head:
		since = head
		raw, err = d.uncommitted(ctx, root)

	default:
		since = *lastRef
		raw, err = d.committed(ctx, root, since, head)
	}
	if err != nil {
		return nil, "", err
	}

	var stats map[string]LineStats
	if since != "" {
		stats = d.lineStats(ctx, root, since)
	}
	return d.finalize(root, raw, stats), head, nil
}

// committed returns changes between since and head plus uncommitted work.
func (d *Detector) committed(ctx context.Context, root, since, head string) ([]ChangedFile, error) {
	out, err := repostate.Git(ctx, root, "diff", "--relative", "-M", "--name-status", "-z", since, head)
	if err != nil {
		return nil, errors.New(errors.RepoUnhealthy, "git diff failed", err)
	}
	changes := parseGitDiffNUL(out)

	uncommitted, err := d.uncommitted(ctx, root)
	if err != nil {
		return nil, err
	}
	return append(changes, uncommitted...), nil
}

// uncommitted returns staged, unstaged and untracked changes, in that order.
func (d *Detector) uncommitted(ctx context.Context, root string) ([]ChangedFile, error) {
	var changes []ChangedFile

	staged, err := repostate.Git(ctx, root, "diff", "--relative", "-M", "--name-status", "-z", "--cached")
	if err != nil {
		return nil, errors.New(errors.RepoUnhealthy, "git diff --cached failed", err)
	}
	changes = append(changes, parseGitDiffNUL(staged)...)

	unstaged, err := repostate.Git(ctx, root, "diff", "--relative", "-M", "--name-status", "-z")
	if err != nil {
		return nil, errors.New(errors.RepoUnhealthy, "git diff failed", err)
	}
	changes = append(changes, parseGitDiffNUL(unstaged)...)

	untracked, err := repostate.Git(ctx, root, "ls-files", "-z", "--others", "--exclude-standard")
	if err != nil {
		return nil, errors.New(errors.RepoUnhealthy, "git ls-files failed", err)
	}
	for _, p := range splitNUL(untracked) {
		changes = append(changes, ChangedFile{Path: p, ChangeType: ChangeAdded})
	}
	return changes, nil
}

// listAll returns every tracked and untracked, non-ignored file.
func (d *Detector) listAll(ctx context.Context, root string) ([]ChangedFile, error) {
	out, err := repostate.Git(ctx, root, "ls-files", "-z", "--cached", "--others", "--exclude-standard")
	if err != nil {
		return nil, errors.New(errors.RepoUnhealthy, "git ls-files failed", err)
	}
	paths := splitNUL(out)
	changes := make([]ChangedFile, 0, len(paths))
	for _, p := range paths {
		changes = append(changes, ChangedFile{Path: p, ChangeType: ChangeAdded})
	}
	return changes, nil
}

// lineStats is best effort: a failure only costs the request metadata.
func (d *Detector) lineStats(ctx context.Context, root, since string) map[string]LineStats {
	out, err := repostate.Git(ctx, root, "diff", "--relative", "--no-color", "--no-ext-diff", since)
	if err != nil {
		d.logger.Debug("Line statistics unavailable", "root", root, "error", err.Error())
		return nil
	}
	stats, err := ParseLineStats(out)
	if err != nil {
		d.logger.Debug("Line statistics unavailable", "root", root, "error", err.Error())
		return nil
	}
	return stats
}

// finalize deduplicates (later changes win), drops deletions and
// filtered paths, attaches sizes and line stats, and sorts by path.
func (d *Detector) finalize(root string, raw []ChangedFile, stats map[string]LineStats) []ChangedFile {
	deduped := deduplicateChanges(raw)

	result := make([]ChangedFile, 0, len(deduped))
	for _, c := range deduped {
		if c.ChangeType == ChangeDeleted || !d.filter.PathAllowed(c.Path) {
			continue
		}
		info, ok := d.filter.Stat(root, c.Path)
		if !ok {
			continue
		}
		c.Size = info.Size()
		c.ModTime = info.ModTime()
		if s, ok := stats[c.Path]; ok {
			c.Added = s.Added
			c.Deleted = s.Deleted
		}
		result = append(result, c)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result
}

// parseGitDiffNUL parses git diff --name-status -z output
// Format: STATUS\0PATH\0 (or STATUS\0OLDPATH\0NEWPATH\0 for renames/copies)
func parseGitDiffNUL(output []byte) []ChangedFile {
	var changes []ChangedFile

	parts := bytes.Split(output, []byte{0})
	for i := 0; i < len(parts); {
		if len(parts[i]) == 0 {
			i++
			continue
		}

		status := string(parts[i])
		if i+1 >= len(parts) {
			break
		}

		var oldPath, newPath string
		if strings.HasPrefix(status, "R") || strings.HasPrefix(status, "C") {
			oldPath = string(parts[i+1])
			i += 2
			if i >= len(parts) {
				continue
			}
			newPath = string(parts[i])
			i++
		} else {
			newPath = string(parts[i+1])
			oldPath = newPath
			i += 2
		}

		switch {
		case status == "A":
			changes = append(changes, ChangedFile{Path: newPath, ChangeType: ChangeAdded})
		case status == "D":
			changes = append(changes, ChangedFile{Path: oldPath, ChangeType: ChangeDeleted})
		case strings.HasPrefix(status, "R"):
			// The old path is gone, the new path is what gets analyzed.
			changes = append(changes,
				ChangedFile{Path: oldPath, ChangeType: ChangeDeleted},
				ChangedFile{Path: newPath, OldPath: oldPath, ChangeType: ChangeRenamed},
			)
		case strings.HasPrefix(status, "C"):
			changes = append(changes, ChangedFile{Path: newPath, ChangeType: ChangeAdded})
		default:
			changes = append(changes, ChangedFile{Path: newPath, ChangeType: ChangeModified})
		}
	}

	return changes
}

// deduplicateChanges keeps the last change per path, in first-seen order.
func deduplicateChanges(changes []ChangedFile) []ChangedFile {
	index := make(map[string]int, len(changes))
	var result []ChangedFile
	for _, c := range changes {
		c.Path = filepath.ToSlash(c.Path)
		if i, ok := index[c.Path]; ok {
			result[i] = c
			continue
		}
		index[c.Path] = len(result)
		result = append(result, c)
	}
	return result
}

func splitNUL(out []byte) []string {
	var paths []string
	for _, p := range bytes.Split(out, []byte{0}) {
		if len(p) > 0 {
			paths = append(paths, string(p))
		}
	}
	return paths
}
