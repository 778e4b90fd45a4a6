package changes

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"golang.org/x/crypto/blake2b"

	"devscan/internal/errors"
)

// detectTree handles directories without version control. Every file is
// reported unless the listing digest equals the last reference.
func (d *Detector) detectTree(ctx context.Context, root string, lastRef *string) ([]ChangedFile, string, error) {
	files, err := d.walk(ctx, root)
	if err != nil {
		return nil, "", err
	}

	ref := treeReference(files)
	if lastRef != nil && *lastRef == ref {
		return nil, ref, nil
	}
	return files, ref, nil
}

// walk lists analyzable files under root, skipping ignored directories.
// Unreadable entries are skipped.
func (d *Detector) walk(ctx context.Context, root string) ([]ChangedFile, error) {
	var files []ChangedFile
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil //nolint:nilerr // skip inaccessible entries, continue walking
		}
		if entry.IsDir() {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if path != root && skipDirs[entry.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil //nolint:nilerr // outside root, cannot happen for WalkDir
		}
		rel = filepath.ToSlash(rel)
		if !d.filter.PathAllowed(rel) {
			return nil
		}
		info, ok := d.filter.Stat(root, rel)
		if !ok {
			return nil
		}
		files = append(files, ChangedFile{
			Path:       rel,
			ChangeType: ChangeModified,
			Size:       info.Size(),
			ModTime:    info.ModTime(),
		})
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.New(errors.RepoUnhealthy, "failed to walk repository", err).
			WithDetails(map[string]string{"root": root})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// treeReference digests the (path, size, mtime) listing of files, which
// must be sorted by path.
func treeReference(files []ChangedFile) string {
	h, _ := blake2b.New256(nil)
	for _, f := range files {
		fmt.Fprintf(h, "%s\x00%d\x00%d\x00", f.Path, f.Size, f.ModTime.UnixNano())
	}
	return TreeReferencePrefix + fmt.Sprintf("%x", h.Sum(nil))
}
