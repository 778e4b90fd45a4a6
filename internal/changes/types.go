package changes

import "time"

// ChangeType represents how a file changed
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
	ChangeRenamed  ChangeType = "renamed"
)

// ChangedFile is one file that needs analysis in the current cycle.
type ChangedFile struct {
	Path       string     // repo-relative, forward slashes
	OldPath    string     // previous path for renames
	ChangeType ChangeType // how the file changed
	Size       int64      // bytes on disk at detection time
	ModTime    time.Time

	// Line statistics from the unified diff against the last committed
	// reference. Zero when no reference is set.
	Added   int
	Deleted int
}

// TreeReferencePrefix marks references computed from a directory listing
// rather than a VCS revision.
const TreeReferencePrefix = "tree:"
