package repostate

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"devscan/internal/errors"
)

const (
	// EmptyHash represents an empty diff/list hash
	EmptyHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

// RepoState represents the current state of the repository
type RepoState struct {
	RepoStateID         string `json:"repoStateId"`
	HeadCommit          string `json:"headCommit"`
	StagedDiffHash      string `json:"stagedDiffHash"`
	WorkingTreeDiffHash string `json:"workingTreeDiffHash"`
	UntrackedListHash   string `json:"untrackedListHash"`
	Dirty               bool   `json:"dirty"`
	ComputedAt          string `json:"computedAt"`
}

// ComputeRepoState computes the current repository state using git commands
func ComputeRepoState(ctx context.Context, repoRoot string) (*RepoState, error) {
	headCommit, err := HeadCommit(ctx, repoRoot)
	if err != nil {
		return nil, err
	}

	stagedDiff, err := Git(ctx, repoRoot, "diff", "--cached")
	if err != nil {
		return nil, errors.New(errors.RepoUnhealthy, "failed to get staged diff", err)
	}
	stagedDiffHash := hashString(string(stagedDiff))

	workingDiff, err := Git(ctx, repoRoot, "diff", "HEAD")
	if err != nil {
		return nil, errors.New(errors.RepoUnhealthy, "failed to get working tree diff", err)
	}
	workingTreeDiffHash := hashString(string(workingDiff))

	untracked, err := Git(ctx, repoRoot, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, errors.New(errors.RepoUnhealthy, "failed to list untracked files", err)
	}
	untrackedListHash := hashString(string(untracked))

	dirty := stagedDiffHash != EmptyHash ||
		workingTreeDiffHash != EmptyHash ||
		untrackedListHash != EmptyHash

	return &RepoState{
		RepoStateID:         computeRepoStateID(headCommit, stagedDiffHash, workingTreeDiffHash, untrackedListHash),
		HeadCommit:          headCommit,
		StagedDiffHash:      stagedDiffHash,
		WorkingTreeDiffHash: workingTreeDiffHash,
		UntrackedListHash:   untrackedListHash,
		Dirty:               dirty,
		ComputedAt:          time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// Git runs a git subcommand in repoRoot and returns stdout.
// A non-zero exit is reported with git's stderr attached.
func Git(ctx context.Context, repoRoot string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoRoot
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("git %s: %w: %s", args[0], err, msg)
		}
		return nil, fmt.Errorf("git %s: %w", args[0], err)
	}
	return out, nil
}

// HeadCommit returns the full commit id HEAD points at.
func HeadCommit(ctx context.Context, repoRoot string) (string, error) {
	out, err := Git(ctx, repoRoot, "rev-parse", "--verify", "HEAD^{commit}")
	if err != nil {
		return "", errors.New(errors.RepoUnhealthy, "failed to resolve HEAD", err).
			WithDetails(map[string]string{"root": repoRoot})
	}
	return strings.TrimSpace(string(out)), nil
}

// HasCommits reports whether HEAD resolves to a commit. A freshly
// initialized repository has no commits yet.
func HasCommits(ctx context.Context, repoRoot string) bool {
	_, err := Git(ctx, repoRoot, "rev-parse", "--verify", "--quiet", "HEAD^{commit}")
	return err == nil
}

// ResolveCommit reports whether ref names a commit reachable in the
// repository's object store.
func ResolveCommit(ctx context.Context, repoRoot, ref string) bool {
	if ref == "" || strings.HasPrefix(ref, "-") {
		return false
	}
	_, err := Git(ctx, repoRoot, "cat-file", "-e", ref+"^{commit}")
	return err == nil
}

// hashString computes SHA256 hash of a string
func hashString(s string) string {
	if s == "" {
		return EmptyHash
	}
	return fmt.Sprintf("%x", sha256.Sum256([]byte(s)))
}

// computeRepoStateID computes the composite repoStateId from all components
func computeRepoStateID(headCommit, stagedHash, workingHash, untrackedHash string) string {
	composite := fmt.Sprintf("%s:%s:%s:%s", headCommit, stagedHash, workingHash, untrackedHash)
	return hashString(composite)
}

// IsGitRepository checks if the given path is inside a git work tree
func IsGitRepository(repoRoot string) bool {
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = repoRoot
	out, err := cmd.Output()
	return err == nil && strings.TrimSpace(string(out)) == "true"
}

// GetRepoRoot finds the git repository root from the given directory
func GetRepoRoot(ctx context.Context, startPath string) (string, error) {
	out, err := Git(ctx, startPath, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", errors.New(errors.RepoUnhealthy, "not a git repository", err).
			WithDetails(map[string]string{"root": startPath})
	}
	return strings.TrimSpace(string(out)), nil
}
