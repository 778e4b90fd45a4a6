package repos

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"

	"devscan/internal/errors"
	"devscan/internal/storage"
)

// RepoEnvVar selects the repository when no argument is given.
const RepoEnvVar = "DEVSCAN_REPO"

// ResolutionSource indicates how the repository was determined.
type ResolutionSource string

const (
	// ResolvedFromID indicates the argument was a registered id.
	ResolvedFromID ResolutionSource = "id"

	// ResolvedFromPath indicates the argument was a path inside a registered repo.
	ResolvedFromPath ResolutionSource = "path"

	// ResolvedFromEnv indicates the repo was set via DEVSCAN_REPO.
	ResolvedFromEnv ResolutionSource = "env"

	// ResolvedFromCWD indicates the working directory is inside a registered repo.
	ResolvedFromCWD ResolutionSource = "cwd"
)

// Resolve finds the registered repository named by arg, in order:
// 1. arg as a registered id
// 2. arg as a path inside a registered repository
// 3. DEVSCAN_REPO when arg is empty
// 4. the working directory when arg is empty
func Resolve(q storage.Querier, arg, cwd string) (*storage.Repository, ResolutionSource, error) {
	all, err := storage.ListRepositories(q)
	if err != nil {
		return nil, "", err
	}

	if arg != "" {
		if repo := findByID(all, arg); repo != nil {
			return repo, ResolvedFromID, nil
		}
		if repo := findRepoContainingPath(all, arg); repo != nil {
			return repo, ResolvedFromPath, nil
		}
		return nil, "", notRegistered(arg)
	}

	if env := os.Getenv(RepoEnvVar); env != "" {
		if repo := findByID(all, env); repo != nil {
			return repo, ResolvedFromEnv, nil
		}
		return nil, "", notRegistered(env)
	}

	if cwd != "" {
		if repo := findRepoContainingPath(all, cwd); repo != nil {
			return repo, ResolvedFromCWD, nil
		}
		if root := FindGitRoot(cwd); root != "" {
			return nil, "", errors.New(errors.RepoNotFound,
				fmt.Sprintf("git repository at %s is not registered; add it with 'devscan repo add'", root), nil)
		}
	}
	return nil, "", errors.New(errors.RepoNotFound, "no repository specified", nil)
}

// Get returns the repository with the given id, mapping a missing row to
// a RepoNotFound error.
func Get(q storage.Querier, id string) (*storage.Repository, error) {
	repo, err := storage.GetRepository(q, id)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, notRegistered(id)
	}
	return repo, err
}

func notRegistered(arg string) error {
	return errors.New(errors.RepoNotFound, fmt.Sprintf("repository '%s' not found", arg), nil)
}

func findByID(all []*storage.Repository, id string) *storage.Repository {
	for _, repo := range all {
		if repo.ID == id {
			return repo
		}
	}
	return nil
}

// findRepoContainingPath finds a registered repo whose path contains the given path.
// When multiple repos match, returns the most specific one (longest path).
func findRepoContainingPath(all []*storage.Repository, path string) *storage.Repository {
	absPath, err := NormalizePath(path)
	if err != nil {
		return nil
	}

	// Resolve symlinks for comparison (handles macOS /var -> /private/var)
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	var bestMatch *storage.Repository
	bestMatchLen := -1

	for _, repo := range all {
		resolvedRoot, err := filepath.EvalSymlinks(repo.RootPath)
		if err != nil {
			resolvedRoot = repo.RootPath
		}

		rel, err := filepath.Rel(resolvedRoot, resolvedPath)
		if err != nil {
			continue
		}

		// Path is inside repo if rel is "." or doesn't climb out
		isInside := rel == "." || (rel != ".." && !hasParentPrefix(rel))
		if !isInside {
			continue
		}

		// Pick the most specific match (longest path wins)
		if len(resolvedRoot) > bestMatchLen {
			bestMatchLen = len(resolvedRoot)
			bestMatch = repo
		}
	}

	return bestMatch
}

func hasParentPrefix(rel string) bool {
	return len(rel) >= 3 && rel[:2] == ".." && os.IsPathSeparator(rel[2])
}

// FindGitRoot walks up the directory tree from the given path to find the git root.
// Returns the path containing .git, or empty string if not in a git repo.
func FindGitRoot(path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return ""
	}

	// Resolve symlinks (handles macOS /var -> /private/var)
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		absPath = resolved
	}

	current := absPath
	for {
		gitPath := filepath.Join(current, ".git")
		if info, err := os.Stat(gitPath); err == nil {
			// .git can be a directory (normal repo) or file (worktree/submodule)
			if info.IsDir() || info.Mode().IsRegular() {
				return current
			}
		}

		parent := filepath.Dir(current)
		if parent == current {
			// Reached root
			return ""
		}
		current = parent
	}
}
