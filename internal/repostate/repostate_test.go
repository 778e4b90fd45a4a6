package repostate

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"devscan/internal/errors"
)

func TestHashString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string returns empty hash",
			input:    "",
			expected: EmptyHash,
		},
		{
			name:     "simple string",
			input:    "hello",
			expected: fmt.Sprintf("%x", sha256.Sum256([]byte("hello"))),
		},
		{
			name:     "multiline string",
			input:    "line1\nline2\nline3",
			expected: fmt.Sprintf("%x", sha256.Sum256([]byte("line1\nline2\nline3"))),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := hashString(tc.input)
			if result != tc.expected {
				t.Errorf("hashString(%q) = %q, expected %q", tc.input, result, tc.expected)
			}
		})
	}
}

func TestComputeRepoStateID(t *testing.T) {
	// Test with known inputs
	headCommit := "abc123"
	stagedHash := "staged123"
	workingHash := "working123"
	untrackedHash := "untracked123"

	result := computeRepoStateID(headCommit, stagedHash, workingHash, untrackedHash)

	// Verify it's a valid SHA256 hash (64 hex characters)
	if len(result) != 64 {
		t.Errorf("Expected 64 character hash, got %d characters", len(result))
	}

	// Verify consistency - same inputs should produce same output
	result2 := computeRepoStateID(headCommit, stagedHash, workingHash, untrackedHash)
	if result != result2 {
		t.Error("computeRepoStateID not consistent for same inputs")
	}

	// Verify different inputs produce different outputs
	result3 := computeRepoStateID("different", stagedHash, workingHash, untrackedHash)
	if result == result3 {
		t.Error("Different inputs should produce different hashes")
	}
}

func TestEmptyHashConstant(t *testing.T) {
	// Verify EmptyHash is the SHA256 of empty string
	expected := fmt.Sprintf("%x", sha256.Sum256([]byte("")))
	if EmptyHash != expected {
		t.Errorf("EmptyHash = %q, expected %q (SHA256 of empty string)", EmptyHash, expected)
	}
}

// initRepo creates a git repository with one committed file.
func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	dir := t.TempDir()
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	runGit(t, dir, "init", "-q")
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	runGit(t, dir, "add", "main.go")
	runGit(t, dir, "commit", "-q", "-m", "init")
	return dir
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	full := append([]string{
		"-c", "user.name=devscan", "-c", "user.email=devscan@example.com",
		"-c", "commit.gpgsign=false",
	}, args...)
	cmd := exec.Command("git", full...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

func TestIsGitRepository(t *testing.T) {
	repoRoot := initRepo(t)

	t.Run("valid git repository", func(t *testing.T) {
		if !IsGitRepository(repoRoot) {
			t.Errorf("Expected %s to be a git repository", repoRoot)
		}
	})

	t.Run("non-git directory", func(t *testing.T) {
		tmpDir := t.TempDir()
		if IsGitRepository(tmpDir) {
			t.Errorf("Expected %s to NOT be a git repository", tmpDir)
		}
	})
}

func TestGetRepoRoot(t *testing.T) {
	repoRoot := initRepo(t)
	ctx := context.Background()

	t.Run("from repo root", func(t *testing.T) {
		root, err := GetRepoRoot(ctx, repoRoot)
		if err != nil {
			t.Fatalf("GetRepoRoot failed: %v", err)
		}
		if root != repoRoot {
			t.Errorf("GetRepoRoot(%s) = %s, expected %s", repoRoot, root, repoRoot)
		}
	})

	t.Run("from subdirectory", func(t *testing.T) {
		subdir := filepath.Join(repoRoot, "internal")
		if err := os.MkdirAll(subdir, 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		root, err := GetRepoRoot(ctx, subdir)
		if err != nil {
			t.Fatalf("GetRepoRoot from subdir failed: %v", err)
		}
		if root != repoRoot {
			t.Errorf("GetRepoRoot(%s) = %s, expected %s", subdir, root, repoRoot)
		}
	})

	t.Run("non-git directory returns error", func(t *testing.T) {
		_, err := GetRepoRoot(ctx, t.TempDir())
		if err == nil {
			t.Fatal("Expected error for non-git directory")
		}
		if !errors.Is(err, errors.RepoUnhealthy) {
			t.Errorf("error code = %q, want %q", errors.CodeOf(err), errors.RepoUnhealthy)
		}
	})
}

func TestComputeRepoState(t *testing.T) {
	repoRoot := initRepo(t)
	ctx := context.Background()

	t.Run("clean repository", func(t *testing.T) {
		state, err := ComputeRepoState(ctx, repoRoot)
		if err != nil {
			t.Fatalf("ComputeRepoState failed: %v", err)
		}
		if len(state.HeadCommit) != 40 {
			t.Errorf("HeadCommit should be 40 char SHA, got %d chars", len(state.HeadCommit))
		}
		if state.Dirty {
			t.Error("fresh commit should not be dirty")
		}
		if state.StagedDiffHash != EmptyHash || state.WorkingTreeDiffHash != EmptyHash || state.UntrackedListHash != EmptyHash {
			t.Error("clean repository should have empty hashes")
		}
		if state.ComputedAt == "" {
			t.Error("ComputedAt should not be empty")
		}
	})

	t.Run("returns error for non-git directory", func(t *testing.T) {
		_, err := ComputeRepoState(ctx, t.TempDir())
		if err == nil {
			t.Error("Expected error for non-git directory")
		}
	})

	t.Run("dirty detection", func(t *testing.T) {
		before, err := ComputeRepoState(ctx, repoRoot)
		if err != nil {
			t.Fatalf("ComputeRepoState failed: %v", err)
		}
		if err := os.WriteFile(filepath.Join(repoRoot, "new.go"), []byte("package main\n"), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
		after, err := ComputeRepoState(ctx, repoRoot)
		if err != nil {
			t.Fatalf("ComputeRepoState failed: %v", err)
		}
		if !after.Dirty {
			t.Error("untracked file should make the repository dirty")
		}
		if after.RepoStateID == before.RepoStateID {
			t.Error("RepoStateID should change with the working tree")
		}
		if after.HeadCommit != before.HeadCommit {
			t.Errorf("HeadCommit changed: %s vs %s", before.HeadCommit, after.HeadCommit)
		}
	})
}

func TestGitHelperFunctions(t *testing.T) {
	repoRoot := initRepo(t)
	ctx := context.Background()

	head, err := HeadCommit(ctx, repoRoot)
	if err != nil {
		t.Fatalf("HeadCommit failed: %v", err)
	}
	if head != runGit(t, repoRoot, "rev-parse", "HEAD") {
		t.Errorf("HeadCommit = %s, want git rev-parse HEAD", head)
	}

	t.Run("resolve known commit", func(t *testing.T) {
		if !ResolveCommit(ctx, repoRoot, head) {
			t.Errorf("ResolveCommit(%s) = false, want true", head)
		}
	})

	t.Run("resolve unknown ref", func(t *testing.T) {
		for _, ref := range []string{"", "invalid-ref-that-does-not-exist-xyz123", "--all", strings.Repeat("0", 40)} {
			if ResolveCommit(ctx, repoRoot, ref) {
				t.Errorf("ResolveCommit(%q) = true, want false", ref)
			}
		}
	})

	t.Run("has commits", func(t *testing.T) {
		if !HasCommits(ctx, repoRoot) {
			t.Error("HasCommits = false after initial commit")
		}
		empty := t.TempDir()
		runGit(t, empty, "init", "-q")
		if HasCommits(ctx, empty) {
			t.Error("HasCommits = true on empty repository")
		}
	})

	t.Run("git error carries stderr", func(t *testing.T) {
		_, err := Git(ctx, repoRoot, "rev-parse", "--verify", "no-such-ref")
		if err == nil {
			t.Fatal("Expected error for invalid ref")
		}
		if !strings.Contains(err.Error(), "git rev-parse") {
			t.Errorf("error %q should name the subcommand", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := Git(cctx, repoRoot, "status"); err == nil {
			t.Error("Expected error with cancelled context")
		}
	})
}
