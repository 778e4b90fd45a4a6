package repos

import (
	"os"
	"path/filepath"
	"testing"

	"devscan/internal/errors"
	"devscan/internal/storage"
)

func registerDir(t *testing.T, db *storage.DB, id, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if _, err := NewRegistry(db, "60m", nil).Add(Entry{ID: id, Path: dir}); err != nil {
		t.Fatalf("Add(%s) error = %v", id, err)
	}
}

func TestResolve_ByID(t *testing.T) {
	db := newTestDB(t)
	registerDir(t, db, "api", filepath.Join(t.TempDir(), "api"))
	t.Setenv(RepoEnvVar, "")

	repo, source, err := Resolve(db, "api", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.ID != "api" || source != ResolvedFromID {
		t.Errorf("got %s via %q, want api via id", repo.ID, source)
	}
}

func TestResolve_ByPath(t *testing.T) {
	db := newTestDB(t)
	root := t.TempDir()
	outer := filepath.Join(root, "mono")
	inner := filepath.Join(outer, "services", "billing")
	registerDir(t, db, "mono", outer)
	registerDir(t, db, "billing", inner)
	t.Setenv(RepoEnvVar, "")

	sub := filepath.Join(inner, "cmd")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	repo, source, err := Resolve(db, sub, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.ID != "billing" || source != ResolvedFromPath {
		t.Errorf("got %s via %q, want the most specific repo (billing) via path", repo.ID, source)
	}

	repo, _, err = Resolve(db, filepath.Join(outer, "docs"), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.ID != "mono" {
		t.Errorf("got %s, want mono", repo.ID)
	}
}

func TestResolve_SiblingPrefixDoesNotMatch(t *testing.T) {
	db := newTestDB(t)
	root := t.TempDir()
	registerDir(t, db, "app", filepath.Join(root, "app"))
	t.Setenv(RepoEnvVar, "")

	sibling := filepath.Join(root, "app-old")
	if err := os.MkdirAll(sibling, 0755); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Resolve(db, sibling, ""); !errors.Is(err, errors.RepoNotFound) {
		t.Errorf("sibling dir resolved, err = %v", err)
	}
	if _, _, err := Resolve(db, root, ""); !errors.Is(err, errors.RepoNotFound) {
		t.Errorf("parent dir resolved, err = %v", err)
	}
}

func TestResolve_EnvAndCWD(t *testing.T) {
	db := newTestDB(t)
	dir := filepath.Join(t.TempDir(), "web")
	registerDir(t, db, "web", dir)

	t.Setenv(RepoEnvVar, "web")
	repo, source, err := Resolve(db, "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.ID != "web" || source != ResolvedFromEnv {
		t.Errorf("got %s via %q, want web via env", repo.ID, source)
	}

	t.Setenv(RepoEnvVar, "nope")
	if _, _, err := Resolve(db, "", ""); !errors.Is(err, errors.RepoNotFound) {
		t.Errorf("unknown env repo: err = %v", err)
	}

	t.Setenv(RepoEnvVar, "")
	repo, source, err = Resolve(db, "", dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.ID != "web" || source != ResolvedFromCWD {
		t.Errorf("got %s via %q, want web via cwd", repo.ID, source)
	}

	if _, _, err := Resolve(db, "", ""); !errors.Is(err, errors.RepoNotFound) {
		t.Errorf("nothing to resolve: err = %v", err)
	}
}

func TestGet(t *testing.T) {
	db := newTestDB(t)
	registerDir(t, db, "api", filepath.Join(t.TempDir(), "api"))

	if _, err := Get(db, "api"); err != nil {
		t.Errorf("Get(api) error = %v", err)
	}
	if _, err := Get(db, "missing"); !errors.Is(err, errors.RepoNotFound) {
		t.Errorf("Get(missing) error = %v, want RepoNotFound", err)
	}
}

func TestFindGitRoot(t *testing.T) {
	tmpDir := t.TempDir()
	resolved, err := filepath.EvalSymlinks(tmpDir)
	if err != nil {
		resolved = tmpDir
	}

	repo := filepath.Join(resolved, "repo")
	nested := filepath.Join(repo, "a", "b")
	if err := os.MkdirAll(filepath.Join(repo, ".git"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	if got := FindGitRoot(nested); got != repo {
		t.Errorf("FindGitRoot(nested) = %q, want %q", got, repo)
	}

	// Worktrees use a .git file
	wt := filepath.Join(resolved, "worktree")
	if err := os.MkdirAll(wt, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(wt, ".git"), []byte("gitdir: /elsewhere\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := FindGitRoot(wt); got != wt {
		t.Errorf("FindGitRoot(worktree) = %q, want %q", got, wt)
	}
}
