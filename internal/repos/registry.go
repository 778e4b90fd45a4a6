// Package repos manages the set of scanned repositories: registration,
// the YAML manifest, and resolution of user-supplied names and paths.
package repos

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"devscan/internal/errors"
	"devscan/internal/repostate"
	"devscan/internal/scheduler"
	"devscan/internal/slogutil"
	"devscan/internal/storage"
)

// RepoState represents the current state of a registered repository.
type RepoState string

const (
	RepoStateValid   RepoState = "valid"   // Path exists and is a git work tree
	RepoStatePlain   RepoState = "plain"   // Path exists, no version control
	RepoStateMissing RepoState = "missing" // Path doesn't exist
)

// Entry is one repository in the manifest.
type Entry struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name,omitempty"`
	Path     string `yaml:"path"`
	Interval string `yaml:"interval,omitempty"`
	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled,omitempty"`
}

// IsEnabled reports whether periodic scanning is on for the entry.
func (e Entry) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// Manifest is the on-disk list of repositories.
type Manifest struct {
	Version      int     `yaml:"version"`
	Repositories []Entry `yaml:"repositories"`
}

const currentManifestVersion = 1

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateName checks if a repo id is valid.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("repo id cannot be empty")
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("repo id must contain only letters, numbers, underscores, and hyphens")
	}
	return nil
}

// ParseManifest decodes and validates a manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.New(errors.ConfigInvalid, "failed to parse repository manifest", err)
	}
	if m.Version == 0 {
		m.Version = currentManifestVersion
	}
	if m.Version > currentManifestVersion {
		return nil, errors.New(errors.ConfigInvalid,
			fmt.Sprintf("manifest version %d not supported (max: %d)", m.Version, currentManifestVersion), nil)
	}

	seen := make(map[string]bool, len(m.Repositories))
	for i, e := range m.Repositories {
		if err := ValidateName(e.ID); err != nil {
			return nil, errors.New(errors.ConfigInvalid, fmt.Sprintf("repositories[%d]: %s", i, err), nil)
		}
		if seen[e.ID] {
			return nil, errors.New(errors.ConfigInvalid, fmt.Sprintf("repositories[%d]: duplicate id '%s'", i, e.ID), nil)
		}
		seen[e.ID] = true
		if strings.TrimSpace(e.Path) == "" {
			return nil, errors.New(errors.ConfigInvalid, fmt.Sprintf("repositories[%d]: path is required", i), nil)
		}
		if e.Interval != "" {
			if _, err := scheduler.ParseInterval(e.Interval); err != nil {
				return nil, err
			}
		}
	}
	return &m, nil
}

// LoadManifest reads a manifest from path. A missing file is an empty manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Manifest{Version: currentManifestVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}

// Save writes the manifest atomically under a file lock.
func (m *Manifest) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	lock, err := acquireLock(path + ".lock")
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = lock.Release() }()

	m.Version = currentManifestVersion
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	// Write atomically
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename manifest: %w", err)
	}
	return nil
}

// Registry registers repositories in the database.
type Registry struct {
	db              storage.Querier
	defaultInterval string
	logger          *slog.Logger
}

// NewRegistry creates a registry. defaultInterval applies to entries
// without their own interval.
func NewRegistry(db storage.Querier, defaultInterval string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{db: db, defaultInterval: defaultInterval, logger: logger}
}

// Add registers or updates the repository described by e. Scan progress of
// an existing repository is kept.
func (r *Registry) Add(e Entry) (*storage.Repository, error) {
	if err := ValidateName(e.ID); err != nil {
		return nil, errors.New(errors.ConfigInvalid, err.Error(), nil)
	}

	absPath, err := NormalizePath(e.Path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, errors.New(errors.RepoUnhealthy, fmt.Sprintf("path does not exist: %s", absPath), err)
	}
	if !info.IsDir() {
		return nil, errors.New(errors.RepoUnhealthy, fmt.Sprintf("path is not a directory: %s", absPath), nil)
	}

	expr := e.Interval
	if expr == "" {
		expr = r.defaultInterval
	}
	interval, err := scheduler.ParseInterval(expr)
	if err != nil {
		return nil, err
	}

	name := e.Name
	if name == "" {
		name = e.ID
	}
	repo := &storage.Repository{
		ID:           e.ID,
		Name:         name,
		RootPath:     absPath,
		ScanEnabled:  e.IsEnabled(),
		IntervalExpr: expr,
		ScanInterval: interval,
	}
	if err := storage.UpsertRepository(r.db, repo); err != nil {
		return nil, err
	}
	r.logger.Info("Registered repository", slogutil.RepoKey, e.ID, "path", absPath, "interval", expr)
	return storage.GetRepository(r.db, e.ID)
}

// SyncReport lists what a manifest sync changed.
type SyncReport struct {
	Added    []string
	Updated  []string
	Disabled []string
}

// Sync registers every manifest entry. With prune set, registered
// repositories missing from the manifest have periodic scanning disabled;
// their state is kept.
func (r *Registry) Sync(m *Manifest, prune bool) (*SyncReport, error) {
	existing, err := storage.ListRepositories(r.db)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(existing))
	for _, repo := range existing {
		known[repo.ID] = true
	}

	report := &SyncReport{}
	listed := make(map[string]bool, len(m.Repositories))
	for _, e := range m.Repositories {
		if _, err := r.Add(e); err != nil {
			return report, fmt.Errorf("repository '%s': %w", e.ID, err)
		}
		listed[e.ID] = true
		if known[e.ID] {
			report.Updated = append(report.Updated, e.ID)
		} else {
			report.Added = append(report.Added, e.ID)
		}
	}

	if prune {
		for _, repo := range existing {
			if listed[repo.ID] || !repo.ScanEnabled {
				continue
			}
			if err := storage.SetScanEnabled(r.db, repo.ID, false); err != nil {
				return report, err
			}
			report.Disabled = append(report.Disabled, repo.ID)
		}
	}
	return report, nil
}

// Export builds a manifest from the registered repositories.
func (r *Registry) Export() (*Manifest, error) {
	repos, err := storage.ListRepositories(r.db)
	if err != nil {
		return nil, err
	}
	m := &Manifest{Version: currentManifestVersion}
	for _, repo := range repos {
		enabled := repo.ScanEnabled
		m.Repositories = append(m.Repositories, Entry{
			ID:       repo.ID,
			Name:     repo.Name,
			Path:     repo.RootPath,
			Interval: repo.IntervalExpr,
			Enabled:  &enabled,
		})
	}
	sort.Slice(m.Repositories, func(i, j int) bool { return m.Repositories[i].ID < m.Repositories[j].ID })
	return m, nil
}

// ValidateState checks the current state of a repository root.
func ValidateState(root string) RepoState {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return RepoStateMissing
	}
	if !repostate.IsGitRepository(root) {
		return RepoStatePlain
	}
	return RepoStateValid
}

// NormalizePath expands a leading ~ and returns a clean absolute path.
func NormalizePath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	return filepath.Clean(absPath), nil
}

// FileLock represents a file-based lock.
type FileLock struct {
	file *os.File
}

// Release releases the file lock.
func (l *FileLock) Release() error {
	if l.file != nil {
		_ = unlockFile(l.file)
		_ = l.file.Close()
		l.file = nil
	}
	return nil
}

func acquireLock(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}

	if err := lockFile(f); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &FileLock{file: f}, nil
}
