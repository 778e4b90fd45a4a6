package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// HomeEnvVar overrides the data directory
	HomeEnvVar = "DEVSCAN_HOME"
	// DefaultHome is the data directory name under the user's home
	DefaultHome = ".devscan"

	databaseFile = "devscan.db"
	logsDir      = "logs"
	daemonLog    = "daemon.log"
	scanLog      = "scan.log"
	manifestFile = "repos.yaml"
)

// GetHome returns the devscan data directory.
// $DEVSCAN_HOME wins, otherwise ~/.devscan.
func GetHome() (string, error) {
	if env := os.Getenv(HomeEnvVar); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DefaultHome), nil
}

// EnsureHome creates the data directory if needed and returns it
func EnsureHome() (string, error) {
	dir, err := GetHome()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

// GetDatabasePath returns the path of the SQLite database inside dataDir
func GetDatabasePath(dataDir string) string {
	return filepath.Join(dataDir, databaseFile)
}

// GetLogsDir returns the log directory inside dataDir
func GetLogsDir(dataDir string) string {
	return filepath.Join(dataDir, logsDir)
}

// GetDaemonLogPath returns the daemon log path inside dataDir
func GetDaemonLogPath(dataDir string) string {
	return filepath.Join(dataDir, logsDir, daemonLog)
}

// GetScanLogPath returns the log path used by one-shot scan commands
func GetScanLogPath(dataDir string) string {
	return filepath.Join(dataDir, logsDir, scanLog)
}

// GetManifestPath returns the default repository manifest path inside dataDir
func GetManifestPath(dataDir string) string {
	return filepath.Join(dataDir, manifestFile)
}

// CanonicalizePath converts an absolute path to a repo-relative canonical path
// - Resolves symlinks to real paths
// - Makes path relative to repo root
// - Converts backslashes to forward slashes
func CanonicalizePath(absolutePath string, repoRoot string) (string, error) {
	resolved, err := filepath.EvalSymlinks(absolutePath)
	if err != nil {
		// If the file doesn't exist yet, use the path as-is
		if os.IsNotExist(err) {
			resolved = absolutePath
		} else {
			return "", err
		}
	}

	repoRootResolved, err := filepath.EvalSymlinks(repoRoot)
	if err != nil {
		if os.IsNotExist(err) {
			repoRootResolved = repoRoot
		} else {
			return "", err
		}
	}

	relativePath, err := filepath.Rel(repoRootResolved, resolved)
	if err != nil {
		return "", err
	}

	return filepath.ToSlash(relativePath), nil
}

// IsWithinRepo checks if a path is within the repository root
func IsWithinRepo(path string, repoRoot string) bool {
	canonical, err := CanonicalizePath(path, repoRoot)
	if err != nil {
		return false
	}
	return !strings.HasPrefix(canonical, "..")
}

// NormalizePath converts backslashes to forward slashes
func NormalizePath(path string) string {
	return strings.ReplaceAll(filepath.ToSlash(path), "\\", "/")
}

// JoinRepoPath joins a repo root with a canonical path
func JoinRepoPath(repoRoot string, canonicalPath string) string {
	normalizedPath := strings.ReplaceAll(canonicalPath, "\\", "/")
	parts := strings.Split(normalizedPath, "/")
	return filepath.Join(append([]string{repoRoot}, parts...)...)
}
