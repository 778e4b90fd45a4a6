package main

import (
	"database/sql"
	"fmt"
	"time"

	"devscan/internal/paths"
	"devscan/internal/repos"
	"devscan/internal/storage"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	repoFormat   string
	repoName     string
	repoInterval string
	repoDisabled bool
	repoPrune    bool
	repoPurge    bool
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage registered repositories",
	Long: `Register, list and configure the repositories devscan scans.

Repositories can also be declared in a YAML manifest (default:
<data-dir>/repos.yaml) and synced with 'devscan repo import'.`,
}

var repoAddCmd = &cobra.Command{
	Use:   "add <id> <path>",
	Short: "Register a repository",
	Long: `Register a repository, or update the name, path and interval of an existing one.
Scan progress of an existing repository is kept.

Examples:
  devscan repo add api ~/src/api
  devscan repo add web ~/src/web --interval "every 30m"
  devscan repo add docs ~/src/docs --disabled`,
	Args: cobra.ExactArgs(2),
	RunE: runRepoAdd,
}

var repoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered repositories",
	Args:  cobra.NoArgs,
	RunE:  runRepoList,
}

var repoEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable periodic scanning",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setScanEnabled(cmd, args[0], true)
	},
}

var repoDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable periodic scanning",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setScanEnabled(cmd, args[0], false)
	},
}

var repoRescanCmd = &cobra.Command{
	Use:   "rescan <id>",
	Short: "Forget the committed reference so the next cycle analyzes every file",
	Long: `Clear the committed reference and the last attempt time of a repository.
The next cycle lists every file as changed and runs on the next scheduler tick.
Cached analyses are reused, so unchanged files cost nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: runRepoRescan,
}

var repoRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Unregister a repository",
	Long: `Remove a repository with its checkpoint and file results. Run history is kept.
Cache entries are shared by content and kept unless --purge-cache is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runRepoRemove,
}

var repoImportCmd = &cobra.Command{
	Use:   "import [manifest]",
	Short: "Sync repositories from a YAML manifest",
	Long: `Register every repository listed in a YAML manifest.

With --prune, registered repositories missing from the manifest have
periodic scanning disabled. Their history is kept.

Manifest format:
  version: 1
  repositories:
    - id: api
      path: ~/src/api
      interval: every 30m
    - id: docs
      path: ~/src/docs
      enabled: false`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRepoImport,
}

var repoExportCmd = &cobra.Command{
	Use:   "export [manifest]",
	Short: "Write registered repositories to a YAML manifest",
	Long: `Write every registered repository to a YAML manifest.
Use "-" to print the manifest instead of writing it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRepoExport,
}

func init() {
	repoAddCmd.Flags().StringVar(&repoName, "name", "", "Display name (default: the id)")
	repoAddCmd.Flags().StringVar(&repoInterval, "interval", "", "Scan interval, e.g. 45m or \"every 2h\" (default: scan.defaultInterval)")
	repoAddCmd.Flags().BoolVar(&repoDisabled, "disabled", false, "Register without periodic scanning")
	repoListCmd.Flags().StringVar(&repoFormat, "format", "human", "Output format (json, human)")
	repoRemoveCmd.Flags().BoolVar(&repoPurge, "purge-cache", false, "Also delete cache entries stored for this repository")
	repoImportCmd.Flags().BoolVar(&repoPrune, "prune", false, "Disable registered repositories missing from the manifest")

	repoCmd.AddCommand(repoAddCmd, repoListCmd, repoEnableCmd, repoDisableCmd,
		repoRescanCmd, repoRemoveCmd, repoImportCmd, repoExportCmd)
	rootCmd.AddCommand(repoCmd)
}

// RepoSummaryCLI describes one registered repository
type RepoSummaryCLI struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Path        string     `json:"path"`
	State       string     `json:"state"`
	Enabled     bool       `json:"enabled"`
	Interval    string     `json:"interval"`
	Reference   string     `json:"reference,omitempty"`
	LastOutcome string     `json:"lastOutcome,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
	LastAttempt *time.Time `json:"lastAttempt,omitempty"`
}

// RepoListResponseCLI lists registered repositories
type RepoListResponseCLI struct {
	Repositories []RepoSummaryCLI `json:"repositories"`
}

func newRepoSummary(r *storage.Repository) RepoSummaryCLI {
	s := RepoSummaryCLI{
		ID:          r.ID,
		Name:        r.Name,
		Path:        r.RootPath,
		State:       string(repos.ValidateState(r.RootPath)),
		Enabled:     r.ScanEnabled,
		Interval:    r.IntervalExpr,
		LastOutcome: r.LastOutcome,
		LastError:   r.LastError,
		LastAttempt: r.LastScanAttemptAt,
	}
	if r.LastCommittedReference != nil {
		s.Reference = *r.LastCommittedReference
	}
	return s
}

func runRepoAdd(cmd *cobra.Command, args []string) error {
	e, err := openEnv(false, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	entry := repos.Entry{ID: args[0], Name: repoName, Path: args[1], Interval: repoInterval}
	if repoDisabled {
		enabled := false
		entry.Enabled = &enabled
	}

	repo, err := repos.NewRegistry(e.db, e.cfg.Scan.DefaultInterval, e.logger).Add(entry)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registered %s at %s (every %s)\n", repo.ID, repo.RootPath, repo.IntervalExpr)
	if state := repos.ValidateState(repo.RootPath); state == repos.RepoStatePlain {
		fmt.Fprintln(cmd.OutOrStdout(), "Note: not a git repository; every cycle compares full file listings.")
	}
	return nil
}

func runRepoList(cmd *cobra.Command, args []string) error {
	e, err := openEnv(false, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	all, err := storage.ListRepositories(e.db)
	if err != nil {
		return err
	}
	resp := &RepoListResponseCLI{Repositories: make([]RepoSummaryCLI, 0, len(all))}
	for _, r := range all {
		resp.Repositories = append(resp.Repositories, newRepoSummary(r))
	}

	out, err := FormatResponse(resp, OutputFormat(repoFormat))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

func setScanEnabled(cmd *cobra.Command, id string, enabled bool) error {
	e, err := openEnv(false, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	if _, err := repos.Get(e.db, id); err != nil {
		return err
	}
	if err := storage.SetScanEnabled(e.db, id, enabled); err != nil {
		return err
	}
	verb := "Disabled"
	if enabled {
		verb = "Enabled"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s periodic scanning for %s\n", verb, id)
	return nil
}

func runRepoRescan(cmd *cobra.Command, args []string) error {
	e, err := openEnv(false, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	if _, err := repos.Get(e.db, args[0]); err != nil {
		return err
	}
	if err := e.db.WithTx(func(tx *sql.Tx) error {
		return storage.ForceRescan(tx, args[0])
	}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s will be fully rescanned on the next cycle\n", args[0])
	return nil
}

func runRepoRemove(cmd *cobra.Command, args []string) error {
	e, err := openEnv(false, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	id := args[0]
	if _, err := repos.Get(e.db, id); err != nil {
		return err
	}
	if repoPurge {
		c, err := e.openCache()
		if err != nil {
			return err
		}
		n, err := c.InvalidateRepo(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cache entries\n", n)
	}
	if err := storage.DeleteRepository(e.db, id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", id)
	return nil
}

func manifestPath(dataDir string, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return paths.GetManifestPath(dataDir)
}

func runRepoImport(cmd *cobra.Command, args []string) error {
	e, err := openEnv(false, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	path := manifestPath(e.dataDir, args)
	m, err := repos.LoadManifest(path)
	if err != nil {
		return err
	}
	report, err := repos.NewRegistry(e.db, e.cfg.Scan.DefaultInterval, e.logger).Sync(m, repoPrune)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Imported %s: %d added, %d updated, %d disabled\n",
		path, len(report.Added), len(report.Updated), len(report.Disabled))
	for _, id := range report.Disabled {
		fmt.Fprintf(out, "  disabled %s (not in manifest)\n", id)
	}
	return nil
}

func runRepoExport(cmd *cobra.Command, args []string) error {
	e, err := openEnv(false, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	m, err := repos.NewRegistry(e.db, e.cfg.Scan.DefaultInterval, e.logger).Export()
	if err != nil {
		return err
	}

	if len(args) > 0 && args[0] == "-" {
		data, err := yaml.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to encode manifest: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}

	path := manifestPath(e.dataDir, args)
	if err := m.Save(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d repositories to %s\n", len(m.Repositories), path)
	return nil
}
