package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"devscan/internal/config"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	configFormat string
	configForce  bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long: `Commands for inspecting and initializing devscan configuration.

Configuration is read from config.json, config.yaml or config.toml in the data
directory. Any value can be overridden with a DEVSCAN_ environment variable,
e.g. DEVSCAN_BUDGET_PERRUNCEILING=5.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file and environment
overrides are merged. The API key is redacted.

Examples:
  devscan config show
  devscan config show --format=yaml
  devscan config show --format=toml`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to config.json",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", "json", "Output format (json, yaml, toml)")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config.json")

	configCmd.AddCommand(configShowCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	dataDir, err := resolveDataDir()
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig(dataDir)
	if err != nil {
		return err
	}

	out, err := renderConfig(cfg, configFormat)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}
	return nil
}

// renderConfig encodes cfg with its JSON field names in the requested format.
func renderConfig(cfg *config.Config, format string) (string, error) {
	redacted := *cfg
	if redacted.Analysis.APIKey != "" {
		redacted.Analysis.APIKey = "********"
	}

	data, err := json.MarshalIndent(&redacted, "", "  ")
	if err != nil {
		return "", err
	}
	if format == "json" {
		return string(data) + "\n", nil
	}

	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return "", err
	}
	switch format {
	case "yaml":
		out, err := yaml.Marshal(tree)
		return string(out), err
	case "toml":
		out, err := toml.Marshal(tree)
		return string(out), err
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	dataDir, err := resolveDataDir()
	if err != nil {
		return err
	}

	path := filepath.Join(dataDir, "config.json")
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.DefaultConfig().Save(dataDir); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
