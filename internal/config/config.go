package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// CurrentVersion is the config schema version written by Save.
const CurrentVersion = 1

// EnvPrefix is the prefix for environment overrides, e.g. DEVSCAN_BUDGET_PERRUNCEILING.
const EnvPrefix = "DEVSCAN"

// Config represents the complete devscan configuration
type Config struct {
	Version int `json:"version" mapstructure:"version"`

	Scan     ScanConfig     `json:"scan" mapstructure:"scan"`
	Budget   BudgetConfig   `json:"budget" mapstructure:"budget"`
	Cache    CacheConfig    `json:"cache" mapstructure:"cache"`
	Analysis AnalysisConfig `json:"analysis" mapstructure:"analysis"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
	Metrics  MetricsConfig  `json:"metrics" mapstructure:"metrics"`
}

// ScanConfig controls the periodic driver and per-repository processing
type ScanConfig struct {
	TickInterval       time.Duration `json:"tickInterval" mapstructure:"tickInterval"`
	DefaultInterval    string        `json:"defaultInterval" mapstructure:"defaultInterval"`
	MaxConcurrentRepos int           `json:"maxConcurrentRepos" mapstructure:"maxConcurrentRepos"`
	MaxInFlightPerRepo int           `json:"maxInFlightPerRepo" mapstructure:"maxInFlightPerRepo"`
	CallTimeout        time.Duration `json:"callTimeout" mapstructure:"callTimeout"`
	MaxAttempts        int           `json:"maxAttempts" mapstructure:"maxAttempts"`
	InitialBackoff     time.Duration `json:"initialBackoff" mapstructure:"initialBackoff"`
	MaxBackoff         time.Duration `json:"maxBackoff" mapstructure:"maxBackoff"`
	ShutdownTimeout    time.Duration `json:"shutdownTimeout" mapstructure:"shutdownTimeout"`
	Extensions         []string      `json:"extensions" mapstructure:"extensions"`
	MaxFileSizeBytes   int64         `json:"maxFileSizeBytes" mapstructure:"maxFileSizeBytes"`
}

// BudgetConfig contains cost limits. A ceiling of zero or less means unlimited.
type BudgetConfig struct {
	PerRunCeiling float64 `json:"perRunCeiling" mapstructure:"perRunCeiling"`
	DailyBudget   float64 `json:"dailyBudget" mapstructure:"dailyBudget"`
	MonthlyBudget float64 `json:"monthlyBudget" mapstructure:"monthlyBudget"`
}

// CacheConfig contains analysis cache sizing
type CacheConfig struct {
	MaxBytes      int64   `json:"maxBytes" mapstructure:"maxBytes"`
	HighWatermark float64 `json:"highWatermark" mapstructure:"highWatermark"`
	LowWatermark  float64 `json:"lowWatermark" mapstructure:"lowWatermark"`
	Codec         string  `json:"codec" mapstructure:"codec"`
}

// AnalysisConfig selects and tunes the analysis backend
type AnalysisConfig struct {
	Provider       string        `json:"provider" mapstructure:"provider"`
	Model          string        `json:"model" mapstructure:"model"`
	APIKey         string        `json:"apiKey,omitempty" mapstructure:"apiKey"`
	BaseURL        string        `json:"baseURL,omitempty" mapstructure:"baseURL"`
	PromptTemplate string        `json:"promptTemplate,omitempty" mapstructure:"promptTemplate"`
	SchemaVersion  int           `json:"schemaVersion" mapstructure:"schemaVersion"`
	MaxTokens      int           `json:"maxTokens" mapstructure:"maxTokens"`
	Temperature    float64       `json:"temperature" mapstructure:"temperature"`
	Pricing        PricingConfig `json:"pricing" mapstructure:"pricing"`
}

// PricingConfig holds per-million-token prices in dollars
type PricingConfig struct {
	InputPerMillion       float64 `json:"inputPerMillion" mapstructure:"inputPerMillion"`
	OutputPerMillion      float64 `json:"outputPerMillion" mapstructure:"outputPerMillion"`
	CachedInputPerMillion float64 `json:"cachedInputPerMillion" mapstructure:"cachedInputPerMillion"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format     string `json:"format" mapstructure:"format"`
	Level      string `json:"level" mapstructure:"level"`
	MaxSize    string `json:"maxSize" mapstructure:"maxSize"`
	MaxBackups int    `json:"maxBackups" mapstructure:"maxBackups"`

	// Per-subsystem overrides
	Daemon string `json:"daemon,omitempty" mapstructure:"daemon"`
	Scan   string `json:"scan,omitempty" mapstructure:"scan"`
}

// MetricsConfig controls the Prometheus endpoint served by the daemon
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Listen  string `json:"listen" mapstructure:"listen"`
}

// DefaultExtensions are the source file extensions analyzed when none are configured.
var DefaultExtensions = []string{".rs", ".py", ".js", ".ts", ".tsx", ".sh", ".kt", ".java", ".go", ".rb"}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Scan: ScanConfig{
			TickInterval:       60 * time.Second,
			DefaultInterval:    "60m",
			MaxConcurrentRepos: 2,
			MaxInFlightPerRepo: 4,
			CallTimeout:        2 * time.Minute,
			MaxAttempts:        3,
			InitialBackoff:     2 * time.Second,
			MaxBackoff:         30 * time.Second,
			ShutdownTimeout:    30 * time.Second,
			Extensions:         append([]string(nil), DefaultExtensions...),
			MaxFileSizeBytes:   100 * 1024,
		},
		Budget: BudgetConfig{
			PerRunCeiling: 3.00,
		},
		Cache: CacheConfig{
			MaxBytes:      256 * 1024 * 1024,
			HighWatermark: 0.9,
			LowWatermark:  0.7,
			Codec:         "zstd",
		},
		Analysis: AnalysisConfig{
			Provider:      "openai",
			Model:         "gpt-4o-mini",
			SchemaVersion: 1,
			MaxTokens:     2048,
			Temperature:   0.2,
			Pricing: PricingConfig{
				InputPerMillion:       0.20,
				OutputPerMillion:      0.50,
				CachedInputPerMillion: 0.05,
			},
		},
		Logging: LoggingConfig{
			Format:     "human",
			Level:      "info",
			MaxSize:    "10MB",
			MaxBackups: 3,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
		},
	}
}

// LoadConfig loads configuration from <dataDir>/config.{json,yaml,toml}.
// Values missing from the file keep their defaults; DEVSCAN_* environment
// variables override both.
func LoadConfig(dataDir string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetConfigName("config")
	v.AddConfigPath(dataDir)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if len(cfg.Scan.Extensions) == 0 {
		cfg.Scan.Extensions = append([]string(nil), DefaultExtensions...)
	}

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it during Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("version", d.Version)

	v.SetDefault("scan.tickInterval", d.Scan.TickInterval)
	v.SetDefault("scan.defaultInterval", d.Scan.DefaultInterval)
	v.SetDefault("scan.maxConcurrentRepos", d.Scan.MaxConcurrentRepos)
	v.SetDefault("scan.maxInFlightPerRepo", d.Scan.MaxInFlightPerRepo)
	v.SetDefault("scan.callTimeout", d.Scan.CallTimeout)
	v.SetDefault("scan.maxAttempts", d.Scan.MaxAttempts)
	v.SetDefault("scan.initialBackoff", d.Scan.InitialBackoff)
	v.SetDefault("scan.maxBackoff", d.Scan.MaxBackoff)
	v.SetDefault("scan.shutdownTimeout", d.Scan.ShutdownTimeout)
	v.SetDefault("scan.extensions", d.Scan.Extensions)
	v.SetDefault("scan.maxFileSizeBytes", d.Scan.MaxFileSizeBytes)

	v.SetDefault("budget.perRunCeiling", d.Budget.PerRunCeiling)
	v.SetDefault("budget.dailyBudget", d.Budget.DailyBudget)
	v.SetDefault("budget.monthlyBudget", d.Budget.MonthlyBudget)

	v.SetDefault("cache.maxBytes", d.Cache.MaxBytes)
	v.SetDefault("cache.highWatermark", d.Cache.HighWatermark)
	v.SetDefault("cache.lowWatermark", d.Cache.LowWatermark)
	v.SetDefault("cache.codec", d.Cache.Codec)

	v.SetDefault("analysis.provider", d.Analysis.Provider)
	v.SetDefault("analysis.model", d.Analysis.Model)
	v.SetDefault("analysis.apiKey", d.Analysis.APIKey)
	v.SetDefault("analysis.baseURL", d.Analysis.BaseURL)
	v.SetDefault("analysis.promptTemplate", d.Analysis.PromptTemplate)
	v.SetDefault("analysis.schemaVersion", d.Analysis.SchemaVersion)
	v.SetDefault("analysis.maxTokens", d.Analysis.MaxTokens)
	v.SetDefault("analysis.temperature", d.Analysis.Temperature)
	v.SetDefault("analysis.pricing.inputPerMillion", d.Analysis.Pricing.InputPerMillion)
	v.SetDefault("analysis.pricing.outputPerMillion", d.Analysis.Pricing.OutputPerMillion)
	v.SetDefault("analysis.pricing.cachedInputPerMillion", d.Analysis.Pricing.CachedInputPerMillion)

	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.maxSize", d.Logging.MaxSize)
	v.SetDefault("logging.maxBackups", d.Logging.MaxBackups)
	v.SetDefault("logging.daemon", d.Logging.Daemon)
	v.SetDefault("logging.scan", d.Logging.Scan)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
}

// Save writes the configuration to <dataDir>/config.json
func (c *Config) Save(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dataDir, "config.json"), data, 0600)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}

	s := c.Scan
	switch {
	case s.TickInterval < time.Second:
		return &ConfigError{Field: "scan.tickInterval", Message: "must be at least 1s"}
	case s.MaxConcurrentRepos < 1:
		return &ConfigError{Field: "scan.maxConcurrentRepos", Message: "must be at least 1"}
	case s.MaxInFlightPerRepo < 1:
		return &ConfigError{Field: "scan.maxInFlightPerRepo", Message: "must be at least 1"}
	case s.CallTimeout <= 0:
		return &ConfigError{Field: "scan.callTimeout", Message: "must be positive"}
	case s.MaxAttempts < 1:
		return &ConfigError{Field: "scan.maxAttempts", Message: "must be at least 1"}
	case s.InitialBackoff <= 0 || s.MaxBackoff < s.InitialBackoff:
		return &ConfigError{Field: "scan.maxBackoff", Message: "backoff bounds must satisfy 0 < initialBackoff <= maxBackoff"}
	case s.MaxFileSizeBytes <= 0:
		return &ConfigError{Field: "scan.maxFileSizeBytes", Message: "must be positive"}
	}
	for _, ext := range s.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return &ConfigError{Field: "scan.extensions", Message: fmt.Sprintf("extension %q must start with a dot", ext)}
		}
	}

	b := c.Budget
	for field, val := range map[string]float64{
		"budget.perRunCeiling": b.PerRunCeiling,
		"budget.dailyBudget":   b.DailyBudget,
		"budget.monthlyBudget": b.MonthlyBudget,
	} {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return &ConfigError{Field: field, Message: "must be a finite number"}
		}
	}

	cc := c.Cache
	if cc.MaxBytes <= 0 {
		return &ConfigError{Field: "cache.maxBytes", Message: "must be positive"}
	}
	if !(cc.LowWatermark > 0 && cc.LowWatermark < cc.HighWatermark && cc.HighWatermark <= 1) {
		return &ConfigError{Field: "cache.lowWatermark", Message: "watermarks must satisfy 0 < low < high <= 1"}
	}
	if cc.Codec != "zstd" && cc.Codec != "lz4" {
		return &ConfigError{Field: "cache.codec", Message: "must be zstd or lz4"}
	}

	a := c.Analysis
	switch a.Provider {
	case "openai", "anthropic", "ollama":
	default:
		return &ConfigError{Field: "analysis.provider", Message: fmt.Sprintf("unknown provider %q", a.Provider)}
	}
	if a.Model == "" {
		return &ConfigError{Field: "analysis.model", Message: "must not be empty"}
	}
	if a.SchemaVersion < 1 {
		return &ConfigError{Field: "analysis.schemaVersion", Message: "must be at least 1"}
	}
	if a.MaxTokens < 1 {
		return &ConfigError{Field: "analysis.maxTokens", Message: "must be at least 1"}
	}
	p := a.Pricing
	if p.InputPerMillion < 0 || p.OutputPerMillion < 0 || p.CachedInputPerMillion < 0 {
		return &ConfigError{Field: "analysis.pricing", Message: "prices must not be negative"}
	}

	switch c.Logging.Format {
	case "human", "json":
	default:
		return &ConfigError{Field: "logging.format", Message: "must be human or json"}
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return &ConfigError{Field: "metrics.listen", Message: "required when metrics are enabled"}
	}

	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
