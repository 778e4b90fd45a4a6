package main

import (
	"fmt"

	"devscan/internal/cache"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	cacheFormat   string
	cacheMaxBytes string
	cacheRepo     string
	cacheModel    string
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the analysis cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache size and hit rate",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cacheEvictCmd = &cobra.Command{
	Use:   "evict",
	Short: "Run one eviction pass",
	Long: `Evict the lowest-scoring cache entries when the cache is above its high
watermark, until it is at or below the low watermark.

Examples:
  devscan cache evict
  devscan cache evict --max-bytes 64MB`,
	Args: cobra.NoArgs,
	RunE: runCacheEvict,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete cache entries",
	Long: `Delete every cache entry, or only those stored for one repository or one model.

Examples:
  devscan cache clear
  devscan cache clear --repo api
  devscan cache clear --model openai:gpt-4o-mini`,
	Args: cobra.NoArgs,
	RunE: runCacheClear,
}

func init() {
	cacheStatsCmd.Flags().StringVar(&cacheFormat, "format", "human", "Output format (json, human)")
	cacheEvictCmd.Flags().StringVar(&cacheFormat, "format", "human", "Output format (json, human)")
	cacheEvictCmd.Flags().StringVar(&cacheMaxBytes, "max-bytes", "", "Override cache.maxBytes, e.g. 64MB")
	cacheClearCmd.Flags().StringVar(&cacheRepo, "repo", "", "Only entries stored for this repository")
	cacheClearCmd.Flags().StringVar(&cacheModel, "model", "", "Only entries produced by this backend identity")

	cacheCmd.AddCommand(cacheStatsCmd, cacheEvictCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

// CacheStatsResponseCLI reports cache occupancy and traffic
type CacheStatsResponseCLI struct {
	Entries   int64   `json:"entries"`
	Bytes     int64   `json:"bytes"`
	MaxBytes  int64   `json:"maxBytes"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Corrupt   int64   `json:"corrupt"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hitRate"`
	Codec     string  `json:"codec"`
}

// EvictionResponseCLI reports one eviction pass
type EvictionResponseCLI struct {
	Triggered     bool  `json:"triggered"`
	MaxBytes      int64 `json:"maxBytes"`
	BytesBefore   int64 `json:"bytesBefore"`
	BytesAfter    int64 `json:"bytesAfter"`
	EntriesBefore int64 `json:"entriesBefore"`
	Evicted       int   `json:"evicted"`
}

func newCacheStats(s *cache.Stats, maxBytes int64, codec string) *CacheStatsResponseCLI {
	return &CacheStatsResponseCLI{
		Entries:   s.Entries,
		Bytes:     s.Bytes,
		MaxBytes:  maxBytes,
		Hits:      s.Hits,
		Misses:    s.Misses,
		Corrupt:   s.Corrupt,
		Evictions: s.Evictions,
		HitRate:   s.HitRate(),
		Codec:     codec,
	}
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	e, err := openEnv(false, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	c, err := e.openCache()
	if err != nil {
		return err
	}
	stats, err := c.Stats()
	if err != nil {
		return err
	}

	out, err := FormatResponse(newCacheStats(stats, e.cfg.Cache.MaxBytes, e.cfg.Cache.Codec), OutputFormat(cacheFormat))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

func runCacheEvict(cmd *cobra.Command, args []string) error {
	e, err := openEnv(false, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	maxBytes := e.cfg.Cache.MaxBytes
	if cacheMaxBytes != "" {
		n, err := humanize.ParseBytes(cacheMaxBytes)
		if err != nil {
			return fmt.Errorf("invalid --max-bytes %q: %w", cacheMaxBytes, err)
		}
		maxBytes = int64(n)
	}

	c, err := e.openCache()
	if err != nil {
		return err
	}
	report, err := c.EvictToWatermark(maxBytes, e.cfg.Cache.LowWatermark, e.cfg.Cache.HighWatermark)
	if err != nil {
		return err
	}

	out, err := FormatResponse(&EvictionResponseCLI{
		Triggered:     report.Triggered,
		MaxBytes:      maxBytes,
		BytesBefore:   report.BytesBefore,
		BytesAfter:    report.BytesAfter,
		EntriesBefore: report.EntriesBefore,
		Evicted:       report.Evicted,
	}, OutputFormat(cacheFormat))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	if cacheRepo != "" && cacheModel != "" {
		return fmt.Errorf("--repo and --model are mutually exclusive")
	}

	e, err := openEnv(false, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	c, err := e.openCache()
	if err != nil {
		return err
	}

	var n int64
	switch {
	case cacheRepo != "":
		n, err = c.InvalidateRepo(cacheRepo)
	case cacheModel != "":
		n, err = c.InvalidateModel(cacheModel)
	default:
		n, err = c.Clear()
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cache entries\n", n)
	return nil
}
