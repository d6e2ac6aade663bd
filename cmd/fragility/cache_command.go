package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"fragility/internal/cache"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the window and artifact cache",
	}

	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	cacheCmd.AddCommand(newCacheClearCommand(ctx))

	return cacheCmd
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			fc, err := openFileCache(ctx)
			if err != nil {
				return err
			}
			stats, err := fc.Stats()
			if err != nil {
				return fmt.Errorf("cache stats: %w", err)
			}
			if jsonOutput {
				return writeJSON(cmd, struct {
					Dir        string `json:"dir"`
					Entries    int    `json:"entries"`
					Artifacts  int    `json:"artifacts"`
					Windows    int    `json:"windows"`
					TotalBytes int64  `json:"total_bytes"`
					FreeBytes  uint64 `json:"free_bytes"`
				}{fc.Dir(), stats.Entries, stats.Artifacts, stats.Windows, stats.TotalBytes, stats.FreeBytes})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Cache:     %s\n", fc.Dir())
			fmt.Fprintf(out, "Entries:   %d (%d with artifacts)\n", stats.Entries, stats.Artifacts)
			fmt.Fprintf(out, "Windows:   %s\n", humanize.Comma(int64(stats.Windows)))
			fmt.Fprintf(out, "Size:      %s\n", humanize.IBytes(uint64(stats.TotalBytes)))
			if stats.FreeBytes > 0 {
				fmt.Fprintf(out, "Disk free: %s\n", humanize.IBytes(stats.FreeBytes))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print cache usage as JSON")
	return cmd
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached window and artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			fc, err := openFileCache(ctx)
			if err != nil {
				return err
			}
			before, err := fc.Stats()
			if err != nil {
				return fmt.Errorf("cache stats: %w", err)
			}
			if err := fc.Clear(); err != nil {
				return fmt.Errorf("clear cache: %w", err)
			}
			if before.Entries == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Cache already empty")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d entries (%s)\n", before.Entries, humanize.IBytes(uint64(before.TotalBytes)))
			return nil
		},
	}
}

func openFileCache(ctx *commandContext) (*cache.FileCache, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	return cache.NewFileCache(cfg.Paths.CacheDir)
}
