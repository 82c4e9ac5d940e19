package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jward/veracity/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the extraction cache",
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the extraction cache file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Cache.Path
		if err := store.RemoveFiles(path); err != nil {
			return outputError("cache clear", err)
		}
		if flagFormat == "json" {
			return outputResult(CLIResult{Command: "cache clear", Results: map[string]string{"removed": path}})
		}
		fmt.Fprintf(os.Stderr, "Cleared cache: %s\n", path)
		return nil
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how many files and items the cache holds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend := cfg.Cache.Backend
		if backend == store.BackendNone {
			backend = store.BackendSQLite
		}
		if _, err := os.Stat(cfg.Cache.Path); err != nil {
			return outputError("cache stats", fmt.Errorf("cache not found: %s (run 'veracity index --cache %s' first)", cfg.Cache.Path, backend))
		}
		c, err := store.Open(backend, cfg.Cache.Path)
		if err != nil {
			return outputError("cache stats", err)
		}
		defer c.Close()

		stats, err := c.Stats()
		if err != nil {
			return outputError("cache stats", err)
		}
		if flagFormat == "json" {
			return outputResult(CLIResult{Command: "cache stats", Results: stats})
		}
		fmt.Fprintf(os.Stdout, "Cache: %s (%s)\n", cfg.Cache.Path, backend)
		fmt.Fprintf(os.Stdout, "Files: %d\n", stats.Files)
		fmt.Fprintf(os.Stdout, "Items: %d\n", stats.Items)
		return nil
	},
}
