package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jward/veracity/internal/config"
	"github.com/jward/veracity/internal/metrics"
)

var (
	flagFormat      string
	flagConfig      string
	flagVerbose     bool
	flagMetricsFile string
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

func main() {
	err := rootCmd.Execute()
	if werr := writeMetrics(); werr != nil {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", werr)
	}
	if err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "veracity [flags] PATTERN...",
	Short: "Structural search over Verus and Rust sources",
	Long: `Veracity indexes Rust and Verus source trees (vstd, builtin primitives and
your own crates) and answers structural queries such as

  veracity -v proof fn .*len.* requires finite
  veracity -C . trait _ : Clone
  veracity -C . fn _ body admit

With no subcommand the arguments are joined into one query and searched.`,
	Args:          cobra.ArbitraryArgs,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := validateFormat(flagFormat); err != nil {
			return err
		}
		return setup(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		return runSearch(cmd, args)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagFormat, "format", "text", "output format: json|text")
	pf.StringVar(&flagConfig, "config", "", "config file (default: .veracity.yaml in the repo root)")
	pf.BoolVar(&flagVerbose, "verbose", false, "log debug output to stderr")
	pf.StringVar(&flagMetricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
	addSourceFlags(pf)

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(viewsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(cacheCmd)
}

// Process-wide state built once in PersistentPreRunE.
var (
	cfg     *config.Config
	logger  *slog.Logger
	metricz *metrics.Metrics
)

// setup loads the config, applies flag overrides and builds the logger.
func setup(cmd *cobra.Command) error {
	path := flagConfig
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting cwd: %w", err)
		}
		path = filepath.Join(findRepoRoot(cwd), config.FileName)
	}
	c, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, c); err != nil {
		return err
	}
	cfg = c

	level := cfg.Level()
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if cfg.MetricsFile != "" {
		metricz = metrics.New()
	}
	return nil
}

// writeMetrics dumps the counters when a metrics file is configured.
func writeMetrics() error {
	if metricz == nil || cfg == nil || cfg.MetricsFile == "" {
		return nil
	}
	return metricz.WriteTextfile(cfg.MetricsFile)
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root without finding .git.
			return startDir
		}
		dir = parent
	}
}
