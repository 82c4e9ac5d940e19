package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jward/veracity/internal/config"
)

// autoVstd is the value -v takes when given without a path.
const autoVstd = "auto"

var (
	flagVstd       string
	flagBuiltin    string
	flagCodebase   []string
	flagExclude    []string
	flagStrict     bool
	flagColor      bool
	flagNoColor    bool
	flagWhere      string
	flagCache      string
	flagCachePath  string
	flagNoParallel bool
	flagWorkers    int
	flagExplain    bool
)

// addSourceFlags registers the flags that select and tune the indexed roots.
// They are persistent so every subcommand indexes the same way.
func addSourceFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&flagVstd, "vstd", "v", "", "index vstd at PATH (-v alone finds it next to the verus binary)")
	fs.Lookup("vstd").NoOptDefVal = autoVstd
	fs.StringVar(&flagBuiltin, "builtin", "", "index builtin primitives at PATH")
	fs.StringArrayVarP(&flagCodebase, "codebase", "C", nil, "index a project root (repeatable)")
	fs.StringArrayVarP(&flagExclude, "exclude", "e", nil, "skip directories with this name (repeatable)")
	fs.BoolVarP(&flagStrict, "strict", "s", false, "plain names must match whole names")
	fs.BoolVar(&flagColor, "color", false, "force colored output")
	fs.BoolVar(&flagNoColor, "no-color", false, "disable colored output")
	fs.StringVar(&flagWhere, "where", "", "Risor expression each match must satisfy")
	fs.StringVar(&flagCache, "cache", "", "extraction cache backend: sqlite|bolt|none")
	fs.StringVar(&flagCachePath, "cache-path", "", "extraction cache file")
	fs.BoolVar(&flagNoParallel, "no-parallel", false, "extract files serially")
	fs.IntVar(&flagWorkers, "workers", 0, "extraction and matching workers (0 = one per CPU)")
	fs.BoolVar(&flagExplain, "explain", false, "print the compiled pattern before the results")
}

// applyFlags overrides c with every flag the user set explicitly.
func applyFlags(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("vstd") {
		path := flagVstd
		if path == autoVstd {
			found, err := discoverVstd()
			if err != nil {
				return err
			}
			path = found
		}
		c.Vstd = path
	}
	if flags.Changed("builtin") {
		c.Builtin = flagBuiltin
	}
	if flags.Changed("codebase") {
		c.Codebase = flagCodebase
	}
	if flags.Changed("exclude") {
		c.Exclude = append(c.Exclude, flagExclude...)
	}
	if flags.Changed("cache") {
		c.Cache.Backend = flagCache
	}
	if flags.Changed("cache-path") {
		c.Cache.Path = flagCachePath
	}
	if flagNoParallel {
		c.Parallel = false
	}
	if flags.Changed("workers") {
		c.Workers = flagWorkers
	}
	if flagColor || flagNoColor {
		on := flagColor && !flagNoColor
		c.Color = &on
	}
	if flagMetricsFile != "" {
		c.MetricsFile = flagMetricsFile
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if len(c.Codebase) == 0 && c.Vstd == "" && c.Builtin == "" && needsRoots(cmd) {
		// Nothing configured: search vstd.
		found, err := discoverVstd()
		if err != nil {
			return fmt.Errorf("no roots given (use -v, -C or a config file): %w", err)
		}
		c.Vstd = found
	}
	return nil
}

// rootsAnnotation marks commands that index sources.
const rootsAnnotation = "veracity/roots"

// needsRoots reports whether cmd indexes sources. The bare root command
// only does when given a pattern.
func needsRoots(cmd *cobra.Command) bool {
	if !cmd.HasParent() {
		return cmd.Flags().NArg() > 0
	}
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[rootsAnnotation] != "" {
			return true
		}
	}
	return false
}

// indexesRoots is the Annotations value for commands that index sources.
func indexesRoots() map[string]string {
	return map[string]string{rootsAnnotation: "true"}
}
