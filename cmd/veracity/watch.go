package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/veracity"
	"github.com/jward/veracity/internal/watch"
)

var flagQuiet time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch [flags] PATTERN...",
	Short: "Re-run a search whenever a source file changes",
	Long: `Runs PATTERN once, then watches the project roots (or every root when
no project root is configured) and re-indexes and re-runs the search after
each burst of changes to .rs files. Stop with Ctrl-C.`,
	Args:        cobra.MinimumNArgs(1),
	RunE:        runWatch,
	Annotations: indexesRoots(),
}

func init() {
	watchCmd.Flags().DurationVar(&flagQuiet, "quiet", watch.DefaultQuiet, "wait this long after the last change before re-running")
	watchCmd.Flags().SetInterspersed(false)
}

func runWatch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// One engine for the whole session: unchanged files come from its memo.
	engine, err := newEngine()
	if err != nil {
		return outputError("watch", err)
	}
	defer engine.Close()

	r := newRenderer(os.Stdout, useColor())
	run := func() error {
		idx, err := engine.Index(ctx)
		if err != nil {
			return err
		}
		res, err := search(ctx, newSearcher(idx), query)
		if err != nil {
			return err
		}
		return printSearch(idx, res, r)
	}
	if err := run(); err != nil {
		return outputError("watch", err)
	}

	w, err := watch.New(
		watch.WithExclude(cfg.Exclude...),
		watch.WithQuiet(flagQuiet),
		watch.WithLogger(logger),
	)
	if err != nil {
		return outputError("watch", fmt.Errorf("starting watcher: %w", err))
	}
	defer w.Stop()

	changes := make(chan []string, 1)
	err = w.Watch(watchDirs(engine.Roots()), func(paths []string) {
		select {
		case changes <- paths:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return outputError("watch", fmt.Errorf("watching: %w", err))
	}
	fmt.Fprintf(os.Stderr, "Watching for changes (Ctrl-C to stop)\n")

	for {
		select {
		case <-ctx.Done():
			return nil
		case paths := <-changes:
			fmt.Fprintf(os.Stderr, "\n--- %s: %d file(s) changed ---\n", time.Now().Format(time.TimeOnly), len(paths))
			for _, p := range paths {
				logger.Debug("changed", "file", p)
			}
			if err := run(); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			}
		}
	}
}

// watchDirs picks the directories to watch: the project roots when any are
// configured, otherwise every root. A file root is watched through its
// directory.
func watchDirs(roots []veracity.Root) []string {
	var project, all []string
	for _, r := range roots {
		dir := r.Path
		if info, err := os.Stat(dir); err == nil && !info.IsDir() {
			dir = filepath.Dir(dir)
		}
		all = append(all, dir)
		if r.Origin == veracity.OriginCodebase {
			project = append(project, dir)
		}
	}
	if len(project) > 0 {
		return project
	}
	return all
}
