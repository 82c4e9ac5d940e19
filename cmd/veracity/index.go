package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/veracity"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index the configured roots and report what was found",
	Long: `Parses every .rs file under the configured roots, warming the extraction
cache when one is configured, and prints item counts by kind, origin and mode.`,
	Args:        cobra.NoArgs,
	RunE:        runIndex,
	Annotations: indexesRoots(),
}

func runIndex(cmd *cobra.Command, args []string) error {
	start := time.Now()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	engine, err := newEngine()
	if err != nil {
		return outputError("index", err)
	}
	defer engine.Close()

	idx, err := engine.Index(ctx)
	if err != nil {
		return outputError("index", fmt.Errorf("indexing: %w", err))
	}
	elapsed := time.Since(start)

	if flagFormat == "json" {
		return outputResult(CLIResult{
			Command: "index",
			Results: CLIIndex{
				SummaryView: veracity.Summary(idx),
				Roots:       engine.Roots(),
				Elapsed:     elapsed.Round(time.Millisecond).String(),
				ErrorLog:    errorsToCLI(idx.Errors),
			},
		})
	}

	formatSummaryText(os.Stdout, veracity.Summary(idx))
	printErrors(idx.Errors)
	fmt.Fprintf(os.Stderr, "Indexed %d files (%d cached) in %s\n",
		idx.Files, idx.Cached, elapsed.Round(time.Millisecond))
	return nil
}

// formatSummaryText formats a SummaryView as readable text.
func formatSummaryText(w io.Writer, s veracity.SummaryView) {
	fmt.Fprintln(w, "Index Summary")
	fmt.Fprintln(w, "=============")
	fmt.Fprintf(w, "Files: %d (%d cached)\n", s.Files, s.Cached)
	fmt.Fprintf(w, "Items: %d\n", s.Items)
	fmt.Fprintf(w, "Errors: %d\n", s.Errors)
	fmt.Fprintln(w)

	writeCounts(w, "KIND", s.ByKind)
	writeCounts(w, "ORIGIN", s.ByOrigin)
	writeCounts(w, "MODE", s.ByMode)
}

// writeCounts prints a two-column table sorted by descending count, then
// name.
func writeCounts(w io.Writer, header string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\tCOUNT\n", header)
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%d\n", k, counts[k])
	}
	tw.Flush()
	fmt.Fprintln(w)
}
