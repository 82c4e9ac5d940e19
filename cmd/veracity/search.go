package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jward/veracity"
)

var searchCmd = &cobra.Command{
	Use:   "search [flags] PATTERN...",
	Short: "Search indexed items with a structural pattern",
	Long: `Indexes the configured roots and prints every item matching PATTERN.
The arguments are joined with spaces into one query, so quoting is optional.

Examples:
  veracity search -v proof fn lemma_.* requires finite
  veracity search -C . trait _ : Clone
  veracity search -C . struct _ { : int, : Seq }
  veracity search -C . --where 'has_modifier(item, "pub")' fn _ body admit`,
	Args:        cobra.MinimumNArgs(1),
	RunE:        runSearch,
	Annotations: indexesRoots(),
}

func init() {
	rootCmd.Flags().SetInterspersed(false)
	searchCmd.Flags().SetInterspersed(false)
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	idx, err := buildIndex(ctx)
	if err != nil {
		return outputError("search", err)
	}
	res, err := search(ctx, newSearcher(idx), query)
	if err != nil {
		return outputError("search", err)
	}
	return printSearch(idx, res, newRenderer(os.Stdout, useColor()))
}

// printSearch writes a search result in the selected format.
func printSearch(idx *veracity.Index, res *veracity.SearchResult, r *renderer) error {
	total := res.Len()
	if flagFormat == "json" {
		return outputResult(CLIResult{
			Command: "search",
			Results: CLISearch{
				Query:      res.Query,
				Pattern:    res.Pattern,
				Files:      idx.Files,
				Items:      len(idx.Items),
				Direct:     matchesToCLI(res.Direct),
				Transitive: matchesToCLI(res.Transitive),
				Errors:     errorsToCLI(idx.Errors),
			},
			TotalCount: &total,
		})
	}

	if flagExplain {
		fmt.Fprintf(os.Stderr, "Pattern: %s\n", res.Pattern)
	}
	r.search(res)
	printErrors(idx.Errors)
	if len(res.Transitive) > 0 {
		fmt.Fprintf(os.Stderr, "Files: %d, Items: %d, Matches: %d (%d direct, %d transitive)\n",
			idx.Files, len(idx.Items), total, len(res.Direct), len(res.Transitive))
	} else {
		fmt.Fprintf(os.Stderr, "Files: %d, Items: %d, Matches: %d\n", idx.Files, len(idx.Items), total)
	}
	return nil
}
