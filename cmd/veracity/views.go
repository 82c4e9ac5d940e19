package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/risor-io/risor/object"
	"github.com/spf13/cobra"

	"github.com/jward/veracity"
	"github.com/jward/veracity/internal/bounds"
	"github.com/jward/veracity/internal/item"
	"github.com/jward/veracity/internal/runtime"
)

var viewsCmd = &cobra.Command{
	Use:   "views",
	Short: "Derived views over the index",
	Long:  "Reports computed over the whole index: broadcast groups, trusted axioms, counts and Risor view scripts.",
}

func init() {
	viewsCmd.AddCommand(groupsViewCmd)
	viewsCmd.AddCommand(axiomsViewCmd)
	viewsCmd.AddCommand(summaryViewCmd)
	viewsCmd.AddCommand(scriptViewCmd)
	viewsCmd.AddCommand(scriptsViewCmd)
	viewsCmd.AddCommand(lookupViewCmd)
	viewsCmd.AddCommand(boundsViewCmd)
	lookupViewCmd.Flags().StringVar(&flagKind, "kind", "", "only items of this kind (fn, trait, impl, struct, enum, type, use, group)")
}

var groupsViewCmd = &cobra.Command{
	Use:         "broadcast-groups",
	Annotations: indexesRoots(),
	Short:       "List broadcast groups, their members and the files that use them",
	Args:        cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runView("broadcast-groups", func(idx *veracity.Index) (any, int, func(io.Writer)) {
			groups := veracity.BroadcastGroups(idx)
			return groups, len(groups), func(w io.Writer) { formatGroupsText(w, groups) }
		})
	},
}

var axiomsViewCmd = &cobra.Command{
	Use:         "axioms",
	Annotations: indexesRoots(),
	Short:       "List trusted functions: axioms, external_body and axiom_* names",
	Args:        cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runView("axioms", func(idx *veracity.Index) (any, int, func(io.Writer)) {
			axioms := veracity.Axioms(idx)
			return axioms, len(axioms), func(w io.Writer) { formatAxiomsText(w, axioms) }
		})
	},
}

var summaryViewCmd = &cobra.Command{
	Use:         "summary",
	Annotations: indexesRoots(),
	Short:       "Count items by kind, origin and mode",
	Args:        cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runView("summary", func(idx *veracity.Index) (any, int, func(io.Writer)) {
			s := veracity.Summary(idx)
			return s, s.Items, func(w io.Writer) { formatSummaryText(w, s) }
		})
	},
}

var scriptViewCmd = &cobra.Command{
	Use:         "script NAME",
	Annotations: indexesRoots(),
	Short:       "Run a Risor view script over every indexed item",
	Long: `Runs NAME.risor from the filters directory, or the built-in script of that
name, with the global "items" bound to the list of indexed items. The value
of the script's last expression is printed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		idx, err := buildIndex(ctx)
		if err != nil {
			return outputError("views script", err)
		}
		printErrors(idx.Errors)
		obj, err := runViewScript(ctx, name, idx)
		if err != nil {
			return outputError("views script", err)
		}
		if flagFormat == "json" {
			return outputResult(CLIResult{Command: "views script", Results: obj.Interface()})
		}
		fmt.Fprintln(os.Stdout, obj.Inspect())
		return nil
	},
}

var scriptsViewCmd = &cobra.Command{
	Use:   "scripts",
	Short: "List available view scripts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		seen := make(map[string]bool)
		var names []string
		for _, rt := range viewRuntimes() {
			list, err := rt.Scripts()
			if err != nil {
				return outputError("views scripts", err)
			}
			for _, n := range list {
				if !seen[n] {
					seen[n] = true
					names = append(names, n)
				}
			}
		}
		if flagFormat == "json" {
			total := len(names)
			return outputResult(CLIResult{Command: "views scripts", Results: names, TotalCount: &total})
		}
		for _, n := range names {
			fmt.Fprintln(os.Stdout, n)
		}
		return nil
	},
}

var flagKind string

var lookupViewCmd = &cobra.Command{
	Use:         "lookup NAME",
	Annotations: indexesRoots(),
	Short:       "Print every item declared with exactly NAME",
	Args:        cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var kind item.Kind
		if flagKind != "" {
			k, ok := item.ParseKind(flagKind)
			if !ok {
				return outputError("views lookup", fmt.Errorf("unknown kind %q", flagKind))
			}
			kind = k
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		idx, err := buildIndex(ctx)
		if err != nil {
			return outputError("views lookup", err)
		}
		found := lookup(idx, args[0], kind)
		if flagFormat == "json" {
			total := len(found)
			return outputResult(CLIResult{Command: "views lookup", Results: matchesToCLI(found), TotalCount: &total})
		}
		printErrors(idx.Errors)
		r := newRenderer(os.Stdout, useColor())
		for _, m := range found {
			r.match(m)
		}
		fmt.Fprintf(os.Stderr, "Items: %d\n", len(found))
		return nil
	},
}

var boundsViewCmd = &cobra.Command{
	Use:         "bounds TRAIT",
	Annotations: indexesRoots(),
	Short:       "Show the traits TRAIT requires, directly and through other traits",
	Args:        cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runView("views bounds", func(idx *veracity.Index) (any, int, func(io.Writer)) {
			b := traitBounds(idx.Bounds, args[0])
			return b, len(b.Direct) + len(b.Transitive), func(w io.Writer) { formatBoundsText(w, b) }
		})
	},
}

// traitBounds walks the bound graph breadth-first from name. Names reached
// only through another bound are transitive.
func traitBounds(g *bounds.Graph, name string) CLIBounds {
	out := CLIBounds{Trait: name, Direct: []string{}, Transitive: []string{}}
	if g == nil || !g.Has(name) {
		return out
	}
	out.Known = true
	seen := map[string]bool{name: true}
	queue := g.Edges(name)
	for _, d := range queue {
		if !seen[d] {
			seen[d] = true
			out.Direct = append(out.Direct, d)
		}
	}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for _, b := range g.Edges(next) {
			if seen[b] {
				continue
			}
			seen[b] = true
			out.Transitive = append(out.Transitive, b)
			queue = append(queue, b)
		}
	}
	return out
}

func formatBoundsText(w io.Writer, b CLIBounds) {
	if !b.Known {
		fmt.Fprintf(w, "%s: not a trait in the index\n", b.Trait)
		return
	}
	fmt.Fprintf(w, "%s\n", b.Trait)
	for _, d := range b.Direct {
		fmt.Fprintf(w, "  : %s\n", d)
	}
	for _, t := range b.Transitive {
		fmt.Fprintf(w, "  : %s (transitive)\n", t)
	}
}

// lookup returns the items named name as direct results. A zero kind
// matches every kind.
func lookup(idx *veracity.Index, name string, kind item.Kind) []veracity.Result {
	var out []veracity.Result
	for _, it := range idx.Lookup(name) {
		if kind != 0 && it.Kind != kind {
			continue
		}
		out = append(out, veracity.Result{Item: it})
	}
	return out
}

// runViewScript runs the first script named name across the view runtimes.
func runViewScript(ctx context.Context, name string, idx *veracity.Index) (object.Object, error) {
	globals := map[string]any{"items": runtime.ItemList(idx.Items)}
	for _, rt := range viewRuntimes() {
		obj, err := rt.RunScript(ctx, name, globals)
		if errors.Is(err, runtime.ErrNoScript) {
			continue
		}
		return obj, err
	}
	return nil, fmt.Errorf("%w: %s", runtime.ErrNoScript, name)
}

// runView indexes, computes a view and prints it. compute returns the JSON
// value, its size and a text formatter.
func runView(command string, compute func(*veracity.Index) (any, int, func(io.Writer))) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	idx, err := buildIndex(ctx)
	if err != nil {
		return outputError(command, err)
	}
	value, n, text := compute(idx)
	if flagFormat == "json" {
		return outputResult(CLIResult{Command: command, Results: value, TotalCount: &n})
	}
	printErrors(idx.Errors)
	text(os.Stdout)
	return nil
}

// formatGroupsText formats broadcast groups as an aligned table followed by
// each group's members.
func formatGroupsText(w io.Writer, groups []veracity.GroupView) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tORIGIN\tMEMBERS\tUSED IN\tLOCATION")
	for _, g := range groups {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s:%d\n",
			g.Name, g.Origin, len(g.Members), len(g.UsedIn), g.File, g.Line)
	}
	tw.Flush()

	for _, g := range groups {
		if len(g.Members) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s:\n", g.Name)
		for _, m := range g.Members {
			fmt.Fprintf(w, "  %s\n", m)
		}
	}
}

// formatAxiomsText formats axioms as aligned columns, project axioms first.
func formatAxiomsText(w io.Writer, axioms []veracity.AxiomView) {
	var project, library int
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tORIGIN\tREASON\tBROADCAST\tLOCATION")
	for _, pass := range []bool{false, true} {
		for _, a := range axioms {
			if a.Library != pass {
				continue
			}
			if a.Library {
				library++
			} else {
				project++
			}
			broadcast := "-"
			if a.Broadcast {
				broadcast = "yes"
				if a.Group != "" {
					broadcast = a.Group
				}
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s:%d\n",
				a.Name, a.Origin, a.Reason, broadcast, a.File, a.Line)
		}
	}
	tw.Flush()
	fmt.Fprintf(w, "\nProject: %d, Library: %d\n", project, library)
}
