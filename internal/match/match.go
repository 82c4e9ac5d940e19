// Package match evaluates compiled patterns against indexed items.
//
// Evaluation is side-effect free: the pattern, the items and the graphs are
// read-only, so Run can split the item slice across goroutines without
// locking. Parallel and serial runs return the same results in the same
// order.
package match

import (
	"context"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jward/veracity/internal/bounds"
	"github.com/jward/veracity/internal/item"
	"github.com/jward/veracity/internal/pattern"
)

// Relation says how an item satisfied a pattern.
type Relation uint8

const (
	Direct Relation = iota
	Transitive
)

func (r Relation) String() string {
	if r == Transitive {
		return "transitive"
	}
	return "direct"
}

// MarshalText lets results serialize the relation by name.
func (r Relation) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// Result is one matching item. Via names the first intermediate trait or
// alias for a transitive match.
type Result struct {
	Item     *item.Item `json:"item"`
	Relation Relation   `json:"relation"`
	Via      string     `json:"via,omitempty"`
}

// Graphs are the derived graphs consulted by bound and alias nodes. Either
// may be nil, which disables transitive matching for that node kind.
type Graphs struct {
	Bounds  *bounds.Graph
	Aliases *bounds.Graph
}

// Matcher evaluates one compiled pattern.
type Matcher struct {
	root   *pattern.Node
	graphs Graphs
}

// New creates a Matcher for root.
func New(root *pattern.Node, graphs Graphs) *Matcher {
	return &Matcher{root: root, graphs: graphs}
}

// outcome is the result of evaluating one node against one item.
type outcome struct {
	ok       bool
	relation Relation
	via      string
}

var (
	miss   = outcome{}
	direct = outcome{ok: true}
)

func is(ok bool) outcome {
	if ok {
		return direct
	}
	return miss
}

// Eval reports whether it matches, and how.
func (m *Matcher) Eval(it *item.Item) (Result, bool) {
	o := m.eval(m.root, it)
	if !o.ok {
		return Result{}, false
	}
	return Result{Item: it, Relation: o.relation, Via: o.via}, true
}

func (m *Matcher) eval(n *pattern.Node, it *item.Item) outcome {
	switch n.Op {
	case pattern.OpAll:
		return direct
	case pattern.OpKind:
		for _, k := range n.Kinds {
			if it.Kind == k {
				return direct
			}
		}
		return miss
	case pattern.OpModifier:
		return is(it.Modifiers.Has(item.Modifier(n.Mods)))
	case pattern.OpName:
		if it.Name == "" {
			return is(n.Term.IsAny())
		}
		return is(n.Term.Match(it.Name))
	case pattern.OpGenerics:
		return is(matchGenerics(n.Terms, it.Generics))
	case pattern.OpParams:
		return is(everyTermSomeType(n.Terms, it.Params))
	case pattern.OpFields:
		return is(everyTermSomeType(n.Terms, it.Fields))
	case pattern.OpReturn:
		if n.Term.IsAny() {
			return direct
		}
		return is(it.ReturnType != "" && n.Term.Match(it.ReturnType))
	case pattern.OpTypeMention:
		return is(n.Term.Match(it.SignatureText()))
	case pattern.OpClause:
		text, ok := it.Clause(n.Clause)
		if !ok {
			return miss
		}
		return is(n.Term == nil || n.Term.Match(text))
	case pattern.OpBody:
		return is(matchBody(n, it.Body))
	case pattern.OpAttribute:
		return is(strings.Contains(it.AttributeText(), n.Text))
	case pattern.OpBound:
		return m.bound(n, it)
	case pattern.OpAlias:
		return m.alias(n, it)
	case pattern.OpForType:
		return is(n.Term.Match(it.ForType))
	case pattern.OpMembers:
		return is(everyTermSome(n.Terms, it.Members))
	case pattern.OpMethods:
		return is(matchMethods(n.Method, it.Methods))
	case pattern.OpAssocType:
		return is(someMatch(n.Term, it.AssocTypes))
	case pattern.OpBodyText:
		return is(n.Term.Match(item.JoinTokens(it.Body)))
	case pattern.OpAnd:
		result := direct
		for _, c := range n.Children {
			o := m.eval(c, it)
			if !o.ok {
				return miss
			}
			if o.relation == Transitive && result.relation == Direct {
				result = o
			}
		}
		return result
	case pattern.OpOr:
		result := miss
		for _, c := range n.Children {
			o := m.eval(c, it)
			if !o.ok {
				continue
			}
			if o.relation == Direct {
				return o
			}
			if !result.ok {
				result = o
			}
		}
		return result
	}
	return miss
}

// bound matches a trait's or impl's declared bounds, falling back to a
// search of the bound graph. For a trait the search starts at the trait
// itself so a cycle back to it never counts. For an impl the implemented
// trait is the first hop.
func (m *Matcher) bound(n *pattern.Node, it *item.Item) outcome {
	if it.Kind != item.KindTrait && it.Kind != item.KindImpl {
		return miss
	}
	if someMatch(n.Term, it.Bounds) {
		return direct
	}
	g := m.graphs.Bounds
	if g == nil {
		return miss
	}
	switch it.Kind {
	case item.KindTrait:
		if via, ok := g.Path(it.Name, n.Term.Match); ok {
			return outcome{ok: true, relation: Transitive, via: via}
		}
	case item.KindImpl:
		if it.TraitTarget == "" {
			return miss
		}
		if _, ok := g.Path(it.TraitTarget, n.Term.Match); ok {
			return outcome{ok: true, relation: Transitive, via: it.TraitTarget}
		}
	}
	return miss
}

// alias matches "type X = Y" directly on the aliased text, then through
// chains of aliases.
func (m *Matcher) alias(n *pattern.Node, it *item.Item) outcome {
	if it.Kind != item.KindTypeAlias {
		return miss
	}
	if n.Term.Match(it.AliasOf) {
		return direct
	}
	if g := m.graphs.Aliases; g != nil {
		if via, ok := g.Path(it.Name, n.Term.Match); ok {
			return outcome{ok: true, relation: Transitive, via: via}
		}
	}
	return miss
}

func someMatch(t *pattern.Term, values []string) bool {
	for _, v := range values {
		if t.Match(v) {
			return true
		}
	}
	return false
}

// everyTermSome reports whether each term is satisfied by some value. One
// value may satisfy several terms.
func everyTermSome(terms []*pattern.Term, values []string) bool {
	for _, t := range terms {
		if !someMatch(t, values) {
			return false
		}
	}
	return true
}

func everyTermSomeType(terms []*pattern.Term, params []item.Param) bool {
	for _, t := range terms {
		found := false
		for _, p := range params {
			if t.Match(p.Type) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// matchGenerics: no terms means "has generics"; otherwise each term must be
// satisfied by some generic's name or bound text.
func matchGenerics(terms []*pattern.Term, gens []item.Generic) bool {
	if len(terms) == 0 {
		return len(gens) > 0
	}
	for _, t := range terms {
		found := false
		for _, g := range gens {
			if t.Match(g.Name) || (g.Bounds != "" && t.Match(g.Bounds)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func matchMethods(spec *pattern.MethodSpec, methods []item.Method) bool {
	for _, fn := range methods {
		if spec.Name != nil && !spec.Name.Match(fn.Name) {
			continue
		}
		if !everyTermSomeType(spec.Params, fn.Params) {
			continue
		}
		if spec.Return != nil && !spec.Return.IsAny() && (fn.ReturnType == "" || !spec.Return.Match(fn.ReturnType)) {
			continue
		}
		return true
	}
	return false
}

// Run evaluates the pattern against every item using up to workers
// goroutines, or one per CPU when workers is zero or negative. Results are
// in index order, which is (file, line, column) for an index built by the
// engine.
func (m *Matcher) Run(ctx context.Context, items []item.Item, workers int) ([]Result, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers == 1 || len(items) < 2*chunkMin {
		return m.scan(ctx, items)
	}

	chunk := max(chunkMin, (len(items)+workers-1)/workers)
	parts := make([][]Result, (len(items)+chunk-1)/chunk)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range parts {
		lo := i * chunk
		hi := min(lo+chunk, len(items))
		g.Go(func() error {
			res, err := m.scan(gctx, items[lo:hi])
			parts[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var total int
	for _, p := range parts {
		total += len(p)
	}
	out := make([]Result, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out, nil
}

// chunkMin keeps goroutine overhead below the per-item cost.
const chunkMin = 256

func (m *Matcher) scan(ctx context.Context, items []item.Item) ([]Result, error) {
	var out []Result
	for i := range items {
		if i%chunkMin == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if r, ok := m.Eval(&items[i]); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// Partition splits results into direct and transitive matches, keeping order.
func Partition(results []Result) (directs, transitives []Result) {
	for _, r := range results {
		if r.Relation == Transitive {
			transitives = append(transitives, r)
			continue
		}
		directs = append(directs, r)
	}
	return directs, transitives
}
