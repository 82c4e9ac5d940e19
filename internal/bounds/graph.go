// Package bounds builds the "trait requires trait" graph used by transitive
// bound queries, and the analogous graph of type aliases.
//
// Nodes live in an arena addressed by index; names are interned once at build
// time. Graphs are read-only after Build and safe for concurrent traversal.
// Cycles and self-loops are stored as given; Path tracks visited nodes so a
// cycle is a dead end rather than an error.
package bounds

import (
	"strings"

	"github.com/jward/veracity/internal/item"
)

// Graph is a directed graph over interned names.
type Graph struct {
	names []string
	index map[string]int
	adj   [][]int
}

func newGraph() *Graph {
	return &Graph{index: make(map[string]int)}
}

func (g *Graph) intern(name string) int {
	if id, ok := g.index[name]; ok {
		return id
	}
	id := len(g.names)
	g.names = append(g.names, name)
	g.index[name] = id
	g.adj = append(g.adj, nil)
	return id
}

func (g *Graph) addEdge(from, to string) {
	a, b := g.intern(from), g.intern(to)
	for _, existing := range g.adj[a] {
		if existing == b {
			return
		}
	}
	g.adj[a] = append(g.adj[a], b)
}

// Build creates the bound graph from every Trait item's name and declared
// bounds. Traits with no bounds still become nodes.
func Build(items []item.Item) *Graph {
	g := newGraph()
	for i := range items {
		it := &items[i]
		if it.Kind != item.KindTrait || it.Name == "" {
			continue
		}
		g.intern(it.Name)
		for _, b := range it.Bounds {
			g.addEdge(it.Name, b)
		}
	}
	return g
}

// BuildAliases creates the alias graph: an edge from each type alias name to
// the base name of the type it aliases.
func BuildAliases(items []item.Item) *Graph {
	g := newGraph()
	for i := range items {
		it := &items[i]
		if it.Kind != item.KindTypeAlias || it.Name == "" || it.AliasOf == "" {
			continue
		}
		if target := BaseName(it.AliasOf); target != "" {
			g.addEdge(it.Name, target)
		}
	}
	return g
}

func (g *Graph) size() int { return len(g.names) }

// Has reports whether name is a node.
func (g *Graph) Has(name string) bool {
	_, ok := g.index[name]
	return ok
}

// Edges returns the direct successors of name in insertion order.
func (g *Graph) Edges(name string) []string {
	id, ok := g.index[name]
	if !ok {
		return nil
	}
	out := make([]string, len(g.adj[id]))
	for i, to := range g.adj[id] {
		out[i] = g.names[to]
	}
	return out
}

// Path searches breadth-first from the successors of from for a node that
// satisfies accept. It returns the first hop of the path that reached it.
// The start node is marked visited up front, so a cycle back to it never
// counts as a match.
func (g *Graph) Path(from string, accept func(string) bool) (string, bool) {
	start, ok := g.index[from]
	if !ok {
		return "", false
	}
	visited := make([]bool, len(g.names))
	visited[start] = true

	type entry struct{ node, via int }
	queue := make([]entry, 0, len(g.adj[start]))
	for _, next := range g.adj[start] {
		if !visited[next] {
			visited[next] = true
			queue = append(queue, entry{node: next, via: next})
		}
	}
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		if accept(g.names[e.node]) {
			return g.names[e.via], true
		}
		for _, next := range g.adj[e.node] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, entry{node: next, via: e.via})
			}
		}
	}
	return "", false
}

// BaseName reduces a rendered type or path to its last segment without
// generic arguments or reference sigils: "&vstd::seq::Seq<T>" becomes "Seq".
func BaseName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "&* ")
	for _, p := range []string{"mut ", "dyn ", "const "} {
		s = strings.TrimPrefix(s, p)
	}
	if i := strings.IndexAny(s, "<( "); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "::"); i >= 0 {
		s = s[i+2:]
	}
	return s
}
