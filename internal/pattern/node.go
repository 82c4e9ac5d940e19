package pattern

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jward/veracity/internal/item"
)

// Op is the closed set of matcher node kinds.
type Op uint8

const (
	OpAll Op = iota + 1
	OpKind
	OpModifier
	OpName
	OpGenerics
	OpParams
	OpFields
	OpReturn
	OpTypeMention
	OpClause
	OpBody
	OpAttribute
	OpBound
	OpAlias
	OpForType
	OpMembers
	OpMethods
	OpAssocType
	OpBodyText
	OpAnd
	OpOr
)

var opNames = map[Op]string{
	OpAll: "all", OpKind: "kind", OpModifier: "modifier", OpName: "name",
	OpGenerics: "generics", OpParams: "params", OpFields: "fields",
	OpReturn: "return", OpTypeMention: "types", OpClause: "clause",
	OpBody: "body", OpAttribute: "attribute", OpBound: "bound",
	OpAlias: "alias", OpForType: "for", OpMembers: "members",
	OpMethods: "methods", OpAssocType: "assoc-type", OpBodyText: "body-text",
	OpAnd: "and", OpOr: "or",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return "unknown"
}

// BodyPredicate is the fixed vocabulary of body token scans.
type BodyPredicate uint8

const (
	BodyCall BodyPredicate = iota
	BodyProofBlock
	BodyAssert
	BodyUnsafeBlock
)

// MethodSpec constrains one associated function of a trait or impl.
type MethodSpec struct {
	Name   *Term   // nil matches any name
	Params []*Term // each must be satisfied by some parameter type
	Return *Term   // nil leaves the return type unconstrained
}

// Node is one node of a compiled pattern. Which fields are meaningful
// depends on Op.
type Node struct {
	Op  Op
	Pos int // byte offset of the query text that produced the node

	Kinds  []item.Kind    // OpKind: any of
	Mods   item.Modifiers // OpModifier: all of
	Term   *Term          // single-term ops; nil on OpClause means presence only
	Terms  []*Term        // OpGenerics, OpParams, OpFields, OpMembers
	Clause item.ClauseKind
	Body   BodyPredicate
	Method *MethodSpec
	Text   string // OpAttribute
	Scoped bool   // OpTypeMention compiled from "types"

	Children []*Node // OpAnd, OpOr
}

// cost ranks ops for AND evaluation order: constant-time checks first,
// graph searches and body scans last.
func (n *Node) cost() int {
	switch n.Op {
	case OpAll, OpKind:
		return 0
	case OpModifier:
		return 1
	case OpName:
		return 2
	case OpGenerics, OpParams, OpFields, OpReturn, OpClause, OpAttribute,
		OpForType, OpMembers, OpMethods, OpAssocType:
		return 3
	case OpTypeMention:
		return 4
	case OpBound, OpAlias:
		return 5
	case OpBody, OpBodyText:
		return 6
	case OpAnd, OpOr:
		c := 0
		for _, ch := range n.Children {
			c = max(c, ch.cost())
		}
		return c
	}
	return 6
}

// and combines nodes, flattening nested ANDs and ordering children
// cheapest first. Stable sorting keeps query order within a cost class.
func and(pos int, nodes ...*Node) *Node {
	var flat []*Node
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if n.Op == OpAnd {
			flat = append(flat, n.Children...)
			continue
		}
		flat = append(flat, n)
	}
	switch len(flat) {
	case 0:
		return &Node{Op: OpAll, Pos: pos}
	case 1:
		return flat[0]
	}
	sort.SliceStable(flat, func(i, j int) bool { return flat[i].cost() < flat[j].cost() })
	return &Node{Op: OpAnd, Pos: pos, Children: flat}
}

// String renders the node tree in a compact prefix form. It is what
// SearchResult.Pattern carries and what --explain prints.
func (n *Node) String() string {
	var b strings.Builder
	n.write(&b)
	return b.String()
}

func (n *Node) write(b *strings.Builder) {
	switch n.Op {
	case OpAnd, OpOr:
		b.WriteString("(" + n.Op.String())
		for _, c := range n.Children {
			b.WriteByte(' ')
			c.write(b)
		}
		b.WriteByte(')')
	case OpKind:
		names := make([]string, len(n.Kinds))
		for i, k := range n.Kinds {
			names[i] = k.String()
		}
		fmt.Fprintf(b, "kind[%s]", strings.Join(names, "|"))
	case OpModifier:
		fmt.Fprintf(b, "mod[%s]", n.Mods)
	case OpClause:
		fmt.Fprintf(b, "%s[%s]", n.Clause, n.Term)
	case OpAttribute:
		fmt.Fprintf(b, "attr[%s]", n.Text)
	case OpGenerics, OpParams, OpFields, OpMembers:
		parts := make([]string, len(n.Terms))
		for i, t := range n.Terms {
			parts[i] = t.String()
		}
		fmt.Fprintf(b, "%s[%s]", n.Op, strings.Join(parts, ","))
	case OpBody:
		switch n.Body {
		case BodyProofBlock:
			b.WriteString("body[proof{}]")
		case BodyAssert:
			b.WriteString("body[assert]")
		case BodyUnsafeBlock:
			b.WriteString("body[unsafe{}]")
		default:
			fmt.Fprintf(b, "body[call %s]", n.Term)
		}
	case OpMethods:
		fmt.Fprintf(b, "methods[fn %s]", n.Method.Name)
	case OpAll:
		b.WriteString("all")
	default:
		fmt.Fprintf(b, "%s[%s]", n.Op, n.Term)
	}
}
