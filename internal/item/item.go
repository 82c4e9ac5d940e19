// Package item defines the normalized declaration model shared by both
// extraction passes and the matcher.
package item

import (
	"sort"
	"strings"
)

// Kind classifies a declaration site.
type Kind uint8

const (
	KindFunction Kind = iota + 1
	KindTrait
	KindImpl
	KindStruct
	KindEnum
	KindTypeAlias
	KindUseImport
	KindBroadcastGroup
)

var kindNames = map[Kind]string{
	KindFunction:       "fn",
	KindTrait:          "trait",
	KindImpl:           "impl",
	KindStruct:         "struct",
	KindEnum:           "enum",
	KindTypeAlias:      "type",
	KindUseImport:      "use",
	KindBroadcastGroup: "broadcast group",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// Kinds returns every kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindFunction, KindTrait, KindImpl, KindStruct,
		KindEnum, KindTypeAlias, KindUseImport, KindBroadcastGroup,
	}
}

// Modifier is one bit of an item's modifier set.
type Modifier uint16

const (
	ModPublic Modifier = 1 << iota
	ModOpen
	ModClosed
	ModBroadcast
	ModSpec
	ModProof
	ModExec
	ModAxiom
	ModUnsafe
)

// modifierOrder fixes the rendering order of modifier sets.
var modifierOrder = []struct {
	mod  Modifier
	name string
}{
	{ModPublic, "pub"},
	{ModOpen, "open"},
	{ModClosed, "closed"},
	{ModBroadcast, "broadcast"},
	{ModAxiom, "axiom"},
	{ModSpec, "spec"},
	{ModProof, "proof"},
	{ModExec, "exec"},
	{ModUnsafe, "unsafe"},
}

// ModifierByKeyword maps a source keyword to its modifier bit.
func ModifierByKeyword(kw string) (Modifier, bool) {
	for _, m := range modifierOrder {
		if m.name == kw {
			return m.mod, true
		}
	}
	return 0, false
}

// Modifiers is a set of Modifier bits.
type Modifiers uint16

// Has reports whether every bit of m is present.
func (s Modifiers) Has(m Modifier) bool { return uint16(s)&uint16(m) == uint16(m) }

// With returns s plus m.
func (s Modifiers) With(m Modifier) Modifiers { return Modifiers(uint16(s) | uint16(m)) }

// List returns the keyword names of the set in canonical order.
func (s Modifiers) List() []string {
	var out []string
	for _, m := range modifierOrder {
		if s.Has(m.mod) {
			out = append(out, m.name)
		}
	}
	return out
}

func (s Modifiers) String() string { return strings.Join(s.List(), " ") }

// Origin tags the source collection an item came from.
type Origin uint8

const (
	OriginCodebase Origin = iota
	OriginLibrary
	OriginBuiltin
)

func (o Origin) String() string {
	switch o {
	case OriginLibrary:
		return "vstd"
	case OriginBuiltin:
		return "builtin"
	default:
		return "codebase"
	}
}

// ParseOrigin is the inverse of Origin.String.
func ParseOrigin(s string) (Origin, bool) {
	switch s {
	case "vstd", "library":
		return OriginLibrary, true
	case "builtin":
		return OriginBuiltin, true
	case "codebase", "":
		return OriginCodebase, true
	}
	return 0, false
}

// ClauseKind names a contract clause.
type ClauseKind string

const (
	Requires   ClauseKind = "requires"
	Ensures    ClauseKind = "ensures"
	Recommends ClauseKind = "recommends"
)

// Generic is one generic parameter with its bound text.
type Generic struct {
	Name   string `json:"name"`
	Bounds string `json:"bounds,omitempty"`
}

// Param is a named, typed slot: a function parameter, struct field, or enum variant.
type Param struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Method is an associated function declared in a trait or impl body.
type Method struct {
	Name       string  `json:"name"`
	Params     []Param `json:"params,omitempty"`
	ReturnType string  `json:"return_type,omitempty"`
}

// Location is where an item was declared. Lines are 1-based, columns 0-based.
type Location struct {
	File          string `json:"file"`
	Line          int    `json:"line"`
	Column        int    `json:"column"`
	EndLine       int    `json:"end_line"`
	EndColumn     int    `json:"end_column"`
	HeaderEndLine int    `json:"header_end_line"`
}

// Item is one declaration site. Items are immutable once an index is built.
type Item struct {
	Kind        Kind                  `json:"kind"`
	Modifiers   Modifiers             `json:"modifiers"`
	Name        string                `json:"name,omitempty"`
	Generics    []Generic             `json:"generics,omitempty"`
	Params      []Param               `json:"params,omitempty"`
	Fields      []Param               `json:"fields,omitempty"`
	ReturnType  string                `json:"return_type,omitempty"`
	Clauses     map[ClauseKind]string `json:"clauses,omitempty"`
	TraitTarget string                `json:"trait_target,omitempty"`
	ForType     string                `json:"for_type,omitempty"`
	Bounds      []string              `json:"bounds,omitempty"`
	AliasOf     string                `json:"alias_of,omitempty"`
	Members     []string              `json:"members,omitempty"`
	Methods     []Method              `json:"methods,omitempty"`
	AssocTypes  []string              `json:"assoc_types,omitempty"`
	Attributes  []string              `json:"attributes,omitempty"`
	Body        []Token               `json:"body,omitempty"`
	HasBody     bool                  `json:"has_body,omitempty"`
	Origin      Origin                `json:"origin"`
	Location    Location              `json:"location"`
}

// AddClause appends clause text, joining repeats in source order.
func (it *Item) AddClause(kind ClauseKind, text string) {
	if it.Clauses == nil {
		it.Clauses = make(map[ClauseKind]string)
	}
	if prev, ok := it.Clauses[kind]; ok && prev != "" {
		it.Clauses[kind] = prev + " " + text
		return
	}
	it.Clauses[kind] = text
}

// Clause returns the clause text and whether the clause is present.
func (it *Item) Clause(kind ClauseKind) (string, bool) {
	s, ok := it.Clauses[kind]
	return s, ok
}

// GenericsText renders generics as "name bounds" pairs joined by spaces.
func (it *Item) GenericsText() string {
	parts := make([]string, 0, len(it.Generics))
	for _, g := range it.Generics {
		if g.Bounds == "" {
			parts = append(parts, g.Name)
			continue
		}
		parts = append(parts, g.Name+" "+g.Bounds)
	}
	return strings.Join(parts, " ")
}

// AttributeText joins all captured attributes and doc lines.
func (it *Item) AttributeText() string {
	return strings.Join(it.Attributes, " ")
}

// SignatureText is the rendered text that type-mention queries search: the
// types of params, fields, return and all clauses, plus kind-specific parts.
func (it *Item) SignatureText() string {
	var b strings.Builder
	add := func(s string) {
		if s == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s)
	}
	for _, p := range it.Params {
		add(p.Type)
	}
	for _, f := range it.Fields {
		add(f.Type)
	}
	add(it.ReturnType)
	for _, k := range []ClauseKind{Recommends, Requires, Ensures} {
		add(it.Clauses[k])
	}
	add(it.TraitTarget)
	add(it.ForType)
	add(it.AliasOf)
	for _, bnd := range it.Bounds {
		add(bnd)
	}
	return b.String()
}

// Less orders items by file path, then line, then column.
func Less(a, b *Item) bool {
	if a.Location.File != b.Location.File {
		return a.Location.File < b.Location.File
	}
	if a.Location.Line != b.Location.Line {
		return a.Location.Line < b.Location.Line
	}
	return a.Location.Column < b.Location.Column
}

// SortStable sorts items in place by (file, line, column), keeping the
// relative order of items that share a position.
func SortStable(items []Item) {
	sort.SliceStable(items, func(i, j int) bool { return Less(&items[i], &items[j]) })
}
