// Package pattern compiles search queries into matcher trees.
//
// A query names an item kind and constraints on it:
//
//	proof fn lemma_.*_len (: Seq) -> bool requires forall
//	trait _ : Clone
//	struct _ { : int, : Seq }
//	impl _ for Vec : View { fn view -> Seq }
//	fn _ body \(admit\|assume\)
//
// Adjacent clauses are AND-ed. Names default to word-boundary matching and
// type or clause text to substring matching; ".*" builds an anchored
// wildcard, a trailing "!" forces a word boundary, and groups combine
// alternatives with | and &.
package pattern

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jward/veracity/internal/item"
)

// Option configures compilation.
type Option func(*parser)

// WithStrict makes plain names match whole identifiers only.
func WithStrict(strict bool) Option {
	return func(p *parser) { p.strict = strict }
}

// Compile parses query into a pattern tree. Errors are *CompileError.
func Compile(query string, opts ...Option) (*Node, error) {
	toks, err := lex(query)
	if err != nil {
		return nil, err
	}
	p := &parser{query: query, toks: toks}
	for _, opt := range opts {
		opt(p)
	}
	n, err := p.parse()
	if err != nil {
		var ce *CompileError
		if errors.As(err, &ce) && ce.Query == "" {
			ce.Query = query
		}
		return nil, err
	}
	return n, nil
}

var headWords = map[string]bool{
	"fn": true, "trait": true, "impl": true, "struct": true, "enum": true,
	"type": true, "use": true, "group": true, "def": true,
}

var clauseWords = map[string]bool{
	"requires": true, "ensures": true, "recommends": true, "generics": true,
	"types": true, "args": true, "body": true, "assert": true, "for": true,
}

var clauseKinds = map[string]item.ClauseKind{
	"requires":   item.Requires,
	"ensures":    item.Ensures,
	"recommends": item.Recommends,
}

type parser struct {
	query  string
	toks   []token
	i      int
	strict bool
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) peekAt(n int) token {
	if p.i+n < len(p.toks) {
		return p.toks[p.i+n]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) fail(t token, sentinel error, format string, args ...any) error {
	return &CompileError{Query: p.query, Pos: t.pos, Msg: fmt.Sprintf(format, args...), Err: sentinel}
}

// reserved reports whether t has structural meaning and cannot be a match word.
func reserved(t token) bool {
	switch t.kind {
	case tokPunct, tokAttr, tokEOF:
		return true
	case tokGroup:
		return false
	}
	w := strings.ToLower(t.text)
	if headWords[w] || clauseWords[w] || w == "<_>" || isMention(t) {
		return true
	}
	_, isMod := item.ModifierByKeyword(w)
	return isMod
}

func isMention(t token) bool {
	return t.kind == tokWord && len(t.text) > 2 && strings.HasSuffix(t.text, "^+")
}

// matchWord reports whether t can be read as a name or type match.
func matchWord(t token) bool {
	return (t.kind == tokWord || t.kind == tokGroup) && !reserved(t)
}

func (p *parser) term(t token, kind termKind) (*Term, error) {
	return compileTerm(t.text, t.pos, kind, p.strict && kind == nameTerm)
}

func (p *parser) parse() (*Node, error) {
	if p.peek().kind == tokEOF {
		return nil, p.fail(p.peek(), ErrExpected, "empty query")
	}
	if p.peek().is("_") && p.peekAt(1).kind == tokEOF {
		return &Node{Op: OpAll}, nil
	}
	nodes, err := p.head()
	if err != nil {
		return nil, err
	}
	for p.peek().kind != tokEOF {
		more, err := p.clause()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, more...)
	}
	return and(0, nodes...), nil
}

// head parses leading modifiers and attributes, then an optional kind head.
func (p *parser) head() ([]*Node, error) {
	var nodes []*Node
	var mods item.Modifiers
	modPos := p.peek().pos
loop:
	for {
		t := p.peek()
		switch {
		case t.kind == tokAttr:
			p.next()
			nodes = append(nodes, &Node{Op: OpAttribute, Pos: t.pos, Text: t.text})
		case t.is("<_>"):
			p.next()
			nodes = append(nodes, &Node{Op: OpGenerics, Pos: t.pos})
		case (t.is("proof") || t.is("unsafe")) && p.peekAt(1).is("{"):
			break loop
		case t.kind == tokWord:
			m, ok := item.ModifierByKeyword(strings.ToLower(t.text))
			if !ok {
				break loop
			}
			p.next()
			mods = mods.With(m)
		default:
			break loop
		}
	}
	if mods != 0 {
		nodes = append(nodes, &Node{Op: OpModifier, Pos: modPos, Mods: mods})
	}

	t := p.peek()
	var rest []*Node
	var err error
	switch {
	case t.is("fn"):
		p.next()
		rest, err = p.fnHead(t)
	case t.is("trait"):
		p.next()
		rest, err = p.traitHead(t)
	case t.is("impl"):
		p.next()
		rest, err = p.implHead(t)
	case t.is("struct"):
		p.next()
		rest, err = p.fieldsHead(t, item.KindStruct)
	case t.is("enum"):
		p.next()
		rest, err = p.fieldsHead(t, item.KindEnum)
	case t.is("type"):
		p.next()
		rest, err = p.typeHead(t)
	case t.is("use"):
		p.next()
		rest, err = p.namedHead(t, item.KindUseImport)
	case t.is("group"):
		p.next()
		rest, err = p.groupHead(t)
	case t.is("def"):
		p.next()
		rest, err = p.namedHead(t, item.KindStruct, item.KindEnum, item.KindTypeAlias, item.KindTrait)
	case t.is("_"):
		p.next()
	case matchWord(t):
		// A bare name searches functions.
		rest, err = p.namedHead(t, item.KindFunction)
	}
	if err != nil {
		return nil, err
	}
	return append(nodes, rest...), nil
}

func kindNode(t token, kinds ...item.Kind) *Node {
	return &Node{Op: OpKind, Pos: t.pos, Kinds: kinds}
}

// name parses an optional name match. "_" produces no node.
func (p *parser) name() (*Node, error) {
	t := p.peek()
	if !matchWord(t) {
		return nil, nil
	}
	p.next()
	term, err := p.term(t, nameTerm)
	if err != nil {
		return nil, err
	}
	if term.IsAny() {
		return nil, nil
	}
	return &Node{Op: OpName, Pos: t.pos, Term: term}, nil
}

// anyGenerics consumes an optional "<_>".
func (p *parser) anyGenerics() *Node {
	if t := p.peek(); t.is("<_>") {
		p.next()
		return &Node{Op: OpGenerics, Pos: t.pos}
	}
	return nil
}

func (p *parser) namedHead(kw token, kinds ...item.Kind) ([]*Node, error) {
	nodes := []*Node{kindNode(kw, kinds...), p.anyGenerics()}
	n, err := p.name()
	if err != nil {
		return nil, err
	}
	return append(nodes, n), nil
}

func (p *parser) fnHead(kw token) ([]*Node, error) {
	nodes, err := p.namedHead(kw, item.KindFunction)
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.is("(") {
		terms, err := p.delimited("(", ")")
		if err != nil {
			return nil, err
		}
		if len(terms) > 0 {
			nodes = append(nodes, &Node{Op: OpParams, Pos: t.pos, Terms: terms})
		}
	}
	return nodes, nil
}

// delimited parses "open (':'? term (','|';')?)* close" into text terms.
func (p *parser) delimited(opener, closer string) ([]*Term, error) {
	start := p.next()
	var terms []*Term
	for {
		t := p.peek()
		switch {
		case t.kind == tokEOF:
			return nil, p.fail(start, ErrUnbalanced, "unclosed %q", opener)
		case t.is(closer):
			p.next()
			return terms, nil
		case t.is(":") || t.is(",") || t.is(";"):
			p.next()
		case t.kind == tokWord || t.kind == tokGroup:
			p.next()
			term, err := p.term(t, textTerm)
			if err != nil {
				return nil, err
			}
			terms = append(terms, term)
		default:
			return nil, p.fail(t, ErrUnexpected, "unexpected %q inside %q", t.text, opener+closer)
		}
	}
}

// boundList parses ": A + B" into one bound node per target.
func (p *parser) boundList() ([]*Node, error) {
	colon := p.next()
	var nodes []*Node
	for {
		t := p.peek()
		if !matchWord(t) {
			return nil, p.fail(t, ErrExpected, "expected bound name after %q", colon.text)
		}
		p.next()
		term, err := p.term(t, nameTerm)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, &Node{Op: OpBound, Pos: t.pos, Term: term})
		if !p.peek().is("+") {
			return nodes, nil
		}
		colon = p.next()
	}
}

func (p *parser) traitHead(kw token) ([]*Node, error) {
	nodes, err := p.namedHead(kw, item.KindTrait)
	if err != nil {
		return nil, err
	}
	if p.peek().is(":") {
		bnds, err := p.boundList()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, bnds...)
	}
	body, err := p.bodyClause()
	if err != nil {
		return nil, err
	}
	return append(nodes, body...), nil
}

func (p *parser) implHead(kw token) ([]*Node, error) {
	nodes, err := p.namedHead(kw, item.KindImpl)
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.is("for") {
		p.next()
		ty := p.peek()
		if !matchWord(ty) {
			return nil, p.fail(ty, ErrExpected, "expected type after %q", "for")
		}
		p.next()
		term, err := p.term(ty, textTerm)
		if err != nil {
			return nil, err
		}
		if !term.IsAny() {
			nodes = append(nodes, &Node{Op: OpForType, Pos: ty.pos, Term: term})
		}
	}
	if p.peek().is(":") {
		bnds, err := p.boundList()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, bnds...)
	}
	body, err := p.bodyClause()
	if err != nil {
		return nil, err
	}
	return append(nodes, body...), nil
}

func (p *parser) fieldsHead(kw token, kind item.Kind) ([]*Node, error) {
	nodes, err := p.namedHead(kw, kind)
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.is("{") {
		terms, err := p.delimited("{", "}")
		if err != nil {
			return nil, err
		}
		if len(terms) > 0 {
			nodes = append(nodes, &Node{Op: OpFields, Pos: t.pos, Terms: terms})
		}
	}
	return nodes, nil
}

func (p *parser) typeHead(kw token) ([]*Node, error) {
	nodes, err := p.namedHead(kw, item.KindTypeAlias)
	if err != nil {
		return nil, err
	}
	if eq := p.peek(); eq.is("=") {
		p.next()
		t := p.peek()
		if !matchWord(t) {
			return nil, p.fail(t, ErrExpected, "expected type after %q", "=")
		}
		p.next()
		term, err := p.term(t, textTerm)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, &Node{Op: OpAlias, Pos: t.pos, Term: term})
	}
	return nodes, nil
}

func (p *parser) groupHead(kw token) ([]*Node, error) {
	nodes, err := p.namedHead(kw, item.KindBroadcastGroup)
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if !t.is("{") {
		return nodes, nil
	}
	p.next()
	var terms []*Term
	for {
		m := p.peek()
		switch {
		case m.kind == tokEOF:
			return nil, p.fail(t, ErrUnbalanced, "unclosed %q", "{")
		case m.is("}"):
			p.next()
			if len(terms) > 0 {
				nodes = append(nodes, &Node{Op: OpMembers, Pos: t.pos, Terms: terms})
			}
			return nodes, nil
		case m.is(",") || m.is(";"):
			p.next()
		case m.kind == tokWord || m.kind == tokGroup:
			p.next()
			term, err := p.term(m, nameTerm)
			if err != nil {
				return nil, err
			}
			terms = append(terms, term)
		default:
			return nil, p.fail(m, ErrUnexpected, "unexpected %q in group members", m.text)
		}
	}
}

// bodyClause parses an optional trait or impl body constraint:
// "{ type NAME ; fn NAME (TYPE) -> TYPE ; text }".
func (p *parser) bodyClause() ([]*Node, error) {
	open := p.peek()
	if !open.is("{") {
		return nil, nil
	}
	p.next()
	var nodes []*Node
	for {
		t := p.peek()
		switch {
		case t.kind == tokEOF:
			return nil, p.fail(open, ErrUnbalanced, "unclosed %q", "{")
		case t.is("}"):
			p.next()
			return nodes, nil
		case t.is(";") || t.is(","):
			p.next()
		case t.is("type"):
			p.next()
			nt := p.peek()
			if !matchWord(nt) {
				return nil, p.fail(nt, ErrExpected, "expected associated type name")
			}
			p.next()
			term, err := p.term(nt, nameTerm)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, &Node{Op: OpAssocType, Pos: nt.pos, Term: term})
		case t.is("fn"):
			p.next()
			spec, err := p.methodSpec()
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, &Node{Op: OpMethods, Pos: t.pos, Method: spec})
		case t.kind == tokWord || t.kind == tokGroup:
			p.next()
			term, err := p.term(t, textTerm)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, &Node{Op: OpBodyText, Pos: t.pos, Term: term})
		default:
			return nil, p.fail(t, ErrUnexpected, "unexpected %q in body clause", t.text)
		}
	}
}

func (p *parser) methodSpec() (*MethodSpec, error) {
	spec := &MethodSpec{}
	if t := p.peek(); matchWord(t) {
		p.next()
		term, err := p.term(t, nameTerm)
		if err != nil {
			return nil, err
		}
		if !term.IsAny() {
			spec.Name = term
		}
	}
	if p.peek().is("(") {
		terms, err := p.delimited("(", ")")
		if err != nil {
			return nil, err
		}
		spec.Params = terms
	}
	if arrow := p.peek(); arrow.is("->") {
		p.next()
		t := p.peek()
		if !matchWord(t) {
			return nil, p.fail(t, ErrExpected, "expected return type after %q", "->")
		}
		p.next()
		term, err := p.term(t, textTerm)
		if err != nil {
			return nil, err
		}
		spec.Return = term
	}
	return spec, nil
}

// words collects match words up to the next reserved token, skipping
// separators.
func (p *parser) words(kind termKind) ([]token, []*Term, error) {
	var toks []token
	var terms []*Term
	for {
		t := p.peek()
		if t.is(",") || t.is(":") {
			p.next()
			continue
		}
		if !matchWord(t) {
			return toks, terms, nil
		}
		p.next()
		term, err := p.term(t, kind)
		if err != nil {
			return nil, nil, err
		}
		toks = append(toks, t)
		terms = append(terms, term)
	}
}

// clause parses one trailing constraint.
func (p *parser) clause() ([]*Node, error) {
	t := p.peek()
	lower := strings.ToLower(t.text)
	switch {
	case t.kind == tokAttr:
		p.next()
		return []*Node{{Op: OpAttribute, Pos: t.pos, Text: t.text}}, nil

	case t.is("->"):
		p.next()
		rt := p.peek()
		if !matchWord(rt) {
			return nil, p.fail(rt, ErrExpected, "expected return type after %q", "->")
		}
		p.next()
		term, err := p.term(rt, textTerm)
		if err != nil {
			return nil, err
		}
		return []*Node{{Op: OpReturn, Pos: rt.pos, Term: term}}, nil

	case t.kind == tokWord && clauseKinds[lower] != "":
		p.next()
		kind := clauseKinds[lower]
		toks, terms, err := p.words(textTerm)
		if err != nil {
			return nil, err
		}
		if len(terms) == 0 {
			return []*Node{{Op: OpClause, Pos: t.pos, Clause: kind}}, nil
		}
		nodes := make([]*Node, len(terms))
		for i, term := range terms {
			nodes[i] = &Node{Op: OpClause, Pos: toks[i].pos, Clause: kind, Term: term}
		}
		return nodes, nil

	case t.is("generics"):
		p.next()
		_, terms, err := p.words(textTerm)
		if err != nil {
			return nil, err
		}
		return []*Node{{Op: OpGenerics, Pos: t.pos, Terms: terms}}, nil

	case t.is("types"), t.is("args"), t.is("body"):
		p.next()
		kind := textTerm
		if lower == "body" {
			kind = nameTerm
		}
		toks, terms, err := p.words(kind)
		if err != nil {
			return nil, err
		}
		if len(terms) == 0 {
			return nil, p.fail(p.peek(), ErrExpected, "expected at least one term after %q", lower)
		}
		switch lower {
		case "args":
			return []*Node{{Op: OpParams, Pos: t.pos, Terms: terms}}, nil
		case "types":
			nodes := make([]*Node, len(terms))
			for i, term := range terms {
				nodes[i] = &Node{Op: OpTypeMention, Pos: toks[i].pos, Term: term, Scoped: true}
			}
			return nodes, nil
		}
		nodes := make([]*Node, len(terms))
		for i, term := range terms {
			nodes[i] = &Node{Op: OpBody, Pos: toks[i].pos, Body: BodyCall, Term: term}
		}
		return nodes, nil

	case t.is("assert"):
		p.next()
		return []*Node{{Op: OpBody, Pos: t.pos, Body: BodyAssert}}, nil

	case (t.is("proof") || t.is("unsafe")) && p.peekAt(1).is("{"):
		p.next()
		open := p.next()
		if !p.peek().is("}") {
			return nil, p.fail(open, ErrUnbalanced, "expected %q after %q", "}", t.text+" {")
		}
		p.next()
		pred := BodyProofBlock
		if lower == "unsafe" {
			pred = BodyUnsafeBlock
		}
		return []*Node{{Op: OpBody, Pos: t.pos, Body: pred}}, nil

	case t.is("<_>"):
		p.next()
		return []*Node{{Op: OpGenerics, Pos: t.pos}}, nil

	case isMention(t):
		p.next()
		term, err := compileTerm(strings.TrimSuffix(t.text, "^+"), t.pos, textTerm, false)
		if err != nil {
			return nil, err
		}
		return []*Node{{Op: OpTypeMention, Pos: t.pos, Term: term}}, nil

	case t.kind == tokWord:
		if m, ok := item.ModifierByKeyword(lower); ok {
			p.next()
			return []*Node{{Op: OpModifier, Pos: t.pos, Mods: item.Modifiers(0).With(m)}}, nil
		}

	case t.is(")") || t.is("}"):
		return nil, p.fail(t, ErrUnbalanced, "unmatched %q", t.text)
	}
	return nil, p.fail(t, ErrUnexpected, "unexpected %q", t.text)
}
