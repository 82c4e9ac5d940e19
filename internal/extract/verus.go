package extract

import (
	"github.com/jward/veracity/internal/item"
)

// clauseStops end a signature region at depth zero. A "{" starts the body and
// a ";" ends a bodiless declaration.
var clauseStops = map[string]bool{
	"requires": true, "ensures": true, "recommends": true, "decreases": true,
	"where": true, "opens_invariants": true, "returns": true, "no_unwind": true,
	"via": true, "when": true, "{": true, ";": true,
}

// skippedQualifiers precede an item keyword but carry no modifier.
var skippedQualifiers = map[string]bool{
	"async": true, "default": true, "uninterp": true, "tracked": true, "ghost": true,
}

// prelude accumulates doc comments and attributes that precede a declaration.
type prelude struct {
	entries []string
	docs    []int // indices into entries that are doc comments
	mods    item.Modifiers
}

func (p *prelude) addDoc(text string) {
	p.docs = append(p.docs, len(p.entries))
	p.entries = append(p.entries, trimComment(text))
}

func (p *prelude) addAttr(text string) {
	if m, ok := modifierFromAttribute(text); ok {
		p.mods = p.mods.With(m)
	}
	p.entries = append(p.entries, text)
}

// attributes returns the captured texts in source order, keeping only the
// last three doc comment lines.
func (p *prelude) attributes() []string {
	if len(p.entries) == 0 {
		return nil
	}
	drop := make(map[int]bool)
	if n := len(p.docs); n > 3 {
		for _, idx := range p.docs[:n-3] {
			drop[idx] = true
		}
	}
	out := make([]string, 0, len(p.entries))
	for i, e := range p.entries {
		if !drop[i] {
			out = append(out, e)
		}
	}
	return out
}

func (p *prelude) reset() { *p = prelude{} }

func trimComment(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}

// blockScanner is the token-stream pass. It walks the flat tokens of one
// verification block and recognizes declarations by keyword sequence, using
// delimiter depth in place of a syntax tree.
type blockScanner struct {
	src    []byte
	toks   []item.Token
	file   string
	origin item.Origin
}

// scanBlock extracts the items declared in toks. Any error discards the
// whole block.
func scanBlock(src []byte, toks []item.Token, file string, origin item.Origin) ([]item.Item, error) {
	s := &blockScanner{src: src, toks: reclassify(toks), file: file, origin: origin}
	return s.items(0, len(s.toks), nil)
}

// items scans declarations in toks[lo:hi]. When container is set, functions
// and associated types are also recorded on it.
func (s *blockScanner) items(lo, hi int, container *item.Item) ([]item.Item, error) {
	var out []item.Item
	var pre prelude
	i := lo
	for i < hi {
		t := s.toks[i]
		switch {
		case t.Kind == item.TokComment:
			if isDocComment(t.Text) {
				pre.addDoc(t.Text)
			}
			i++
		case t.Is("#") && i+1 < hi && s.toks[i+1].Is("!"):
			// Inner attribute: #![...]
			i += 2
			if i < hi && s.toks[i].Is("[") {
				end, err := matchClose(s.toks[:hi], i)
				if err != nil {
					return nil, err
				}
				i = end + 1
			}
		case t.Is("#") && i+1 < hi && s.toks[i+1].Is("["):
			end, err := matchClose(s.toks[:hi], i+1)
			if err != nil {
				return nil, err
			}
			pre.addAttr(render(s.src, s.toks[i:end+1]))
			i = end + 1
		case t.Is(";") || t.Is(","):
			i++
		default:
			decl, next, err := s.declaration(i, hi, &pre, container)
			if err != nil {
				return nil, err
			}
			out = append(out, decl...)
			i = next
			pre.reset()
		}
	}
	return out, nil
}

// header collects visibility and modifier keywords starting at i.
func (s *blockScanner) header(i, hi int, pre *prelude) (item.Modifiers, int, error) {
	mods := pre.mods
	for i < hi {
		t := s.toks[i]
		switch {
		case t.Is("pub"):
			mods = mods.With(item.ModPublic)
			i++
			if i < hi && s.toks[i].Is("(") {
				end, err := matchClose(s.toks[:hi], i)
				if err != nil {
					return 0, 0, err
				}
				i = end + 1
			}
		case t.Is("broadcast") && i+1 < hi && (s.toks[i+1].Is("use") || s.toks[i+1].Is("group")):
			return mods.With(item.ModBroadcast), i + 1, nil
		case t.Is("const") && i+1 < hi && s.isItemKeyword(s.toks[i+1]):
			i++
		case t.Is("extern"):
			i++
			if i < hi && s.toks[i].Kind == item.TokLiteral {
				i++
			}
		case skippedQualifiers[t.Text] && t.IsWord() && i+1 < hi && s.isItemKeyword(s.toks[i+1]):
			i++
		default:
			m, ok := item.ModifierByKeyword(t.Text)
			if !ok || !t.IsWord() || t.Is("pub") {
				return mods, i, nil
			}
			// "unsafe {" is a block, not a modifier.
			if t.Is("unsafe") && i+1 < hi && s.toks[i+1].Is("{") {
				return mods, i, nil
			}
			mods = mods.With(m)
			i++
		}
	}
	return mods, i, nil
}

// isItemKeyword reports whether t can follow a qualifier inside an item header.
func (s *blockScanner) isItemKeyword(t item.Token) bool {
	if t.Is("fn") || t.Is("unsafe") || t.Is("extern") || t.Is("pub") {
		return true
	}
	_, ok := item.ModifierByKeyword(t.Text)
	return ok && t.IsWord()
}

// declaration parses one declaration or skips one unrecognized token or
// group. It returns the produced items and the index after the declaration.
func (s *blockScanner) declaration(i, hi int, pre *prelude, container *item.Item) ([]item.Item, int, error) {
	start := i
	mods, i, err := s.header(i, hi, pre)
	if err != nil {
		return nil, 0, err
	}
	if i >= hi {
		return nil, hi, nil
	}
	base := item.Item{
		Modifiers:  mods,
		Attributes: pre.attributes(),
		Origin:     s.origin,
		Location:   s.location(start),
	}
	kw := s.toks[i]
	switch {
	case kw.Is("fn"):
		it, next, err := s.function(i+1, hi, base)
		if err != nil {
			return nil, 0, err
		}
		if container != nil {
			container.Methods = append(container.Methods, item.Method{
				Name: it.Name, Params: it.Params, ReturnType: it.ReturnType,
			})
		}
		return []item.Item{it}, next, nil
	case kw.Is("trait"):
		return s.trait(i+1, hi, base)
	case kw.Is("impl"):
		return s.impl(i+1, hi, base)
	case kw.Is("struct") || kw.Is("union"):
		it, next, err := s.structure(i+1, hi, base)
		if err != nil {
			return nil, 0, err
		}
		return []item.Item{it}, next, nil
	case kw.Is("enum"):
		it, next, err := s.enumeration(i+1, hi, base)
		if err != nil {
			return nil, 0, err
		}
		return []item.Item{it}, next, nil
	case kw.Is("type"):
		it, next, err := s.alias(i+1, hi, base)
		if err != nil {
			return nil, 0, err
		}
		if container != nil {
			container.AssocTypes = append(container.AssocTypes, it.Name)
			return nil, next, nil
		}
		return []item.Item{it}, next, nil
	case kw.Is("use"):
		return s.use(i+1, hi, base)
	case kw.Is("group") && base.Modifiers.Has(item.ModBroadcast):
		it, next, err := s.group(i+1, hi, base)
		if err != nil {
			return nil, 0, err
		}
		return []item.Item{it}, next, nil
	case kw.Is("mod"):
		return s.module(i+1, hi)
	case kw.IsOpen():
		end, err := matchClose(s.toks[:hi], i)
		if err != nil {
			return nil, 0, err
		}
		return nil, end + 1, nil
	case kw.IsClose():
		return nil, 0, unbalanced(kw.Line, "'"+kw.Text+"'")
	}
	return nil, i + 1, nil
}

func (s *blockScanner) location(i int) item.Location {
	t := s.toks[i]
	return item.Location{File: s.file, Line: t.Line, Column: t.Column}
}

// finish fills in the end position of an item whose last token is at last
// and whose signature ends on headerEnd.
func (s *blockScanner) finish(it *item.Item, last, headerEnd int) {
	t := s.toks[last]
	it.Location.EndLine = t.Line
	it.Location.EndColumn = t.Column + len(t.Text)
	it.Location.HeaderEndLine = s.toks[headerEnd].Line
}

// ident returns the identifier at i, if any.
func (s *blockScanner) ident(i, hi int) (string, bool) {
	if i < hi && s.toks[i].IsWord() && !s.toks[i].Is("where") && !s.toks[i].Is("for") {
		return s.toks[i].Text, true
	}
	return "", false
}

// generics parses a <...> list at i, returning the index after it.
func (s *blockScanner) generics(i, hi int) ([]item.Generic, int, error) {
	if i >= hi || !s.toks[i].Is("<") {
		return nil, i, nil
	}
	end := closeAngle(s.toks[:hi], i)
	if end < 0 {
		return nil, 0, unbalanced(s.toks[i].Line, "'<'")
	}
	return parseGenerics(s.src, s.toks[i+1:end]), end + 1, nil
}

// region returns the end of a depth-zero region starting at i that stops at
// any token in stops. It reports ok=false when hi is reached first.
func (s *blockScanner) region(i, hi int, stops map[string]bool) (int, bool, error) {
	return s.scanRegion(i, hi, stops, false)
}

// blockExprs introduce a block that belongs to an expression, as in
// "ensures r == if b { 1 } else { 0 }".
var blockExprs = map[string]bool{"if": true, "else": true, "match": true, "while": true, "loop": true, "unsafe": true}

// clauseRegion is region for contract clauses. A "{" that follows one of
// blockExprs is part of the clause, not the start of the function body.
func (s *blockScanner) clauseRegion(i, hi int) (int, bool, error) {
	return s.scanRegion(i, hi, clauseStops, true)
}

func (s *blockScanner) scanRegion(i, hi int, stops map[string]bool, exprs bool) (int, bool, error) {
	pending := false
	for j := i; j < hi; j++ {
		t := s.toks[j]
		if t.IsOpen() && (pending || !(t.Is("{") && stops["{"])) {
			end, err := matchClose(s.toks[:hi], j)
			if err != nil {
				return 0, false, err
			}
			if t.Is("{") {
				pending = false
			}
			j = end
			continue
		}
		if exprs && t.IsWord() && blockExprs[t.Text] {
			pending = true
		}
		if t.IsClose() {
			return 0, false, unbalanced(t.Line, "'"+t.Text+"'")
		}
		if stops[t.Text] && t.Kind != item.TokLiteral && t.Kind != item.TokComment {
			return j, true, nil
		}
	}
	return hi, false, nil
}

func (s *blockScanner) function(i, hi int, it item.Item) (item.Item, int, error) {
	it.Kind = item.KindFunction
	fnLine := s.toks[i-1].Line
	if name, ok := s.ident(i, hi); ok {
		it.Name = name
		i++
	}
	var err error
	if it.Generics, i, err = s.generics(i, hi); err != nil {
		return item.Item{}, 0, err
	}
	if i >= hi || !s.toks[i].Is("(") {
		return item.Item{}, 0, unterminated(fnLine, "function signature: missing parameter list")
	}
	end, err := matchClose(s.toks[:hi], i)
	if err != nil {
		return item.Item{}, 0, err
	}
	it.Params = parseParams(s.src, s.toks[i+1:end])
	i = end + 1
	if i < hi && s.toks[i].Is("->") {
		stop, ok, err := s.region(i+1, hi, clauseStops)
		if err != nil {
			return item.Item{}, 0, err
		}
		if !ok {
			return item.Item{}, 0, unterminated(fnLine, "return type")
		}
		it.ReturnType = render(s.src, s.toks[i+1:stop])
		i = stop
	}
	for i < hi {
		t := s.toks[i]
		switch {
		case t.Is("{"):
			end, err := matchClose(s.toks[:hi], i)
			if err != nil {
				return item.Item{}, 0, err
			}
			it.Body = append([]item.Token(nil), s.toks[i+1:end]...)
			it.HasBody = true
			s.finish(&it, end, i)
			return it, end + 1, nil
		case t.Is(";"):
			s.finish(&it, i, i)
			return it, i + 1, nil
		}
		stop, ok, err := s.clauseRegion(i+1, hi)
		if err != nil {
			return item.Item{}, 0, err
		}
		if !ok {
			return item.Item{}, 0, unterminated(t.Line, "'"+t.Text+"' clause")
		}
		body := s.toks[i+1 : stop]
		switch t.Text {
		case "requires":
			it.AddClause(item.Requires, render(s.src, body))
		case "ensures":
			it.AddClause(item.Ensures, render(s.src, body))
		case "recommends":
			it.AddClause(item.Recommends, render(s.src, body))
		case "where":
			it.Generics, _ = applyWhere(s.src, body, it.Generics)
		}
		i = stop
	}
	return item.Item{}, 0, unterminated(fnLine, "function: missing body or ';'")
}

// typeHeaderStops end a trait or impl header.
var typeHeaderStops = map[string]bool{"where": true, "{": true, ";": true}

func (s *blockScanner) trait(i, hi int, it item.Item) ([]item.Item, int, error) {
	it.Kind = item.KindTrait
	line := s.toks[i-1].Line
	name, ok := s.ident(i, hi)
	if !ok {
		return nil, 0, unterminated(line, "trait: missing name")
	}
	it.Name = name
	var err error
	if it.Generics, i, err = s.generics(i+1, hi); err != nil {
		return nil, 0, err
	}
	if i < hi && s.toks[i].Is(":") {
		stop, ok, err := s.regionAngles(i+1, hi, typeHeaderStops)
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			return nil, 0, unterminated(line, "trait bounds")
		}
		it.Bounds = parseBoundList(s.src, s.toks[i+1:stop])
		i = stop
	}
	return s.containerBody(i, hi, it, line)
}

// containerBody parses an optional where clause and the { ... } body of a
// trait or impl, recording methods and associated types on the container.
func (s *blockScanner) containerBody(i, hi int, it item.Item, line int) ([]item.Item, int, error) {
	if i < hi && s.toks[i].Is("where") {
		stop, ok, err := s.region(i+1, hi, typeHeaderStops)
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			return nil, 0, unterminated(line, "where clause")
		}
		var selfBounds []string
		it.Generics, selfBounds = applyWhere(s.src, s.toks[i+1:stop], it.Generics)
		if it.Kind == item.KindTrait {
			it.Bounds = append(it.Bounds, selfBounds...)
		}
		i = stop
	}
	if i >= hi || !s.toks[i].Is("{") {
		return nil, 0, unterminated(line, it.Kind.String()+": missing body")
	}
	end, err := matchClose(s.toks[:hi], i)
	if err != nil {
		return nil, 0, err
	}
	inner, err := s.items(i+1, end, &it)
	if err != nil {
		return nil, 0, err
	}
	it.Body = append([]item.Token(nil), s.toks[i+1:end]...)
	it.HasBody = true
	s.finish(&it, end, i)
	return append([]item.Item{it}, inner...), end + 1, nil
}

// regionAngles is region with generic angle brackets treated as nesting.
func (s *blockScanner) regionAngles(i, hi int, stops map[string]bool) (int, bool, error) {
	angle := 0
	for j := i; j < hi; j++ {
		t := s.toks[j]
		if t.IsOpen() && !(t.Is("{") && angle == 0) {
			end, err := matchClose(s.toks[:hi], j)
			if err != nil {
				return 0, false, err
			}
			j = end
			continue
		}
		if t.IsClose() {
			return 0, false, unbalanced(t.Line, "'"+t.Text+"'")
		}
		angle = max(0, angle+angleDelta(t))
		if angle == 0 && stops[t.Text] && t.Kind != item.TokLiteral {
			return j, true, nil
		}
	}
	return hi, false, nil
}

func (s *blockScanner) impl(i, hi int, it item.Item) ([]item.Item, int, error) {
	it.Kind = item.KindImpl
	line := s.toks[i-1].Line
	var err error
	if it.Generics, i, err = s.generics(i, hi); err != nil {
		return nil, 0, err
	}
	stop, ok, err := s.regionAngles(i, hi, typeHeaderStops)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, unterminated(line, "impl header")
	}
	head := s.toks[i:stop]
	if f := indexTop(head, "for", true); f >= 0 {
		trait := head[:f]
		if len(trait) > 0 && trait[0].Is("!") {
			trait = trait[1:]
		}
		it.TraitTarget = baseName(render(s.src, trait))
		it.ForType = render(s.src, head[f+1:])
	} else {
		it.ForType = render(s.src, head)
	}
	it.Name = it.TraitTarget
	if it.TraitTarget != "" {
		it.Bounds = []string{it.TraitTarget}
	}
	return s.containerBody(stop, hi, it, line)
}

func (s *blockScanner) structure(i, hi int, it item.Item) (item.Item, int, error) {
	it.Kind = item.KindStruct
	line := s.toks[i-1].Line
	name, ok := s.ident(i, hi)
	if !ok {
		return item.Item{}, 0, unterminated(line, "struct: missing name")
	}
	it.Name = name
	var err error
	if it.Generics, i, err = s.generics(i+1, hi); err != nil {
		return item.Item{}, 0, err
	}
	for i < hi {
		t := s.toks[i]
		switch {
		case t.Is(";"):
			s.finish(&it, i, i)
			return it, i + 1, nil
		case t.Is("{") || t.Is("("):
			end, err := matchClose(s.toks[:hi], i)
			if err != nil {
				return item.Item{}, 0, err
			}
			it.Fields = parseFields(s.src, s.toks[i+1:end], t.Is("("))
			s.finish(&it, end, i)
			next := end + 1
			if t.Is("(") {
				// Tuple structs may carry a where clause before the ';'.
				stop, ok, err := s.region(next, hi, map[string]bool{";": true})
				if err != nil {
					return item.Item{}, 0, err
				}
				if ok {
					next = stop + 1
				}
			}
			return it, next, nil
		case t.Is("where"):
			stop, ok, err := s.region(i+1, hi, typeHeaderStops)
			if err != nil {
				return item.Item{}, 0, err
			}
			if !ok {
				return item.Item{}, 0, unterminated(line, "where clause")
			}
			it.Generics, _ = applyWhere(s.src, s.toks[i+1:stop], it.Generics)
			i = stop
		default:
			return item.Item{}, 0, unterminated(line, "struct: unexpected '"+t.Text+"'")
		}
	}
	return item.Item{}, 0, unterminated(line, "struct: missing body")
}

func (s *blockScanner) enumeration(i, hi int, it item.Item) (item.Item, int, error) {
	it.Kind = item.KindEnum
	line := s.toks[i-1].Line
	name, ok := s.ident(i, hi)
	if !ok {
		return item.Item{}, 0, unterminated(line, "enum: missing name")
	}
	it.Name = name
	var err error
	if it.Generics, i, err = s.generics(i+1, hi); err != nil {
		return item.Item{}, 0, err
	}
	stop, ok, err := s.region(i, hi, typeHeaderStops)
	if err != nil {
		return item.Item{}, 0, err
	}
	if ok && s.toks[stop].Is("where") {
		end, ok2, err := s.region(stop+1, hi, typeHeaderStops)
		if err != nil {
			return item.Item{}, 0, err
		}
		if !ok2 {
			return item.Item{}, 0, unterminated(line, "where clause")
		}
		it.Generics, _ = applyWhere(s.src, s.toks[stop+1:end], it.Generics)
		stop = end
	}
	if !ok || !s.toks[stop].Is("{") {
		return item.Item{}, 0, unterminated(line, "enum: missing body")
	}
	end, err := matchClose(s.toks[:hi], stop)
	if err != nil {
		return item.Item{}, 0, err
	}
	it.Fields = parseVariants(s.src, s.toks[stop+1:end])
	s.finish(&it, end, stop)
	return it, end + 1, nil
}

func (s *blockScanner) alias(i, hi int, it item.Item) (item.Item, int, error) {
	it.Kind = item.KindTypeAlias
	line := s.toks[i-1].Line
	name, ok := s.ident(i, hi)
	if !ok {
		return item.Item{}, 0, unterminated(line, "type: missing name")
	}
	it.Name = name
	var err error
	if it.Generics, i, err = s.generics(i+1, hi); err != nil {
		return item.Item{}, 0, err
	}
	stop, ok, err := s.region(i, hi, map[string]bool{";": true})
	if err != nil {
		return item.Item{}, 0, err
	}
	if !ok {
		return item.Item{}, 0, unterminated(line, "type alias: missing ';'")
	}
	rest := s.toks[i:stop]
	if eq := indexTop(rest, "=", true); eq >= 0 {
		it.AliasOf = render(s.src, rest[eq+1:])
	}
	s.finish(&it, stop, stop)
	return it, stop + 1, nil
}

// use handles "use path;" and "broadcast use a, b;" / "broadcast use { a, b };".
// Broadcast imports produce one item per listed path.
func (s *blockScanner) use(i, hi int, it item.Item) ([]item.Item, int, error) {
	it.Kind = item.KindUseImport
	line := s.toks[i-1].Line
	stop, ok, err := s.region(i, hi, map[string]bool{";": true})
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, unterminated(line, "use: missing ';'")
	}
	s.finish(&it, stop, stop)
	arg := s.toks[i:stop]
	if !it.Modifiers.Has(item.ModBroadcast) {
		it.Name = render(s.src, arg)
		return []item.Item{it}, stop + 1, nil
	}
	if len(arg) > 0 && arg[0].Is("{") {
		end, err := matchClose(arg, 0)
		if err != nil {
			return nil, 0, err
		}
		arg = arg[1:end]
	}
	var out []item.Item
	for _, path := range splitTop(arg, ",", true) {
		imp := it
		imp.Name = render(s.src, path)
		imp.Location.Line = path[0].Line
		imp.Location.Column = path[0].Column
		out = append(out, imp)
	}
	return out, stop + 1, nil
}

func (s *blockScanner) group(i, hi int, it item.Item) (item.Item, int, error) {
	it.Kind = item.KindBroadcastGroup
	line := s.toks[i-1].Line
	name, ok := s.ident(i, hi)
	if !ok {
		return item.Item{}, 0, unterminated(line, "broadcast group: missing name")
	}
	it.Name = name
	i++
	if i >= hi || !s.toks[i].Is("{") {
		return item.Item{}, 0, unterminated(line, "broadcast group: missing body")
	}
	end, err := matchClose(s.toks[:hi], i)
	if err != nil {
		return item.Item{}, 0, err
	}
	for _, member := range splitTop(s.toks[i+1:end], ",", true) {
		member = stripAttrs(member)
		if len(member) > 0 {
			it.Members = append(it.Members, render(s.src, member))
		}
	}
	s.finish(&it, end, i)
	return it, end + 1, nil
}

func (s *blockScanner) module(i, hi int) ([]item.Item, int, error) {
	if _, ok := s.ident(i, hi); ok {
		i++
	}
	if i < hi && s.toks[i].Is(";") {
		return nil, i + 1, nil
	}
	if i >= hi || !s.toks[i].Is("{") {
		return nil, i, nil
	}
	end, err := matchClose(s.toks[:hi], i)
	if err != nil {
		return nil, 0, err
	}
	inner, err := s.items(i+1, end, nil)
	if err != nil {
		return nil, 0, err
	}
	return inner, end + 1, nil
}
