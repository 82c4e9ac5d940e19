package extract

import (
	"strconv"
	"strings"

	"github.com/jward/veracity/internal/item"
)

// Helpers shared by the syntax-tree pass and the token-stream pass. Both
// passes reduce signature fragments to token slices and normalize them here,
// which is what keeps the two item shapes identical.

// render returns the source text spanned by toks with whitespace collapsed.
// Comment tokens are dropped.
func render(src []byte, toks []item.Token) string {
	var parts []string
	segStart := -1
	flush := func(end int) {
		if segStart < 0 {
			return
		}
		a, b := toks[segStart].Start, toks[end].End
		if int(b) <= len(src) && a <= b {
			parts = append(parts, string(src[a:b]))
		}
		segStart = -1
	}
	for i, t := range toks {
		if t.Kind == item.TokComment {
			flush(i - 1)
			continue
		}
		if segStart < 0 {
			segStart = i
		}
	}
	flush(len(toks) - 1)
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// matchClose returns the index of the delimiter closing the group opened at i.
func matchClose(toks []item.Token, i int) (int, error) {
	depth := 0
	for j := i; j < len(toks); j++ {
		switch {
		case toks[j].IsOpen():
			depth++
		case toks[j].IsClose():
			depth--
			if depth == 0 {
				return j, nil
			}
			if depth < 0 {
				return 0, unbalanced(toks[j].Line, "'"+toks[j].Text+"'")
			}
		}
	}
	return 0, unbalanced(toks[i].Line, "'"+toks[i].Text+"'")
}

// angleDelta is the change in generic-angle depth caused by t. The flattener
// splits "<<" and ">>" into single tokens, so only "<" and ">" count here and
// "->" and "=>" are ignored.
func angleDelta(t item.Token) int {
	if t.Kind != item.TokPunct {
		return 0
	}
	switch t.Text {
	case "<":
		return 1
	case ">":
		return -1
	}
	return 0
}

// splitTop splits toks at every sep that sits outside delimited groups and,
// when angles is set, outside generic angle brackets. Empty parts are dropped.
func splitTop(toks []item.Token, sep string, angles bool) [][]item.Token {
	var out [][]item.Token
	depth, angle := 0, 0
	start := 0
	for i, t := range toks {
		switch {
		case t.IsOpen():
			depth++
		case t.IsClose():
			depth--
		case angles && depth == 0:
			angle = max(0, angle+angleDelta(t))
		}
		if depth == 0 && angle == 0 && t.Is(sep) {
			if i > start {
				out = append(out, toks[start:i])
			}
			start = i + 1
		}
	}
	if start < len(toks) {
		out = append(out, toks[start:])
	}
	return out
}

// indexTop returns the index of the first top-level token equal to text, or -1.
func indexTop(toks []item.Token, text string, angles bool) int {
	depth, angle := 0, 0
	for i, t := range toks {
		switch {
		case t.IsOpen():
			depth++
		case t.IsClose():
			depth--
		case angles && depth == 0:
			angle = max(0, angle+angleDelta(t))
		}
		if depth == 0 && angle == 0 && t.Is(text) {
			return i
		}
	}
	return -1
}

// closeAngle returns the index of the token that closes the '<' at i.
func closeAngle(toks []item.Token, i int) int {
	angle, depth := 0, 0
	for j := i; j < len(toks); j++ {
		t := toks[j]
		switch {
		case t.IsOpen():
			depth++
		case t.IsClose():
			depth--
		case depth == 0:
			angle += angleDelta(t)
			if angle <= 0 {
				return j
			}
		}
	}
	return -1
}

// stripAttrs drops leading #[...] attributes and visibility from a field or
// parameter fragment.
func stripAttrs(toks []item.Token) []item.Token {
	for len(toks) > 0 {
		switch {
		case toks[0].Kind == item.TokComment:
			toks = toks[1:]
		case toks[0].Is("#") && len(toks) > 1 && toks[1].Is("["):
			end, err := matchClose(toks, 1)
			if err != nil {
				return toks
			}
			toks = toks[end+1:]
		case toks[0].Is("pub"):
			toks = toks[1:]
			if len(toks) > 0 && toks[0].Is("(") {
				end, err := matchClose(toks, 0)
				if err != nil {
					return toks
				}
				toks = toks[end+1:]
			}
		default:
			return toks
		}
	}
	return toks
}

// stripGhost drops Verus ghost-mode qualifiers from a field or parameter name.
func stripGhost(toks []item.Token) []item.Token {
	for len(toks) > 1 && (toks[0].Is("ghost") || toks[0].Is("tracked") || toks[0].Is("mut")) {
		toks = toks[1:]
	}
	return toks
}

// parseGenerics normalizes the contents of a <...> generic list.
func parseGenerics(src []byte, toks []item.Token) []item.Generic {
	var out []item.Generic
	for _, part := range splitTop(toks, ",", true) {
		part = stripAttrs(part)
		if len(part) == 0 {
			continue
		}
		if eq := indexTop(part, "=", true); eq >= 0 {
			part = part[:eq]
		}
		if part[0].Is("const") && len(part) > 1 {
			g := item.Generic{Name: part[1].Text}
			if c := indexTop(part, ":", true); c >= 0 {
				g.Bounds = "const " + render(src, part[c+1:])
			}
			out = append(out, g)
			continue
		}
		c := indexTop(part, ":", true)
		if c < 0 {
			out = append(out, item.Generic{Name: render(src, part)})
			continue
		}
		out = append(out, item.Generic{
			Name:   render(src, part[:c]),
			Bounds: render(src, part[c+1:]),
		})
	}
	return out
}

// parseParams normalizes the contents of a (...) parameter list.
func parseParams(src []byte, toks []item.Token) []item.Param {
	var out []item.Param
	for _, part := range splitTop(toks, ",", true) {
		part = stripAttrs(part)
		if len(part) == 0 {
			continue
		}
		c := indexTop(part, ":", true)
		if c < 0 {
			// Receiver: self, &self, &mut self, &'a self.
			out = append(out, item.Param{Name: "self", Type: render(src, part)})
			continue
		}
		out = append(out, item.Param{
			Name: render(src, stripGhost(part[:c])),
			Type: render(src, part[c+1:]),
		})
	}
	return out
}

// parseFields normalizes a struct body, named or positional.
func parseFields(src []byte, toks []item.Token, positional bool) []item.Param {
	var out []item.Param
	for i, part := range splitTop(toks, ",", true) {
		part = stripGhost(stripAttrs(part))
		if len(part) == 0 {
			continue
		}
		if positional {
			out = append(out, item.Param{Name: strconv.Itoa(i), Type: render(src, part)})
			continue
		}
		c := indexTop(part, ":", true)
		if c < 0 {
			continue
		}
		out = append(out, item.Param{
			Name: render(src, part[:c]),
			Type: render(src, part[c+1:]),
		})
	}
	return out
}

// parseVariants normalizes an enum body. Each variant's type text is its
// rendered payload without the outer delimiters.
func parseVariants(src []byte, toks []item.Token) []item.Param {
	var out []item.Param
	for _, part := range splitTop(toks, ",", true) {
		part = stripAttrs(part)
		if len(part) == 0 || !part[0].IsWord() {
			continue
		}
		v := item.Param{Name: part[0].Text}
		if len(part) > 1 && part[1].IsOpen() {
			if end, err := matchClose(part, 1); err == nil {
				v.Type = render(src, part[2:end])
			}
		}
		out = append(out, v)
	}
	return out
}

// parseBoundList splits "A + B<X> + 'a" into base names.
func parseBoundList(src []byte, toks []item.Token) []string {
	var out []string
	for _, part := range splitTop(toks, "+", true) {
		if name := baseName(render(src, part)); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// applyWhere folds "T: Bound" predicates of a where clause into generics.
// Predicates on Self are returned separately since they act as supertraits.
func applyWhere(src []byte, toks []item.Token, gens []item.Generic) ([]item.Generic, []string) {
	var selfBounds []string
	for _, pred := range splitTop(toks, ",", true) {
		c := indexTop(pred, ":", true)
		if c < 0 {
			continue
		}
		subject := render(src, pred[:c])
		bounds := render(src, pred[c+1:])
		if subject == "Self" {
			selfBounds = append(selfBounds, parseBoundList(src, pred[c+1:])...)
			continue
		}
		matched := false
		for i := range gens {
			if gens[i].Name == subject {
				if gens[i].Bounds == "" {
					gens[i].Bounds = bounds
				} else {
					gens[i].Bounds += " + " + bounds
				}
				matched = true
				break
			}
		}
		if !matched {
			gens = append(gens, item.Generic{Name: subject, Bounds: bounds})
		}
	}
	return gens, selfBounds
}

// baseName reduces a path or type expression to its last segment without
// generic arguments: "vstd::view::View<V = X>" becomes "View".
func baseName(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "<("); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "::"); i >= 0 {
		s = s[i+2:]
	}
	s = strings.TrimPrefix(s, "dyn ")
	return strings.TrimSpace(s)
}

// isDocComment reports whether a comment token is an outer doc comment.
func isDocComment(text string) bool {
	if strings.HasPrefix(text, "////") {
		return false
	}
	return strings.HasPrefix(text, "///") || (strings.HasPrefix(text, "/**") && !strings.HasPrefix(text, "/**/"))
}

// modifierFromAttribute recognizes attribute-style mode markers such as
// #[proof] or #[spec].
func modifierFromAttribute(text string) (item.Modifier, bool) {
	inner := strings.TrimSpace(text)
	if !strings.HasPrefix(inner, "#[") || !strings.HasSuffix(inner, "]") {
		return 0, false
	}
	inner = strings.TrimSpace(inner[2 : len(inner)-1])
	switch inner {
	case "spec", "proof", "exec", "verifier::spec", "verifier::proof", "verifier::exec":
		return item.ModifierByKeyword(strings.TrimPrefix(inner, "verifier::"))
	}
	return 0, false
}
