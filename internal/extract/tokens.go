package extract

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/veracity/internal/item"
)

// keywords are the reserved words of the language and its verification
// dialect. Inside an opaque token tree they arrive as plain identifiers, so
// classification happens by text.
var keywords = map[string]bool{
	"as": true, "async": true, "await": true, "break": true, "const": true,
	"continue": true, "crate": true, "dyn": true, "else": true, "enum": true,
	"extern": true, "false": true, "fn": true, "for": true, "if": true,
	"impl": true, "in": true, "let": true, "loop": true, "match": true,
	"mod": true, "move": true, "mut": true, "pub": true, "ref": true,
	"return": true, "self": true, "Self": true, "static": true, "struct": true,
	"super": true, "trait": true, "true": true, "type": true, "unsafe": true,
	"use": true, "where": true, "while": true, "union": true, "default": true,

	"spec": true, "proof": true, "exec": true, "open": true, "closed": true,
	"broadcast": true, "axiom": true, "requires": true, "ensures": true,
	"recommends": true, "decreases": true, "invariant": true, "assert": true,
	"assume": true, "forall": true, "exists": true, "choose": true,
	"tracked": true, "ghost": true, "group": true, "uninterp": true,
	"opens_invariants": true, "returns": true, "no_unwind": true,
}

// atomicNodes are node types flattened to a single token even though the
// grammar gives them children.
var atomicNodes = map[string]item.TokenKind{
	"string_literal":     item.TokLiteral,
	"raw_string_literal": item.TokLiteral,
	"char_literal":       item.TokLiteral,
	"line_comment":       item.TokComment,
	"block_comment":      item.TokComment,
	"lifetime":           item.TokIdent,
}

// flatten turns a syntax subtree into the ordered token sequence beneath it.
func flatten(n *sitter.Node, src []byte) []item.Token {
	var out []item.Token
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil || n.IsNull() {
			return
		}
		if kind, ok := atomicNodes[n.Type()]; ok {
			out = append(out, newToken(n, src, kind))
			return
		}
		count := int(n.ChildCount())
		if count == 0 {
			out = appendLeaf(out, n, src)
			return
		}
		for i := 0; i < count; i++ {
			walk(n.Child(i))
		}
	}
	walk(n)
	return out
}

func newToken(n *sitter.Node, src []byte, kind item.TokenKind) item.Token {
	p := n.StartPoint()
	return item.Token{
		Kind:   kind,
		Text:   n.Content(src),
		Line:   int(p.Row) + 1,
		Column: int(p.Column),
		Start:  n.StartByte(),
		End:    n.EndByte(),
	}
}

func appendLeaf(out []item.Token, n *sitter.Node, src []byte) []item.Token {
	if n.StartByte() == n.EndByte() {
		// Zero-width nodes are inserted by error recovery.
		return out
	}
	tok := newToken(n, src, classify(n))
	if op, ok := extEqAt(src, tok.Start); ok && tok.Kind == item.TokPunct {
		// The parser saw a masked "=="; restore the full operator.
		tok.Text = string(op)
		tok.End = tok.Start + uint32(len(op))
		return append(out, tok)
	}
	if tok.Kind == item.TokPunct && (tok.Text == ">>" || tok.Text == "<<") {
		// Split so generic angle depth can be tracked one bracket at a time.
		first, second := tok, tok
		first.Text, second.Text = tok.Text[:1], tok.Text[1:]
		first.End = tok.Start + 1
		second.Start = tok.Start + 1
		second.Column = tok.Column + 1
		return append(out, first, second)
	}
	return append(out, tok)
}

func classify(n *sitter.Node) item.TokenKind {
	typ := n.Type()
	switch typ {
	case "(", ")", "[", "]", "{", "}":
		return item.TokDelim
	case "integer_literal", "float_literal", "boolean_literal", "string_content", "escape_sequence":
		return item.TokLiteral
	}
	if keywords[typ] {
		return item.TokKeyword
	}
	if n.IsNamed() {
		return item.TokIdent
	}
	for _, r := range typ {
		if r == '_' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') {
			return item.TokKeyword
		}
		break
	}
	return item.TokPunct
}

// reclassify upgrades identifiers whose text is a keyword. Token trees give
// no keyword distinction for dialect words like "proof" or "requires".
func reclassify(toks []item.Token) []item.Token {
	for i := range toks {
		if toks[i].Kind == item.TokIdent && keywords[toks[i].Text] {
			toks[i].Kind = item.TokKeyword
		}
	}
	return toks
}
