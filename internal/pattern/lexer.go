package pattern

import (
	"strings"
	"unicode"
)

type tokenKind uint8

const (
	tokEOF   tokenKind = iota
	tokWord            // plain word, lowercased comparison for keywords
	tokPunct           // { } ; , ( ) -> :
	tokGroup           // (a|b) or \(a\|b\)
	tokAttr            // #[...], Text is the inner text
)

type token struct {
	kind  tokenKind
	text  string
	pos   int
	space bool // preceded by whitespace or start of input
}

func (t token) is(text string) bool {
	return (t.kind == tokWord || t.kind == tokPunct) && strings.EqualFold(t.text, text)
}

// lex splits a query into tokens. Whitespace separates words; the characters
// { } ; , and the arrow -> stand alone. "#[" opens an attribute that runs to
// its matching "]". A parenthesized run containing a top-level | or & is a
// single group token; any other parenthesis is punctuation.
func lex(query string) ([]token, error) {
	var out []token
	i := 0
	space := true
	emit := func(kind tokenKind, text string, pos int) {
		out = append(out, token{kind: kind, text: text, pos: pos, space: space})
		space = false
	}
	for i < len(query) {
		c := query[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			space = true
			i++
		case strings.HasPrefix(query[i:], "#["):
			end := closeBracket(query, i+1)
			if end < 0 {
				return nil, &CompileError{Query: query, Pos: i, Msg: "unclosed attribute", Err: ErrUnbalanced}
			}
			emit(tokAttr, strings.Join(strings.Fields(query[i+2:end]), " "), i)
			i = end + 1
		case c == '{' || c == '}' || c == ';' || c == ',' || c == ')':
			emit(tokPunct, string(c), i)
			i++
		case strings.HasPrefix(query[i:], "->"):
			emit(tokPunct, "->", i)
			i += 2
		case c == ':' && !strings.HasPrefix(query[i:], "::"):
			emit(tokPunct, ":", i)
			i++
		case c == '(' || strings.HasPrefix(query[i:], `\(`):
			n, isGroupTok, err := groupToken(query, i)
			if err != nil {
				return nil, err
			}
			if isGroupTok {
				emit(tokGroup, query[i:i+n], i)
				i += n
				continue
			}
			emit(tokPunct, "(", i)
			i += n
		default:
			start := i
			i = wordEnd(query, i)
			word := query[start:i]
			// A trailing ':' belongs to the next token ("_: Clone").
			if len(word) > 1 && strings.HasSuffix(word, ":") && !strings.HasSuffix(word, "::") {
				emit(tokWord, word[:len(word)-1], start)
				emit(tokPunct, ":", i-1)
				continue
			}
			emit(tokWord, word, start)
		}
	}
	out = append(out, token{kind: tokEOF, pos: len(query), space: true})
	return out, nil
}

// wordEnd returns the end of the word starting at i. A word stops at
// whitespace or standalone punctuation. A parenthesized suffix with no
// whitespace inside stays part of the word, so "s.finite()" is one word.
func wordEnd(query string, i int) int {
	for i < len(query) {
		c := query[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			return i
		case c == '{' || c == '}' || c == ';' || c == ',' || c == ')':
			return i
		case c == '(':
			end := closeParen(query, i)
			if end < 0 || strings.IndexFunc(query[i:end], unicode.IsSpace) >= 0 {
				return i
			}
			i = end + 1
		default:
			i++
		}
	}
	return i
}

// groupToken examines the parenthesis at i. For a group it returns the length
// of the whole group. Otherwise it returns the length of the opening
// parenthesis alone.
func groupToken(query string, i int) (int, bool, error) {
	escaped := strings.HasPrefix(query[i:], `\(`)
	rest := query[i:]
	if escaped {
		rest = unescapeGroup.Replace(rest)
	}
	end := closeParen(rest, 0)
	if end < 0 {
		if escaped || hasOperator(rest[1:]) {
			return 0, false, &CompileError{Query: query, Pos: i, Msg: "unclosed group", Err: ErrUnbalanced}
		}
		// A lone "(" with no partner is reported by the parser.
		return 1, false, nil
	}
	if !hasOperator(rest[1:end]) && !escaped {
		return 1, false, nil
	}
	if !escaped {
		return end + 1, true, nil
	}
	// Map the end back onto the escaped source.
	depth := 0
	for j := i; j < len(query); j++ {
		switch {
		case strings.HasPrefix(query[j:], `\(`):
			depth++
			j++
		case strings.HasPrefix(query[j:], `\)`):
			depth--
			j++
			if depth == 0 {
				return j + 1 - i, true, nil
			}
		case query[j] == '(':
			depth++
		case query[j] == ')':
			depth--
			if depth == 0 {
				return j + 1 - i, true, nil
			}
		}
	}
	return 0, false, &CompileError{Query: query, Pos: i, Msg: "unclosed group", Err: ErrUnbalanced}
}

// closeBracket returns the index of the ']' matching the '[' at i, or -1.
func closeBracket(s string, i int) int {
	depth := 0
	for j := i; j < len(s); j++ {
		switch s[j] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return -1
}
