package pattern

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Mode selects how a Term compares against text. All modes are
// case-insensitive.
type Mode uint8

const (
	// ModeAny matches everything, including the empty string.
	ModeAny Mode = iota
	// ModeWord matches a run of text bounded on both sides by the string
	// edges or a non-alphanumeric rune. "set" matches "lemma_set_len" but
	// not "multiset".
	ModeWord
	// ModeSubstring matches anywhere.
	ModeSubstring
	// ModeExact matches the whole string.
	ModeExact
	// ModeWildcard matches Parts in order, anchored per AnchorStart/AnchorEnd.
	ModeWildcard
	// ModeAnd requires every Alt to match.
	ModeAnd
	// ModeOr requires some Alt to match.
	ModeOr
)

var modeNames = [...]string{"any", "word", "substring", "exact", "wildcard", "and", "or"}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return "unknown"
}

// Term is a compiled name-match or text-match.
type Term struct {
	Mode        Mode
	Source      string
	Text        string   // lowercased; ModeWord, ModeSubstring, ModeExact
	Parts       []string // lowercased; ModeWildcard
	AnchorStart bool
	AnchorEnd   bool
	Alts        []*Term // ModeAnd, ModeOr
}

// IsAny reports whether the term matches every input.
func (t *Term) IsAny() bool { return t == nil || t.Mode == ModeAny }

// Match reports whether s satisfies the term.
func (t *Term) Match(s string) bool {
	if t.IsAny() {
		return true
	}
	return t.match(strings.ToLower(s))
}

func (t *Term) match(lower string) bool {
	switch t.Mode {
	case ModeAny:
		return true
	case ModeWord:
		return wordMatch(t.Text, lower)
	case ModeSubstring:
		return strings.Contains(lower, t.Text)
	case ModeExact:
		return lower == t.Text
	case ModeWildcard:
		return wildcardMatch(t.Parts, t.AnchorStart, t.AnchorEnd, lower)
	case ModeAnd:
		for _, a := range t.Alts {
			if !a.match(lower) {
				return false
			}
		}
		return true
	case ModeOr:
		for _, a := range t.Alts {
			if a.match(lower) {
				return true
			}
		}
		return false
	}
	return false
}

func (t *Term) String() string {
	if t == nil {
		return "_"
	}
	return t.Source
}

// wordMatch reports whether word occurs in text with a boundary on each side.
func wordMatch(word, text string) bool {
	if word == "" {
		return true
	}
	for from := 0; from <= len(text)-len(word); {
		i := strings.Index(text[from:], word)
		if i < 0 {
			return false
		}
		i += from
		end := i + len(word)
		if boundaryBefore(text, i) && boundaryAfter(text, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		from = i + size
	}
	return false
}

func isWordRune(r rune) bool {
	return r != '_' && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

// wildcardMatch checks that parts occur in order. The first part must be a
// prefix when anchorStart is set and the last a suffix when anchorEnd is set.
func wildcardMatch(parts []string, anchorStart, anchorEnd bool, text string) bool {
	pos := 0
	last := len(parts) - 1
	for i, p := range parts {
		switch {
		case i == 0 && anchorStart:
			if !strings.HasPrefix(text, p) {
				return false
			}
			pos = len(p)
			if i == last && anchorEnd {
				return pos == len(text)
			}
		case i == last && anchorEnd:
			return strings.HasSuffix(text[pos:], p)
		default:
			j := strings.Index(text[pos:], p)
			if j < 0 {
				return false
			}
			pos += j + len(p)
		}
	}
	return true
}

// termKind picks the default mode for plain text.
type termKind uint8

const (
	nameTerm termKind = iota // word-boundary by default
	textTerm                 // substring by default
)

// NameTerm compiles a single match word with name-position defaults.
func NameTerm(src string) (*Term, error) {
	return compileTerm(src, 0, nameTerm, false)
}

// compileTerm compiles one match word. Groups use "(a|b&c)" or the escaped
// "\(a\|b\&c\)" form; & binds tighter than |. A trailing "!" forces a
// word-boundary match. ".*" splits an anchored wildcard. In strict mode a
// plain name must equal the whole input.
func compileTerm(src string, pos int, kind termKind, strict bool) (*Term, error) {
	src = strings.TrimSpace(src)
	switch {
	case src == "":
		return nil, &CompileError{Pos: pos, Msg: "empty match", Err: ErrEmptyAlternation}
	case src == "_" || src == ".*":
		return &Term{Mode: ModeAny, Source: src}, nil
	case isGroup(src):
		inner, err := groupInner(src, pos)
		if err != nil {
			return nil, err
		}
		t, err := compileAlternation(inner, pos+1, kind, strict)
		if err != nil {
			return nil, err
		}
		t.Source = src
		return t, nil
	case len(src) > 1 && strings.HasSuffix(src, "!"):
		return &Term{Mode: ModeWord, Source: src, Text: strings.ToLower(strings.TrimSuffix(src, "!"))}, nil
	case strings.Contains(src, ".*"):
		lower := strings.ToLower(src)
		var parts []string
		for _, p := range strings.Split(lower, ".*") {
			if p != "" {
				parts = append(parts, p)
			}
		}
		return &Term{
			Mode:        ModeWildcard,
			Source:      src,
			Parts:       parts,
			AnchorStart: !strings.HasPrefix(lower, ".*"),
			AnchorEnd:   !strings.HasSuffix(lower, ".*"),
		}, nil
	}
	t := &Term{Source: src, Text: strings.ToLower(src)}
	switch {
	case kind == nameTerm && strict:
		t.Mode = ModeExact
	case kind == nameTerm:
		t.Mode = ModeWord
	default:
		t.Mode = ModeSubstring
	}
	return t, nil
}

func isGroup(s string) bool {
	return strings.HasPrefix(s, "(") || strings.HasPrefix(s, `\(`)
}

// unescapeGroup rewrites the escaped group operators to their plain forms.
var unescapeGroup = strings.NewReplacer(`\(`, "(", `\)`, ")", `\|`, "|", `\&`, "&")

// groupInner returns the text between the outer parentheses of a group with
// escapes removed. The closing parenthesis must end src.
func groupInner(src string, pos int) (string, error) {
	s := unescapeGroup.Replace(src)
	end := closeParen(s, 0)
	if end < 0 {
		return "", &CompileError{Pos: pos, Msg: "unclosed group", Err: ErrUnbalanced}
	}
	if end != len(s)-1 {
		return "", &CompileError{Pos: pos, Msg: "text after group", Err: ErrUnexpected}
	}
	return s[1:end], nil
}

// closeParen returns the index of the ')' matching the '(' at i, or -1.
func closeParen(s string, i int) int {
	depth := 0
	for j := i; j < len(s); j++ {
		switch s[j] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return -1
}

// compileAlternation parses "a|b&c" at group depth zero.
func compileAlternation(s string, pos int, kind termKind, strict bool) (*Term, error) {
	var alts []*Term
	for _, part := range splitOperator(s, '|') {
		conj, err := compileConjunction(part.text, pos+part.off, kind, strict)
		if err != nil {
			return nil, err
		}
		alts = append(alts, conj)
	}
	if len(alts) == 1 {
		return alts[0], nil
	}
	return &Term{Mode: ModeOr, Alts: alts}, nil
}

func compileConjunction(s string, pos int, kind termKind, strict bool) (*Term, error) {
	var alts []*Term
	for _, part := range splitOperator(s, '&') {
		if strings.TrimSpace(part.text) == "" {
			return nil, &CompileError{Pos: pos + part.off, Msg: "empty alternative in group", Err: ErrEmptyAlternation}
		}
		t, err := compileTerm(part.text, pos+part.off, kind, strict)
		if err != nil {
			return nil, err
		}
		alts = append(alts, t)
	}
	if len(alts) == 1 {
		return alts[0], nil
	}
	return &Term{Mode: ModeAnd, Alts: alts}, nil
}

type span struct {
	text string
	off  int
}

// splitOperator splits s at op outside nested parentheses. A doubled
// operator ("||", "&&") is literal text, not a split point.
func splitOperator(s string, op byte) []span {
	var out []span
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == op && depth == 0:
			if i+1 < len(s) && s[i+1] == op {
				i++
				continue
			}
			out = append(out, span{text: s[start:i], off: start})
			start = i + 1
		}
	}
	return append(out, span{text: s[start:], off: start})
}

// hasOperator reports whether s has a single | or & outside nested groups.
func hasOperator(s string) bool {
	return len(splitOperator(s, '|')) > 1 || len(splitOperator(s, '&')) > 1
}
