package item

import "strings"

// TokenKind tags a token in an opaque token stream.
type TokenKind uint8

const (
	TokIdent TokenKind = iota + 1
	TokKeyword
	TokPunct
	TokLiteral
	TokDelim
	TokComment
)

func (k TokenKind) String() string {
	switch k {
	case TokIdent:
		return "ident"
	case TokKeyword:
		return "keyword"
	case TokPunct:
		return "punct"
	case TokLiteral:
		return "literal"
	case TokDelim:
		return "delim"
	case TokComment:
		return "comment"
	}
	return "unknown"
}

// Token is one lexical token with its source position and byte span.
type Token struct {
	Kind   TokenKind `json:"k"`
	Text   string    `json:"t"`
	Line   int       `json:"l"`
	Column int       `json:"c"`
	Start  uint32    `json:"s"`
	End    uint32    `json:"e"`
}

// Is reports whether the token has the given text and is not a literal or comment.
func (t Token) Is(text string) bool {
	return t.Text == text && t.Kind != TokLiteral && t.Kind != TokComment
}

// IsOpen reports whether t opens a delimited group.
func (t Token) IsOpen() bool {
	return t.Kind == TokDelim && (t.Text == "(" || t.Text == "[" || t.Text == "{")
}

// IsClose reports whether t closes a delimited group.
func (t Token) IsClose() bool {
	return t.Kind == TokDelim && (t.Text == ")" || t.Text == "]" || t.Text == "}")
}

// IsWord reports whether t is an identifier or keyword.
func (t Token) IsWord() bool {
	return t.Kind == TokIdent || t.Kind == TokKeyword
}

// JoinTokens renders tokens with single spaces, dropping comments.
func JoinTokens(toks []Token) string {
	var b strings.Builder
	for _, t := range toks {
		if t.Kind == TokComment {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(t.Text)
	}
	return b.String()
}
