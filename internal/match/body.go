package match

import (
	"strings"

	"github.com/jward/veracity/internal/item"
	"github.com/jward/veracity/internal/pattern"
)

func matchBody(n *pattern.Node, body []item.Token) bool {
	switch n.Body {
	case pattern.BodyProofBlock:
		return hasBlock(body, "proof")
	case pattern.BodyUnsafeBlock:
		return hasBlock(body, "unsafe")
	case pattern.BodyAssert:
		for _, t := range body {
			if t.Is("assert") {
				return true
			}
		}
		return false
	case pattern.BodyCall:
		for i := range body {
			callee, ok := calleeAt(body, i)
			if !ok {
				continue
			}
			if n.Term.Match(callee) {
				return true
			}
			if j := strings.LastIndex(callee, "::"); j >= 0 && n.Term.Match(callee[j+2:]) {
				return true
			}
		}
	}
	return false
}

// hasBlock reports whether kw is immediately followed by an opening brace.
func hasBlock(body []item.Token, kw string) bool {
	for i := 0; i+1 < len(body); i++ {
		if body[i].Is(kw) && body[i+1].Is("{") {
			return true
		}
	}
	return false
}

// calleeAt reports whether the token at i is the last segment of a called
// path: a word followed by "(" or by "!(" for macros. The callee is the full
// path, rebuilt backwards over "::" separators.
func calleeAt(body []item.Token, i int) (string, bool) {
	if !body[i].IsWord() {
		return "", false
	}
	next := i + 1
	if next < len(body) && body[next].Is("!") {
		next++
	}
	if next >= len(body) || !body[next].Is("(") {
		return "", false
	}
	callee := body[i].Text
	for j := i - 1; j >= 1 && body[j].Is("::") && body[j-1].IsWord(); j -= 2 {
		callee = body[j-1].Text + "::" + callee
	}
	return callee, true
}
