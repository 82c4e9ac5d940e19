// Package extract turns Rust/Verus source files into normalized item
// records. Ordinary declarations come from the tree-sitter syntax tree;
// declarations inside verification macros come from a depth-tracking scan
// of the macro's opaque token stream. Both produce the same item.Item shape.
package extract

import (
	"bytes"
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/veracity/internal/item"
)

// DefaultMacros are the macro names whose bodies use the verification dialect.
var DefaultMacros = []string{"verus"}

// FileResult is the outcome of extracting one file.
type FileResult struct {
	Path   string            `json:"path"`
	Items  []item.Item       `json:"items"`
	Errors []ExtractionError `json:"errors,omitempty"`
}

// Extractor is safe for concurrent use; each call builds its own parser.
type Extractor struct {
	macros map[string]bool
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMacros replaces the set of verification macro names.
func WithMacros(names ...string) Option {
	return func(x *Extractor) {
		x.macros = make(map[string]bool, len(names))
		for _, n := range names {
			x.macros[n] = true
		}
	}
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	x := &Extractor{}
	WithMacros(DefaultMacros...)(x)
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Extract parses src and returns the items it declares. A non-nil error is
// always an *ExtractionError and means the whole file was skipped. Errors
// confined to one verification block are reported in FileResult.Errors.
func (x *Extractor) Extract(ctx context.Context, path string, src []byte, origin item.Origin) (*FileResult, error) {
	lang, ok := GrammarForLanguage("rust")
	if !ok {
		return nil, &ExtractionError{File: path, Reason: "no grammar for rust", Err: ErrSyntax}
	}
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, maskExtEq(src))
	if err != nil {
		return nil, &ExtractionError{File: path, Reason: fmt.Sprintf("parse: %v", err), Err: ErrSyntax}
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		line, what := firstError(root)
		reason := "syntax error"
		sentinel := ErrSyntax
		if what != "" {
			reason = "missing " + what
			sentinel = ErrUnbalanced
		}
		return nil, &ExtractionError{File: path, Line: line, Reason: reason, Err: sentinel}
	}

	w := &treeWalker{src: src, file: path, origin: origin, macros: x.macros}
	items := w.declarations(root, nil)
	item.SortStable(items)
	return &FileResult{Path: path, Items: items, Errors: w.errs}, nil
}

// extEqOps are the extensional equality operators of the verification
// dialect, longest first. The Rust grammar has no '~' token, so they are
// parsed as "==" padded with spaces to the same length.
var extEqOps = [][]byte{[]byte("=~~="), []byte("=~=")}

// maskExtEq returns src with every extensional equality operator replaced by
// a same-length "==" so byte offsets, lines and columns are unchanged. Tokens
// keep their original text because they are read from the unmasked source.
func maskExtEq(src []byte) []byte {
	if !bytes.Contains(src, []byte("=~")) {
		return src
	}
	out := bytes.Clone(src)
	for i := 0; i < len(out); i++ {
		for _, op := range extEqOps {
			if bytes.HasPrefix(out[i:], op) {
				copy(out[i:], "==")
				for k := 2; k < len(op); k++ {
					out[i+k] = ' '
				}
				i += len(op) - 1
				break
			}
		}
	}
	return out
}

// extEqAt returns the extensional equality operator starting at off in src.
func extEqAt(src []byte, off uint32) ([]byte, bool) {
	if int(off) >= len(src) {
		return nil, false
	}
	for _, op := range extEqOps {
		if bytes.HasPrefix(src[off:], op) {
			return op, true
		}
	}
	return nil, false
}

// firstError finds the first ERROR or MISSING node in document order. For a
// MISSING node it also returns the expected token, which is how a truncated
// verification block shows up.
func firstError(n *sitter.Node) (int, string) {
	if n.IsMissing() {
		return int(n.StartPoint().Row) + 1, n.Type()
	}
	if n.Type() == "ERROR" {
		return int(n.StartPoint().Row) + 1, ""
	}
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		c := n.Child(i)
		if c.HasError() || c.IsMissing() {
			return firstError(c)
		}
	}
	return int(n.StartPoint().Row) + 1, ""
}
