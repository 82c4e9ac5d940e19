package extract

import (
	"errors"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/veracity/internal/item"
)

// treeWalker is the syntax-tree pass. It classifies declaration nodes by
// type outside verification blocks and hands each verification macro's
// token tree to the token-stream pass.
type treeWalker struct {
	src    []byte
	file   string
	origin item.Origin
	macros map[string]bool
	errs   []ExtractionError
}

// declarations walks the named children of parent, which is a source_file,
// a module body, or a trait/impl declaration_list.
func (w *treeWalker) declarations(parent *sitter.Node, container *item.Item) []item.Item {
	var out []item.Item
	var pre prelude
	count := int(parent.NamedChildCount())
	for i := 0; i < count; i++ {
		n := parent.NamedChild(i)
		switch n.Type() {
		case "line_comment", "block_comment":
			if text := n.Content(w.src); isDocComment(text) {
				pre.addDoc(text)
			}
			continue
		case "attribute_item":
			pre.addAttr(strings.Join(strings.Fields(n.Content(w.src)), " "))
			continue
		case "inner_attribute_item":
			continue
		case "function_item", "function_signature_item":
			it := w.function(n, &pre)
			if container != nil {
				container.Methods = append(container.Methods, item.Method{
					Name: it.Name, Params: it.Params, ReturnType: it.ReturnType,
				})
			}
			out = append(out, it)
		case "trait_item":
			out = append(out, w.trait(n, &pre)...)
		case "impl_item":
			out = append(out, w.impl(n, &pre)...)
		case "struct_item", "union_item":
			out = append(out, w.structure(n, &pre))
		case "enum_item":
			out = append(out, w.enumeration(n, &pre))
		case "type_item", "associated_type":
			it := w.alias(n, &pre)
			if container != nil {
				container.AssocTypes = append(container.AssocTypes, it.Name)
				break
			}
			out = append(out, it)
		case "use_declaration":
			out = append(out, w.use(n, &pre))
		case "mod_item":
			if body := n.ChildByFieldName("body"); body != nil {
				out = append(out, w.declarations(body, nil)...)
			}
		case "macro_invocation":
			out = append(out, w.macro(n)...)
		case "expression_statement":
			if inner := n.NamedChild(0); inner != nil && inner.Type() == "macro_invocation" {
				out = append(out, w.macro(inner)...)
			}
		}
		pre.reset()
	}
	return out
}

// base starts an item for node n with the modifiers found among its
// unnamed and modifier children.
func (w *treeWalker) base(n *sitter.Node, kind item.Kind, pre *prelude) item.Item {
	p := n.StartPoint()
	end := n.EndPoint()
	it := item.Item{
		Kind:       kind,
		Modifiers:  pre.mods,
		Attributes: pre.attributes(),
		Origin:     w.origin,
		Location: item.Location{
			File:          w.file,
			Line:          int(p.Row) + 1,
			Column:        int(p.Column),
			EndLine:       int(end.Row) + 1,
			EndColumn:     int(end.Column),
			HeaderEndLine: int(end.Row) + 1,
		},
	}
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		c := n.Child(i)
		switch c.Type() {
		case "visibility_modifier":
			it.Modifiers = it.Modifiers.With(item.ModPublic)
		case "function_modifiers":
			for _, word := range strings.Fields(c.Content(w.src)) {
				if word == "unsafe" {
					it.Modifiers = it.Modifiers.With(item.ModUnsafe)
				}
			}
		case "unsafe":
			it.Modifiers = it.Modifiers.With(item.ModUnsafe)
		}
	}
	if name := n.ChildByFieldName("name"); name != nil {
		it.Name = name.Content(w.src)
	}
	if tp := n.ChildByFieldName("type_parameters"); tp != nil {
		it.Generics = parseGenerics(w.src, inner(flatten(tp, w.src)))
	}
	return it
}

// inner drops the first and last token of a delimited group.
func inner(toks []item.Token) []item.Token {
	if len(toks) < 2 {
		return nil
	}
	return toks[1 : len(toks)-1]
}

// whereClause folds a where_clause child of n into generics.
func (w *treeWalker) whereClause(n *sitter.Node, it *item.Item) []string {
	count := int(n.NamedChildCount())
	for i := 0; i < count; i++ {
		c := n.NamedChild(i)
		if c.Type() != "where_clause" {
			continue
		}
		toks := flatten(c, w.src)
		if len(toks) > 0 && toks[0].Is("where") {
			toks = toks[1:]
		}
		var selfBounds []string
		it.Generics, selfBounds = applyWhere(w.src, toks, it.Generics)
		return selfBounds
	}
	return nil
}

// headerEnd sets HeaderEndLine to the line where the body begins.
func headerEnd(it *item.Item, body *sitter.Node) {
	if body != nil {
		it.Location.HeaderEndLine = int(body.StartPoint().Row) + 1
	}
}

func (w *treeWalker) function(n *sitter.Node, pre *prelude) item.Item {
	it := w.base(n, item.KindFunction, pre)
	if params := n.ChildByFieldName("parameters"); params != nil {
		it.Params = parseParams(w.src, inner(flatten(params, w.src)))
	}
	if ret := n.ChildByFieldName("return_type"); ret != nil {
		it.ReturnType = render(w.src, flatten(ret, w.src))
	}
	w.whereClause(n, &it)
	if body := n.ChildByFieldName("body"); body != nil {
		it.Body = inner(reclassify(flatten(body, w.src)))
		it.HasBody = true
		headerEnd(&it, body)
	}
	return it
}

func (w *treeWalker) trait(n *sitter.Node, pre *prelude) []item.Item {
	it := w.base(n, item.KindTrait, pre)
	if b := n.ChildByFieldName("bounds"); b != nil {
		toks := flatten(b, w.src)
		if len(toks) > 0 && toks[0].Is(":") {
			toks = toks[1:]
		}
		it.Bounds = parseBoundList(w.src, toks)
	}
	it.Bounds = append(it.Bounds, w.whereClause(n, &it)...)
	return w.container(n, it)
}

// container walks the body of a trait or impl. Methods become Function
// items and are also recorded on the container.
func (w *treeWalker) container(n *sitter.Node, it item.Item) []item.Item {
	body := n.ChildByFieldName("body")
	if body == nil {
		return []item.Item{it}
	}
	headerEnd(&it, body)
	it.Body = inner(reclassify(flatten(body, w.src)))
	it.HasBody = true
	members := w.declarations(body, &it)
	return append([]item.Item{it}, members...)
}

func (w *treeWalker) impl(n *sitter.Node, pre *prelude) []item.Item {
	it := w.base(n, item.KindImpl, pre)
	if tr := n.ChildByFieldName("trait"); tr != nil {
		it.TraitTarget = baseName(tr.Content(w.src))
		it.Name = it.TraitTarget
		it.Bounds = []string{it.TraitTarget}
	}
	if ty := n.ChildByFieldName("type"); ty != nil {
		it.ForType = render(w.src, flatten(ty, w.src))
	}
	w.whereClause(n, &it)
	return w.container(n, it)
}

func (w *treeWalker) structure(n *sitter.Node, pre *prelude) item.Item {
	it := w.base(n, item.KindStruct, pre)
	if body := n.ChildByFieldName("body"); body != nil {
		positional := body.Type() == "ordered_field_declaration_list"
		it.Fields = parseFields(w.src, inner(flatten(body, w.src)), positional)
		headerEnd(&it, body)
	}
	w.whereClause(n, &it)
	return it
}

func (w *treeWalker) enumeration(n *sitter.Node, pre *prelude) item.Item {
	it := w.base(n, item.KindEnum, pre)
	if body := n.ChildByFieldName("body"); body != nil {
		it.Fields = parseVariants(w.src, inner(flatten(body, w.src)))
		headerEnd(&it, body)
	}
	w.whereClause(n, &it)
	return it
}

func (w *treeWalker) alias(n *sitter.Node, pre *prelude) item.Item {
	it := w.base(n, item.KindTypeAlias, pre)
	if ty := n.ChildByFieldName("type"); ty != nil {
		it.AliasOf = render(w.src, flatten(ty, w.src))
	}
	return it
}

func (w *treeWalker) use(n *sitter.Node, pre *prelude) item.Item {
	it := w.base(n, item.KindUseImport, pre)
	if arg := n.ChildByFieldName("argument"); arg != nil {
		it.Name = render(w.src, flatten(arg, w.src))
	}
	return it
}

// macro runs the token-stream pass over a verification macro invocation.
// A failure discards the block's items and records an error; the rest of
// the file is unaffected.
func (w *treeWalker) macro(n *sitter.Node) []item.Item {
	name := n.ChildByFieldName("macro")
	if name == nil || !w.macros[baseName(name.Content(w.src))] {
		return nil
	}
	var tree *sitter.Node
	count := int(n.NamedChildCount())
	for i := 0; i < count; i++ {
		if c := n.NamedChild(i); c.Type() == "token_tree" {
			tree = c
			break
		}
	}
	if tree == nil {
		return nil
	}
	items, err := scanBlock(w.src, inner(flatten(tree, w.src)), w.file, w.origin)
	if err != nil {
		xe := ExtractionError{File: w.file, Line: int(n.StartPoint().Row) + 1, Reason: err.Error(), Err: err}
		var be *blockError
		if errors.As(err, &be) {
			xe.Line, xe.Err = be.line, be.err
		}
		w.errs = append(w.errs, xe)
		return nil
	}
	return items
}
