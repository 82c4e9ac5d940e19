package match

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/veracity/internal/bounds"
	"github.com/jward/veracity/internal/item"
	"github.com/jward/veracity/internal/pattern"
)

// toks builds a body token stream from space-separated text.
func toks(texts ...string) []item.Token {
	out := make([]item.Token, len(texts))
	for i, s := range texts {
		kind := item.TokIdent
		switch s {
		case "(", ")", "[", "]", "{", "}":
			kind = item.TokDelim
		case "::", "!", ";", ",", ".", "=", ">=":
			kind = item.TokPunct
		case "proof", "assert", "unsafe", "let":
			kind = item.TokKeyword
		}
		out[i] = item.Token{Kind: kind, Text: s, Line: 1, Column: i}
	}
	return out
}

func fn(name string, mods ...item.Modifier) item.Item {
	var set item.Modifiers
	for _, m := range mods {
		set = set.With(m)
	}
	return item.Item{Kind: item.KindFunction, Name: name, Modifiers: set, Location: item.Location{File: "a.rs", Line: 1}}
}

func trait(name string, bnds ...string) item.Item {
	return item.Item{Kind: item.KindTrait, Name: name, Bounds: bnds, Location: item.Location{File: "t.rs", Line: 1}}
}

func compile(t *testing.T, query string) *pattern.Node {
	t.Helper()
	node, err := pattern.Compile(query)
	require.NoError(t, err)
	return node
}

func evalQuery(t *testing.T, query string, items []item.Item) []Result {
	t.Helper()
	m := New(compile(t, query), Graphs{Bounds: bounds.Build(items), Aliases: bounds.BuildAliases(items)})
	res, err := m.Run(context.Background(), items, 1)
	require.NoError(t, err)
	return res
}

func names(results []Result) []string {
	var out []string
	for _, r := range results {
		out = append(out, r.Item.Name)
	}
	return out
}

// ===== Scenarios =====

func TestMatch_ProofFunctionNames(t *testing.T) {
	t.Parallel()
	lemma := fn("lemma_set_len", item.ModPublic, item.ModProof)
	lemma.Generics = []item.Generic{{Name: "A"}}
	lemma.Params = []item.Param{{Name: "s", Type: "Set<A>"}}
	lemma.AddClause(item.Requires, "s.finite()")
	lemma.AddClause(item.Ensures, "s.len() >= 0")
	items := []item.Item{lemma}

	assert.Len(t, evalQuery(t, "proof fn .*len.*", items), 1)
	assert.Len(t, evalQuery(t, "fn lemma_.*", items), 1)
	assert.Empty(t, evalQuery(t, "fn multiset", items))
	assert.Len(t, evalQuery(t, "fn set", items), 1)
	assert.Empty(t, evalQuery(t, "spec fn _", items))
	assert.Len(t, evalQuery(t, "pub fn _ requires finite", items), 1)
	assert.Len(t, evalQuery(t, "fn _ (: Set)", items), 1)
	assert.Len(t, evalQuery(t, "fn _ <_>", items), 1)
}

func TestMatch_TransitiveBounds(t *testing.T) {
	t.Parallel()
	items := []item.Item{
		trait("StT", "Eq", "Clone"),
		trait("HashOrd", "StT", "Hash"),
		trait("Plain"),
	}
	res := evalQuery(t, "trait _ : Clone", items)
	require.Len(t, res, 2)

	directs, transitives := Partition(res)
	require.Len(t, directs, 1)
	assert.Equal(t, "StT", directs[0].Item.Name)
	assert.Equal(t, Direct, directs[0].Relation)
	require.Len(t, transitives, 1)
	assert.Equal(t, "HashOrd", transitives[0].Item.Name)
	assert.Equal(t, "StT", transitives[0].Via)
}

func TestMatch_BoundChain(t *testing.T) {
	t.Parallel()
	items := []item.Item{trait("A", "B"), trait("B", "C"), trait("C")}
	res := evalQuery(t, "trait _ : C", items)
	require.Len(t, res, 2)
	assert.Equal(t, "A", res[0].Item.Name)
	assert.Equal(t, Transitive, res[0].Relation)
	assert.Equal(t, "B", res[0].Via)
	assert.Equal(t, "B", res[1].Item.Name)
	assert.Equal(t, Direct, res[1].Relation)
}

func TestMatch_BoundCycleTerminates(t *testing.T) {
	t.Parallel()
	items := []item.Item{trait("A", "B"), trait("B", "A")}

	res := evalQuery(t, "trait _ : A", items)
	require.Len(t, res, 1)
	assert.Equal(t, "B", res[0].Item.Name)
	assert.Equal(t, Direct, res[0].Relation)

	assert.Empty(t, evalQuery(t, "trait _ : Missing", items))
}

func TestMatch_ImplBoundViaTrait(t *testing.T) {
	t.Parallel()
	impl := item.Item{
		Kind: item.KindImpl, Name: "HashOrd", TraitTarget: "HashOrd", ForType: "u64",
		Bounds: []string{"HashOrd"}, Location: item.Location{File: "i.rs", Line: 9},
	}
	items := []item.Item{trait("StT", "Clone"), trait("HashOrd", "StT"), impl}

	res := evalQuery(t, "impl _ : Clone", items)
	require.Len(t, res, 1)
	assert.Equal(t, Transitive, res[0].Relation)
	assert.Equal(t, "HashOrd", res[0].Via)

	assert.Len(t, evalQuery(t, "impl _ for u64", items), 1)
	assert.Empty(t, evalQuery(t, "impl _ for Vec", items))
}

func TestMatch_FieldsReuse(t *testing.T) {
	t.Parallel()
	pair := item.Item{
		Kind: item.KindStruct, Name: "Pair",
		Fields:   []item.Param{{Name: "a", Type: "int"}, {Name: "b", Type: "Seq<int>"}},
		Location: item.Location{File: "p.rs", Line: 1},
	}
	single := item.Item{
		Kind: item.KindStruct, Name: "Single",
		Fields:   []item.Param{{Name: "x", Type: "int"}},
		Location: item.Location{File: "p.rs", Line: 5},
	}
	items := []item.Item{pair, single}

	assert.Equal(t, []string{"Pair"}, names(evalQuery(t, "struct _ { : int, : Seq }", items)))
	assert.Empty(t, evalQuery(t, "struct _ { : Map }", items))
	assert.Equal(t, []string{"Pair", "Single"}, names(evalQuery(t, "struct _ { : int, : int }", items)))
}

func TestMatch_BodyCalls(t *testing.T) {
	t.Parallel()
	f := fn("uses_admit")
	f.HasBody = true
	f.Body = toks("admit", "(", ")", ";")
	g := fn("uses_path")
	g.HasBody = true
	g.Body = toks("let", "t", "=", "Tracked", "::", "assume_new", "(", ")", ";", "assert", "(", "t", ")", ";")
	h := fn("uses_proof")
	h.HasBody = true
	h.Body = toks("proof", "{", "lemma_x", "(", ")", ";", "}")
	items := []item.Item{f, g, h}

	assert.Equal(t, []string{"uses_admit"}, names(evalQuery(t, "fn _ body admit", items)))
	assert.Equal(t, []string{"uses_proof"}, names(evalQuery(t, "fn _ body lemma", items)))
	assert.Equal(t, []string{"uses_path"}, names(evalQuery(t, "fn _ body Tracked::assume_new", items)))
	assert.Equal(t, []string{"uses_path"}, names(evalQuery(t, "fn _ body assume_new", items)))
	assert.Equal(t, []string{"uses_admit", "uses_proof"}, names(evalQuery(t, `fn _ body \(admit\|lemma\)`, items)))
	assert.Equal(t, []string{"uses_proof"}, names(evalQuery(t, "fn _ proof {}", items)))
	assert.Equal(t, []string{"uses_path"}, names(evalQuery(t, "fn _ assert", items)))
	assert.Empty(t, evalQuery(t, "fn _ unsafe {}", items))
}

func TestMatch_MacroCall(t *testing.T) {
	t.Parallel()
	f := fn("logs")
	f.Body = toks("println", "!", "(", "x", ")", ";")
	assert.Len(t, evalQuery(t, "fn _ body println", []item.Item{f}), 1)
}

// ===== Properties =====

func TestMatch_ClauseRoundTrip(t *testing.T) {
	t.Parallel()
	f := fn("bounded")
	f.AddClause(item.Requires, "x > 0 && y < 10")
	items := []item.Item{f}

	for _, q := range []string{"fn _ requires .*<.*", "fn _ requires .*>.*", "fn _ requires .*&&.*", "fn _ requires"} {
		assert.Len(t, evalQuery(t, q, items), 1, q)
	}
	assert.Empty(t, evalQuery(t, "fn _ ensures", items))
	assert.Empty(t, evalQuery(t, "fn _ requires .*>=.*", items))
}

func TestMatch_UnionAndIntersection(t *testing.T) {
	t.Parallel()
	items := []item.Item{fn("lemma_set_len"), fn("lemma_seq_len"), fn("set_insert"), fn("map_get")}

	a := names(evalQuery(t, "fn set", items))
	b := names(evalQuery(t, "fn len", items))
	union := names(evalQuery(t, "fn (set|len)", items))
	inter := names(evalQuery(t, "fn (set&len)", items))

	assert.ElementsMatch(t, []string{"lemma_set_len", "lemma_seq_len", "set_insert"}, union)
	assert.Equal(t, []string{"lemma_set_len"}, inter)
	for _, n := range union {
		assert.True(t, contains(a, n) || contains(b, n))
	}
	for _, n := range inter {
		assert.True(t, contains(a, n) && contains(b, n))
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestMatch_ModifiersUnconstrainedWhenUnmentioned(t *testing.T) {
	t.Parallel()
	items := []item.Item{
		fn("a", item.ModPublic, item.ModOpen, item.ModSpec),
		fn("b", item.ModSpec),
		fn("c", item.ModProof),
	}
	assert.Equal(t, []string{"a", "b"}, names(evalQuery(t, "spec fn _", items)))
	assert.Equal(t, []string{"a"}, names(evalQuery(t, "pub open spec fn _", items)))
	assert.Equal(t, []string{"a", "b", "c"}, names(evalQuery(t, "fn _", items)))
}

func TestMatch_ReturnType(t *testing.T) {
	t.Parallel()
	a := fn("returns_bool")
	a.ReturnType = "bool"
	b := fn("returns_nothing")
	items := []item.Item{a, b}

	assert.Equal(t, []string{"returns_bool"}, names(evalQuery(t, "fn _ -> bool", items)))
	assert.Equal(t, []string{"returns_bool", "returns_nothing"}, names(evalQuery(t, "fn _ -> _", items)))
}

func TestMatch_Aliases(t *testing.T) {
	t.Parallel()
	items := []item.Item{
		{Kind: item.KindTypeAlias, Name: "Inner", AliasOf: "Seq<int>", Location: item.Location{File: "t.rs", Line: 1}},
		{Kind: item.KindTypeAlias, Name: "Outer", AliasOf: "Inner", Location: item.Location{File: "t.rs", Line: 2}},
	}
	res := evalQuery(t, "type _ = Seq", items)
	require.Len(t, res, 2)
	assert.Equal(t, Direct, res[0].Relation)
	assert.Equal(t, Transitive, res[1].Relation)
	assert.Equal(t, "Inner", res[1].Via)
}

func TestMatch_TraitBodyClauses(t *testing.T) {
	t.Parallel()
	tr := trait("View")
	tr.AssocTypes = []string{"V"}
	tr.Methods = []item.Method{{Name: "view", Params: []item.Param{{Name: "self", Type: "&Self"}}, ReturnType: "Self::V"}}
	items := []item.Item{tr}

	assert.Len(t, evalQuery(t, "trait _ { type V }", items), 1)
	assert.Len(t, evalQuery(t, "trait _ { fn view }", items), 1)
	assert.Len(t, evalQuery(t, "trait _ { fn view -> V }", items), 1)
	assert.Empty(t, evalQuery(t, "trait _ { fn view -> bool }", items))
	assert.Empty(t, evalQuery(t, "trait _ { type W }", items))
}

func TestMatch_AnonymousItems(t *testing.T) {
	t.Parallel()
	imp := item.Item{Kind: item.KindImpl, ForType: "Pair<T>", Location: item.Location{File: "i.rs", Line: 1}}
	items := []item.Item{imp}
	assert.Len(t, evalQuery(t, "impl _", items), 1)
	assert.Empty(t, evalQuery(t, "impl View", items))
}

func TestMatch_Attributes(t *testing.T) {
	t.Parallel()
	f := fn("trusted")
	f.Attributes = []string{"#[verifier::external_body]"}
	items := []item.Item{f, fn("checked")}
	assert.Equal(t, []string{"trusted"}, names(evalQuery(t, "#[verifier::external_body] fn _", items)))
}

func TestMatch_TypeMention(t *testing.T) {
	t.Parallel()
	a := fn("takes_map")
	a.Params = []item.Param{{Name: "m", Type: "Map<K, V>"}}
	b := fn("takes_seq")
	b.Params = []item.Param{{Name: "s", Type: "Seq<int>"}}
	items := []item.Item{a, b}
	assert.Equal(t, []string{"takes_map"}, names(evalQuery(t, "fn _ Map^+", items)))
	assert.Equal(t, []string{"takes_seq"}, names(evalQuery(t, "fn _ types Seq", items)))
}

// ===== Run =====

func TestRun_ParallelEqualsSerial(t *testing.T) {
	t.Parallel()
	var items []item.Item
	for i := 0; i < 3000; i++ {
		it := fn(fmt.Sprintf("lemma_%d_len", i))
		if i%3 == 0 {
			it.Name = fmt.Sprintf("helper_%d", i)
		}
		it.Location.Line = i + 1
		items = append(items, it)
	}
	m := New(compile(t, "fn lemma_.*"), Graphs{})

	serial, err := m.Run(context.Background(), items, 1)
	require.NoError(t, err)
	parallel, err := m.Run(context.Background(), items, 8)
	require.NoError(t, err)

	assert.Len(t, serial, 2000)
	assert.Equal(t, serial, parallel)
}

func TestRun_Cancelled(t *testing.T) {
	t.Parallel()
	items := make([]item.Item, 1000)
	for i := range items {
		items[i] = fn("f")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(compile(t, "_"), Graphs{}).Run(ctx, items, 4)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRelation_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "direct", Direct.String())
	assert.Equal(t, "transitive", Transitive.String())
}
