package pattern

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/veracity/internal/item"
)

// =============================================================================
// Terms
// =============================================================================

func mustTerm(t *testing.T, src string, kind termKind) *Term {
	t.Helper()
	term, err := compileTerm(src, 0, kind, false)
	require.NoError(t, err)
	return term
}

func TestTerm_WordBoundary(t *testing.T) {
	t.Parallel()
	set := mustTerm(t, "set", nameTerm)
	assert.Equal(t, ModeWord, set.Mode)
	assert.True(t, set.Match("lemma_set_len"))
	assert.True(t, set.Match("set"))
	assert.True(t, set.Match("Set_Axioms"))
	assert.False(t, set.Match("multiset"))
	assert.False(t, set.Match("subset_of"))
	assert.False(t, set.Match("settle"))

	run := mustTerm(t, "set_len", nameTerm)
	assert.True(t, run.Match("lemma_set_len"))
	assert.False(t, run.Match("lemma_set_length"))
}

func TestTerm_SubstringDefaultForText(t *testing.T) {
	t.Parallel()
	seq := mustTerm(t, "Seq", textTerm)
	assert.Equal(t, ModeSubstring, seq.Mode)
	assert.True(t, seq.Match("Seq<int>"))
	assert.True(t, seq.Match("&Subseq"))

	forced := mustTerm(t, "seq!", textTerm)
	assert.Equal(t, ModeWord, forced.Mode)
	assert.True(t, forced.Match("Seq<int>"))
	assert.False(t, forced.Match("Subseq"))
}

func TestTerm_Wildcard(t *testing.T) {
	t.Parallel()
	tests := []struct {
		pattern string
		input   string
		want    bool
	}{
		{"lemma_.*", "lemma_set_len", true},
		{"lemma_.*", "my_lemma_x", false},
		{".*_len", "lemma_set_len", true},
		{".*_len", "lemma_len_of", false},
		{".*len.*", "lemma_set_len", true},
		{".*len.*", "lemma_set", false},
		{"lemma_.*_len", "lemma_seq_len", true},
		{"lemma_.*_len", "lemma_len", false},
		{"a.*b.*c", "axbyc", true},
		{"a.*b.*c", "axcyb", false},
		{".*set.*", "multiset", true},
		{"LEMMA_.*", "lemma_x", true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.input, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, mustTerm(t, tt.pattern, nameTerm).Match(tt.input))
		})
	}
}

func TestTerm_Any(t *testing.T) {
	t.Parallel()
	for _, src := range []string{"_", ".*"} {
		term := mustTerm(t, src, nameTerm)
		assert.True(t, term.IsAny())
		assert.True(t, term.Match(""))
		assert.True(t, term.Match("anything"))
	}
	var nilTerm *Term
	assert.True(t, nilTerm.Match("x"))
}

func TestTerm_Groups(t *testing.T) {
	t.Parallel()
	or := mustTerm(t, `\(admit\|assume\)`, nameTerm)
	assert.Equal(t, ModeOr, or.Mode)
	assert.True(t, or.Match("admit"))
	assert.True(t, or.Match("assume"))
	assert.False(t, or.Match("assert"))

	plain := mustTerm(t, "(admit|assume)", nameTerm)
	assert.True(t, plain.Match("assume"))

	// & binds tighter than |.
	mixed := mustTerm(t, "(a|b&c)", nameTerm)
	require.Equal(t, ModeOr, mixed.Mode)
	require.Len(t, mixed.Alts, 2)
	assert.Equal(t, ModeAnd, mixed.Alts[1].Mode)
	assert.True(t, mixed.Match("a"))
	assert.True(t, mixed.Match("b_c"))
	assert.False(t, mixed.Match("b"))

	nested := mustTerm(t, "((set|map)&len)", nameTerm)
	assert.True(t, nested.Match("lemma_map_len"))
	assert.False(t, nested.Match("lemma_seq_len"))
}

func TestTerm_GroupCompositionIsUnionAndIntersection(t *testing.T) {
	t.Parallel()
	names := []string{"lemma_set_len", "lemma_seq_len", "set_insert", "map_len", "multiset"}
	a := mustTerm(t, "set", nameTerm)
	b := mustTerm(t, "len", nameTerm)
	or := mustTerm(t, "(set|len)", nameTerm)
	and := mustTerm(t, "(set&len)", nameTerm)
	for _, n := range names {
		assert.Equal(t, a.Match(n) || b.Match(n), or.Match(n), n)
		assert.Equal(t, a.Match(n) && b.Match(n), and.Match(n), n)
	}
}

func TestTerm_StrictNames(t *testing.T) {
	t.Parallel()
	term, err := compileTerm("set", 0, nameTerm, true)
	require.NoError(t, err)
	assert.Equal(t, ModeExact, term.Mode)
	assert.True(t, term.Match("SET"))
	assert.False(t, term.Match("lemma_set"))
}

func TestTerm_EmptyAlternative(t *testing.T) {
	t.Parallel()
	_, err := compileTerm("(a|)", 0, nameTerm, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyAlternation)

	_, err = compileTerm("(a&&b)", 0, textTerm, false)
	assert.NoError(t, err, "doubled operators are literal text")
}

// =============================================================================
// Lexer
// =============================================================================

func texts(toks []token) []string {
	var out []string
	for _, t := range toks {
		if t.kind != tokEOF {
			out = append(out, t.text)
		}
	}
	return out
}

func TestLex(t *testing.T) {
	t.Parallel()
	tests := []struct {
		query string
		want  []string
	}{
		{"fn foo", []string{"fn", "foo"}},
		{"struct _ {: int, :Seq}", []string{"struct", "_", "{", ":", "int", ",", ":", "Seq", "}"}},
		{"trait _: Clone", []string{"trait", "_", ":", "Clone"}},
		{"fn _ ->bool", []string{"fn", "_", "->", "bool"}},
		{"fn _ requires s.finite()", []string{"fn", "_", "requires", "s.finite()"}},
		{"#[verifier::external_body] fn _", []string{"verifier::external_body", "fn", "_"}},
		{"fn (a|b c) x", []string{"fn", "(a|b c)", "x"}},
		{`fn \(a\|b\) x`, []string{"fn", `\(a\|b\)`, "x"}},
		{"fn _ (: int)", []string{"fn", "_", "(", ":", "int", ")"}},
		{"proof {}", []string{"proof", "{", "}"}},
		{"use vstd::set", []string{"use", "vstd::set"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			t.Parallel()
			toks, err := lex(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, texts(toks))
		})
	}
}

func TestLex_Positions(t *testing.T) {
	t.Parallel()
	toks, err := lex("fn  foo")
	require.NoError(t, err)
	require.Len(t, toks, 3)
	assert.Equal(t, 0, toks[0].pos)
	assert.Equal(t, 4, toks[1].pos)
	assert.Equal(t, tokEOF, toks[2].kind)
}

// =============================================================================
// Compile
// =============================================================================

func TestCompile_Underscore(t *testing.T) {
	t.Parallel()
	n, err := Compile("_")
	require.NoError(t, err)
	assert.Equal(t, OpAll, n.Op)
}

func TestCompile_ProofFn(t *testing.T) {
	t.Parallel()
	n, err := Compile("proof fn .*len.*")
	require.NoError(t, err)
	require.Equal(t, OpAnd, n.Op)
	require.Len(t, n.Children, 3)
	assert.Equal(t, OpKind, n.Children[0].Op)
	assert.Equal(t, []item.Kind{item.KindFunction}, n.Children[0].Kinds)
	assert.Equal(t, OpModifier, n.Children[1].Op)
	assert.True(t, n.Children[1].Mods.Has(item.ModProof))
	assert.Equal(t, OpName, n.Children[2].Op)
	assert.Equal(t, ModeWildcard, n.Children[2].Term.Mode)
}

func TestCompile_CheapestFirst(t *testing.T) {
	t.Parallel()
	n, err := Compile("fn _ body admit requires x -> bool pub")
	require.NoError(t, err)
	require.Equal(t, OpAnd, n.Op)
	var ops []Op
	for _, c := range n.Children {
		ops = append(ops, c.Op)
	}
	assert.Equal(t, []Op{OpKind, OpModifier, OpClause, OpReturn, OpBody}, ops)
}

func TestCompile_Heads(t *testing.T) {
	t.Parallel()
	tests := []struct {
		query string
		want  string
	}{
		{"fn foo", "(and kind[fn] name[foo])"},
		{"foo", "(and kind[fn] name[foo])"},
		{"trait _ : Clone", "(and kind[trait] bound[Clone])"},
		{"trait T : A + B", "(and kind[trait] name[T] bound[A] bound[B])"},
		{"impl _ for Vec : View", "(and kind[impl] for[Vec] bound[View])"},
		{"struct _ { : int, : Seq }", "(and kind[struct] fields[int,Seq])"},
		{"enum Opt", "(and kind[enum] name[Opt])"},
		{"type _ = Seq", "(and kind[type] alias[Seq])"},
		{"broadcast use _", "(and kind[use] mod[broadcast])"},
		{"broadcast group _ { lemma_a }", "(and kind[broadcast group] mod[broadcast] members[lemma_a])"},
		{"def Pair", "(and kind[struct|enum|type|trait] name[Pair])"},
		{"fn _ <_>", "(and kind[fn] generics[])"},
		{"fn <_> _", "(and kind[fn] generics[])"},
		{"fn _ (: Seq, : int)", "(and kind[fn] params[Seq,int])"},
		{"fn _ args Seq, int", "(and kind[fn] params[Seq,int])"},
		{"fn _ generics T, View", "(and kind[fn] generics[T,View])"},
		{"fn _ Seq^+", "(and kind[fn] types[Seq])"},
		{"fn _ types Seq", "(and kind[fn] types[Seq])"},
		{"fn _ requires", "(and kind[fn] requires[_])"},
		{"fn _ ensures a b", "(and kind[fn] ensures[a] ensures[b])"},
		{"fn _ proof {}", "(and kind[fn] body[proof{}])"},
		{"fn _ unsafe { }", "(and kind[fn] body[unsafe{}])"},
		{"fn _ assert", "(and kind[fn] body[assert])"},
		{"fn _ body admit", "(and kind[fn] body[call admit])"},
		{"#[verifier::external_body] fn _", "(and kind[fn] attr[verifier::external_body])"},
		{"trait _ { type V; fn view -> Seq }", "(and kind[trait] assoc-type[V] methods[fn view])"},
		{"impl _ { Seq }", "(and kind[impl] body-text[Seq])"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			t.Parallel()
			n, err := Compile(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.String())
		})
	}
}

func TestCompile_MethodSpec(t *testing.T) {
	t.Parallel()
	n, err := Compile("trait _ { fn add (Seq) -> bool }")
	require.NoError(t, err)
	require.Equal(t, OpAnd, n.Op)
	m := n.Children[1]
	require.Equal(t, OpMethods, m.Op)
	assert.True(t, m.Method.Name.Match("add"))
	require.Len(t, m.Method.Params, 1)
	assert.True(t, m.Method.Params[0].Match("Seq<T>"))
	assert.True(t, m.Method.Return.Match("bool"))
}

func TestCompile_Strict(t *testing.T) {
	t.Parallel()
	n, err := Compile("fn set", WithStrict(true))
	require.NoError(t, err)
	name := n.Children[1]
	require.Equal(t, OpName, name.Op)
	assert.Equal(t, ModeExact, name.Term.Mode)

	// Text terms stay substring matches.
	n, err = Compile("fn _ -> Seq", WithStrict(true))
	require.NoError(t, err)
	assert.Equal(t, ModeSubstring, n.Children[1].Term.Mode)
}

func TestCompile_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		query string
		want  error
		pos   int
	}{
		{"fn (foo|", ErrUnbalanced, 3},
		{"", ErrExpected, 0},
		{"fn _ (: int", ErrUnbalanced, 5},
		{"struct _ { : int", ErrUnbalanced, 9},
		{"fn _ )", ErrUnbalanced, 5},
		{"fn _ ->", ErrExpected, 7},
		{"fn _ body", ErrExpected, 9},
		{"trait _ :", ErrExpected, 9},
		{"fn (a|)", ErrEmptyAlternation, 3},
		{"#[unclosed fn", ErrUnbalanced, 0},
		{"fn _ , x", ErrUnexpected, 5},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			t.Parallel()
			n, err := Compile(tt.query)
			require.Error(t, err)
			assert.Nil(t, n)
			assert.ErrorIs(t, err, tt.want)
			var ce *CompileError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.query, ce.Query)
			assert.GreaterOrEqual(t, ce.Pos, tt.pos)
			assert.LessOrEqual(t, ce.Pos, len(tt.query))
		})
	}
}

func FuzzCompile(f *testing.F) {
	for _, seed := range []string{
		"_", "fn foo", "proof fn lemma_.*_len (: Seq) -> bool requires forall",
		"trait _ : Clone", "struct _ { : int, : Seq }", `fn \(a\|b\&c\)`,
		"fn (foo|", "#[verifier", "impl _ for Vec : View { fn view -> Seq; type V }",
		"fn _ proof {} assert body admit", "((((", "))", "\\(",
	} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, query string) {
		n, err := Compile(query)
		if err != nil {
			var ce *CompileError
			if !errors.As(err, &ce) {
				t.Fatalf("error %v is not a *CompileError", err)
			}
			if n != nil {
				t.Fatalf("partial pattern returned with error")
			}
			return
		}
		if n == nil {
			t.Fatalf("nil pattern without error")
		}
		_ = n.String()
	})
}
