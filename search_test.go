package veracity

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/veracity/internal/metrics"
	"github.com/jward/veracity/internal/pattern"
)

func newSearcher(t *testing.T, files map[string]string, opts ...SearchOption) *Searcher {
	t.Helper()
	idx := buildIndex(t, WithCodebase(writeTree(t, files)))
	return NewSearcher(idx, append([]SearchOption{WithSearchLogger(quiet)}, opts...)...)
}

func search(t *testing.T, s *Searcher, query string) *SearchResult {
	t.Helper()
	res, err := s.Search(context.Background(), query, false)
	require.NoError(t, err, query)
	return res
}

func resultNames(results []Result) []string {
	var out []string
	for _, r := range results {
		out = append(out, r.Item.Name)
	}
	return out
}

// =============================================================================
// End-to-end scenarios
// =============================================================================

func TestSearch_ProofFunctionByName(t *testing.T) {
	t.Parallel()
	s := newSearcher(t, map[string]string{"set.rs": lemmaSrc})

	assert.Equal(t, 1, search(t, s, "proof fn .*len.*").Len())
	assert.Equal(t, 1, search(t, s, "fn lemma_.*").Len())
	assert.Equal(t, 0, search(t, s, "fn multiset").Len())
}

func TestSearch_TransitiveTraitBounds(t *testing.T) {
	t.Parallel()
	s := newSearcher(t, map[string]string{"traits.rs": traitsSrc})

	res := search(t, s, "trait _ : Clone")
	assert.Equal(t, []string{"StT"}, resultNames(res.Direct))
	require.Len(t, res.Transitive, 1)
	assert.Equal(t, "HashOrd", res.Transitive[0].Item.Name)
	assert.Equal(t, "StT", res.Transitive[0].Via)
	assert.Equal(t, Transitive, res.Transitive[0].Relation)
	assert.Equal(t, []string{"StT", "HashOrd"}, resultNames(res.All()))
}

func TestSearch_StructFieldTypes(t *testing.T) {
	t.Parallel()
	s := newSearcher(t, map[string]string{"pair.rs": pairSrc})

	assert.Equal(t, 1, search(t, s, "struct _ { : int, : Seq }").Len())
	assert.Equal(t, 0, search(t, s, "struct _ { : Map }").Len())
}

const extEqSrc = `use vstd::prelude::*;

verus! {

pub proof fn lemma_push_drop<A>(s: Seq<A>, x: A)
    ensures s.push(x).drop_last() =~= s,
{
}

pub proof fn lemma_other()
    ensures true,
{
}

fn pick(b: bool) -> (r: u8)
    ensures r == if b { 1u8 } else { 0u8 },
{
    admit();
    if b { 1 } else { 0 }
}

} // verus!
`

func TestSearch_ExtensionalEquality(t *testing.T) {
	t.Parallel()
	s := newSearcher(t, map[string]string{"seq.rs": extEqSrc, "set.rs": lemmaSrc})

	assert.Equal(t, []string{"lemma_push_drop"}, resultNames(search(t, s, "fn _ ensures .*=~=.*").Direct))
	assert.Equal(t, 0, search(t, s, "fn _ requires .*=~=.*").Len())
	assert.Equal(t, 1, search(t, s, "fn lemma_other").Len())
}

func TestSearch_BodyAfterBlockExpressionClause(t *testing.T) {
	t.Parallel()
	s := newSearcher(t, map[string]string{"seq.rs": extEqSrc})

	assert.Equal(t, []string{"pick"}, resultNames(search(t, s, "fn pick body admit").Direct))
	assert.Equal(t, 1, search(t, s, "fn _ ensures 0u8").Len())
}

func TestSearch_BodyCalls(t *testing.T) {
	t.Parallel()
	s := newSearcher(t, map[string]string{"set.rs": lemmaSrc})

	assert.Equal(t, 1, search(t, s, "fn _ body admit").Len())
	assert.Equal(t, 0, search(t, s, "fn _ body lemma").Len())
}

func TestSearch_MalformedQuery(t *testing.T) {
	t.Parallel()
	s := newSearcher(t, map[string]string{"set.rs": lemmaSrc})

	res, err := s.Search(context.Background(), "fn (foo|", false)
	assert.Nil(t, res)
	require.Error(t, err)
	var cerr *CompileError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "fn (foo|", cerr.Query)
	assert.ErrorIs(t, err, pattern.ErrUnbalanced)
}

func TestSearch_SkipsBrokenFile(t *testing.T) {
	t.Parallel()
	idx := buildIndex(t, WithCodebase(writeTree(t, map[string]string{
		"good.rs":   lemmaSrc,
		"broken.rs": brokenSrc,
	})))
	require.Len(t, idx.Errors, 1)

	res, err := NewSearcher(idx).Search(context.Background(), "fn _", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"lemma_set_len"}, resultNames(res.Direct))
	assert.Empty(t, res.Transitive)
}

// =============================================================================
// Searcher behavior
// =============================================================================

func TestSearch_EmptyQuery(t *testing.T) {
	t.Parallel()
	s := newSearcher(t, map[string]string{"set.rs": lemmaSrc})
	for _, q := range []string{"", "   "} {
		_, err := s.Search(context.Background(), q, false)
		assert.ErrorIs(t, err, ErrNoQuery)
	}
}

func TestSearch_NoMatchHasEmptyLists(t *testing.T) {
	t.Parallel()
	s := newSearcher(t, map[string]string{"set.rs": lemmaSrc})
	res := search(t, s, "trait Missing")
	assert.NotNil(t, res.Direct)
	assert.NotNil(t, res.Transitive)
	assert.Zero(t, res.Len())
	assert.Empty(t, res.All())
}

func TestSearch_ResultCarriesPattern(t *testing.T) {
	t.Parallel()
	s := newSearcher(t, map[string]string{"set.rs": lemmaSrc})
	res := search(t, s, "fn lemma_.*")
	assert.Equal(t, "fn lemma_.*", res.Query)
	assert.NotEmpty(t, res.Pattern)
}

func TestSearch_Strict(t *testing.T) {
	t.Parallel()
	s := newSearcher(t, map[string]string{"set.rs": lemmaSrc})

	loose, err := s.Search(context.Background(), "fn set", false)
	require.NoError(t, err)
	assert.Equal(t, 1, loose.Len())

	strict, err := s.Search(context.Background(), "fn set", true)
	require.NoError(t, err)
	assert.Equal(t, 0, strict.Len())

	exact, err := s.Search(context.Background(), "fn lemma_set_len", true)
	require.NoError(t, err)
	assert.Equal(t, 1, exact.Len())
}

func TestSearch_PatternCache(t *testing.T) {
	t.Parallel()
	s := newSearcher(t, map[string]string{"set.rs": lemmaSrc}, WithPatternCacheSize(2))

	a, err := s.Compile("fn _", false)
	require.NoError(t, err)
	b, err := s.Compile("fn _", false)
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := s.Compile("fn _", true)
	require.NoError(t, err)
	assert.NotSame(t, a, c, "strictness is part of the key")
	assert.Equal(t, 2, s.patterns.Len())

	_, err = s.Compile("trait _", false)
	require.NoError(t, err)
	assert.Equal(t, 2, s.patterns.Len(), "least recently used entry evicted")

	_, err = s.Compile("fn (", false)
	require.Error(t, err)
	assert.Equal(t, 2, s.patterns.Len(), "failures are not cached")
}

func TestSearch_Concurrent(t *testing.T) {
	t.Parallel()
	s := newSearcher(t, map[string]string{
		"set.rs":    lemmaSrc,
		"traits.rs": traitsSrc,
		"pair.rs":   pairSrc,
	})
	queries := []string{"fn _", "trait _ : Clone", "struct _", "proof fn .*len.*"}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		q := queries[i%len(queries)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Search(context.Background(), q, false)
			assert.NoError(t, err)
			assert.Positive(t, res.Len())
		}()
	}
	wg.Wait()
}

func TestSearch_ParallelMatchingEqualsSerial(t *testing.T) {
	t.Parallel()
	files := map[string]string{"traits.rs": traitsSrc}
	for i := 0; i < 40; i++ {
		files[filepath.Join("gen", string(rune('a'+i%26))+string(rune('a'+i/26))+".rs")] = lemmaSrc
	}
	idx := buildIndex(t, WithCodebase(writeTree(t, files)))

	serial, err := NewSearcher(idx, WithMatchWorkers(1)).Search(context.Background(), "fn _", false)
	require.NoError(t, err)
	parallel, err := NewSearcher(idx, WithMatchWorkers(4)).Search(context.Background(), "fn _", false)
	require.NoError(t, err)
	assert.Equal(t, serial.Direct, parallel.Direct)
	assert.Len(t, serial.Direct, 40)
}

func TestSearch_Cancelled(t *testing.T) {
	t.Parallel()
	s := newSearcher(t, map[string]string{"set.rs": lemmaSrc})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Search(ctx, "fn _", false)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearch_Metrics(t *testing.T) {
	t.Parallel()
	m := metrics.New()
	idx := buildIndex(t, WithCodebase(writeTree(t, map[string]string{"set.rs": lemmaSrc})), WithMetrics(m))
	s := NewSearcher(idx, WithSearchMetrics(m), WithSearchLogger(quiet))

	ctx := context.Background()
	_, err := s.Search(ctx, "fn _", false)
	require.NoError(t, err)
	_, err = s.Search(ctx, "fn _", false)
	require.NoError(t, err)
	_, err = s.Search(ctx, "trait Missing", false)
	require.NoError(t, err)
	_, err = s.Search(ctx, "fn (foo|", false)
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "veracity.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	for _, line := range []string{
		`veracity_files_extracted_total{origin="codebase",result="ok"} 1`,
		`veracity_items_extracted_total{kind="fn"} 1`,
		`veracity_queries_total{result="match"} 2`,
		`veracity_queries_total{result="empty"} 1`,
		`veracity_queries_total{result="error"} 1`,
		`veracity_pattern_cache_total{result="hit"} 1`,
		`veracity_pattern_cache_total{result="miss"} 3`,
	} {
		assert.Contains(t, out, line)
	}
}
