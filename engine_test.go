package veracity

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/veracity/internal/extract"
	"github.com/jward/veracity/internal/item"
	"github.com/jward/veracity/internal/store"
)

const lemmaSrc = `use vstd::prelude::*;

verus! {

/// Length of a finite set.
pub proof fn lemma_set_len<A>(s: Set<A>)
    requires s.finite(),
    ensures s.len() >= 0,
{
    admit();
}

} // verus!
`

const traitsSrc = `verus! {
pub trait StT: Eq + Clone + Sized {}
pub trait HashOrd: StT + Hash {}
}
`

const pairSrc = `verus! {
pub struct Pair { pub a: int, b: Seq<int> }
}
`

const brokenSrc = `verus! {
pub proof fn lemma_a(x: int)
    ensures x == x,
{
`

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// writeTree writes files (relative path to content) under a fresh temp dir.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, src := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	}
	return dir
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := New(append([]Option{WithLogger(quiet)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func buildIndex(t *testing.T, opts ...Option) *Index {
	t.Helper()
	idx, err := newTestEngine(t, opts...).Index(context.Background())
	require.NoError(t, err)
	return idx
}

func itemNames(items []item.Item) []string {
	var out []string
	for _, it := range items {
		out = append(out, it.Name)
	}
	return out
}

// ===== Construction =====

func TestNew_RequiresRoot(t *testing.T) {
	t.Parallel()
	_, err := New()
	assert.ErrorIs(t, err, ErrNoRoots)

	_, err = New(WithCodebase(""), WithVstd(""))
	assert.ErrorIs(t, err, ErrNoRoots, "empty paths are ignored")
}

func TestNew_RootOrder(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, WithVstd("/v"), WithBuiltin("/b"), WithCodebase("/p1", "/p2"))
	assert.Equal(t, []Root{
		{Path: "/v", Origin: item.OriginLibrary},
		{Path: "/b", Origin: item.OriginBuiltin},
		{Path: "/p1", Origin: item.OriginCodebase},
		{Path: "/p2", Origin: item.OriginCodebase},
	}, e.Roots())
}

func TestExcluded(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, WithCodebase("."), WithExclude("vendor"))
	assert.True(t, e.Excluded("target"))
	assert.True(t, e.Excluded("vendor"))
	assert.False(t, e.Excluded("src"))
}

func TestVersion_DependsOnMacros(t *testing.T) {
	t.Parallel()
	a := newTestEngine(t, WithCodebase("."))
	b := newTestEngine(t, WithCodebase("."), WithMacros("verus"))
	c := newTestEngine(t, WithCodebase("."), WithMacros("verus", "verus_"))
	d := newTestEngine(t, WithCodebase("."), WithMacros("verus_", "verus"))
	assert.Equal(t, a.version(), b.version())
	assert.NotEqual(t, a.version(), c.version())
	assert.Equal(t, c.version(), d.version(), "macro order does not matter")
}

// ===== Discovery =====

func TestIndex_SkipsHiddenAndExcludedDirs(t *testing.T) {
	t.Parallel()
	dir := writeTree(t, map[string]string{
		"src/lib.rs":      "fn kept() {}",
		"notes.txt":       "fn not_rust() {}",
		".git/hook.rs":    "fn hidden() {}",
		"target/build.rs": "fn built() {}",
		"vendor/dep.rs":   "fn vendored() {}",
	})
	idx := buildIndex(t, WithCodebase(dir), WithExclude("vendor"))
	assert.Equal(t, 1, idx.Files)
	assert.Equal(t, []string{"kept"}, itemNames(idx.Items))
}

func TestIndex_RootMayBeFile(t *testing.T) {
	t.Parallel()
	dir := writeTree(t, map[string]string{"one.rs": "fn single() {}", "two.rs": "fn other() {}"})
	idx := buildIndex(t, WithCodebase(filepath.Join(dir, "one.rs")))
	assert.Equal(t, []string{"single"}, itemNames(idx.Items))
	assert.Equal(t, filepath.Join(dir, "one.rs"), idx.Items[0].Location.File)
}

func TestIndex_MissingRoot(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, WithCodebase(filepath.Join(t.TempDir(), "nope")))
	_, err := e.Index(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestIndex_Origins(t *testing.T) {
	t.Parallel()
	lib := writeTree(t, map[string]string{"seq.rs": "verus! { pub open spec fn seq_len() -> nat { 0 } }"})
	prims := writeTree(t, map[string]string{"int.rs": "pub struct Int {}"})
	proj := writeTree(t, map[string]string{"main.rs": "fn main() {}"})

	idx := buildIndex(t, WithVstd(lib), WithBuiltin(prims), WithCodebase(proj))
	want := map[string]item.Origin{
		"seq_len": item.OriginLibrary,
		"Int":     item.OriginBuiltin,
		"main":    item.OriginCodebase,
	}
	require.Len(t, idx.Items, len(want))
	for _, it := range idx.Items {
		assert.Equal(t, want[it.Name], it.Origin, it.Name)
	}
}

func TestIndex_OverlappingRootsIndexOnce(t *testing.T) {
	t.Parallel()
	dir := writeTree(t, map[string]string{"a.rs": "fn only_once() {}"})
	idx := buildIndex(t, WithCodebase(dir), WithVstd(dir))
	require.Len(t, idx.Items, 1)
	assert.Equal(t, 1, idx.Files)
	assert.Equal(t, item.OriginCodebase, idx.Items[0].Origin, "first root wins")
}

// ===== Extraction =====

func TestIndex_ItemsSortedByLocation(t *testing.T) {
	t.Parallel()
	dir := writeTree(t, map[string]string{
		"b.rs": "fn b_two() {}\nfn b_one() {}",
		"a.rs": "fn a_one() {}",
	})
	idx := buildIndex(t, WithCodebase(dir))
	assert.Equal(t, []string{"a_one", "b_two", "b_one"}, itemNames(idx.Items))
}

func TestIndex_BrokenFileReportedNotFatal(t *testing.T) {
	t.Parallel()
	dir := writeTree(t, map[string]string{
		"good.rs":   lemmaSrc,
		"broken.rs": brokenSrc,
	})
	idx := buildIndex(t, WithCodebase(dir))

	assert.Equal(t, 2, idx.Files)
	require.Len(t, idx.Errors, 1)
	assert.Equal(t, filepath.Join(dir, "broken.rs"), idx.Errors[0].File)
	for _, it := range idx.Items {
		assert.Equal(t, filepath.Join(dir, "good.rs"), it.Location.File)
	}
	assert.Len(t, idx.Lookup("lemma_set_len"), 1)
	assert.Empty(t, idx.Lookup("lemma_a"))
}

func TestIndex_ParallelEqualsSerial(t *testing.T) {
	t.Parallel()
	dir := writeTree(t, map[string]string{
		"a.rs":        lemmaSrc,
		"b.rs":        traitsSrc,
		"c.rs":        pairSrc,
		"d/broken.rs": brokenSrc,
		"d/e.rs":      "fn plain(x: u8) -> u8 { x }",
	})
	serial := buildIndex(t, WithCodebase(dir), WithParallel(false))
	parallel := buildIndex(t, WithCodebase(dir), WithWorkers(4))
	single := buildIndex(t, WithCodebase(dir), WithWorkers(1))

	assert.Equal(t, serial.Items, parallel.Items)
	assert.Equal(t, serial.Errors, parallel.Errors)
	assert.Equal(t, serial.Items, single.Items)
}

func TestIndex_Idempotent(t *testing.T) {
	t.Parallel()
	dir := writeTree(t, map[string]string{"a.rs": lemmaSrc, "b.rs": traitsSrc})
	first := buildIndex(t, WithCodebase(dir))
	second := buildIndex(t, WithCodebase(dir))
	assert.Equal(t, first.Items, second.Items)
}

func TestIndex_Cancelled(t *testing.T) {
	t.Parallel()
	dir := writeTree(t, map[string]string{"a.rs": lemmaSrc})
	e := newTestEngine(t, WithCodebase(dir))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Index(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// ===== Change detection =====

func TestIndex_MemoReusesUnchangedFiles(t *testing.T) {
	t.Parallel()
	dir := writeTree(t, map[string]string{
		"a.rs":      lemmaSrc,
		"b.rs":      traitsSrc,
		"broken.rs": brokenSrc,
	})
	e := newTestEngine(t, WithCodebase(dir))
	ctx := context.Background()

	first, err := e.Index(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, first.Cached)

	second, err := e.Index(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Cached, "the broken file is always re-extracted")
	assert.Len(t, second.Errors, 1)
	assert.Equal(t, itemNames(first.Items), itemNames(second.Items))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.rs"), []byte("pub trait Renamed {}"), 0o644))
	third, err := e.Index(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, third.Cached)
	assert.Len(t, third.Lookup("Renamed"), 1)
	assert.Empty(t, third.Lookup("StT"))
}

func TestIndex_PersistentCache(t *testing.T) {
	t.Parallel()
	for _, backend := range []string{store.BackendSQLite, store.BackendBolt} {
		t.Run(backend, func(t *testing.T) {
			t.Parallel()
			dir := writeTree(t, map[string]string{
				"a.rs":      lemmaSrc,
				"b.rs":      pairSrc,
				"broken.rs": brokenSrc,
			})
			cachePath := filepath.Join(t.TempDir(), "cache.db")

			run := func(opts ...Option) *Index {
				c, err := store.Open(backend, cachePath)
				require.NoError(t, err)
				e, err := New(append([]Option{WithLogger(quiet), WithCodebase(dir), WithCache(c)}, opts...)...)
				require.NoError(t, err)
				defer e.Close()
				idx, err := e.Index(context.Background())
				require.NoError(t, err)
				return idx
			}

			first := run()
			assert.Equal(t, 0, first.Cached)

			second := run()
			assert.Equal(t, 2, second.Cached)
			assert.Len(t, second.Errors, 1)
			assert.Equal(t, itemNames(first.Items), itemNames(second.Items))
			pairs := second.Lookup("Pair")
			require.Len(t, pairs, 1)
			assert.Equal(t, []item.Param{{Name: "a", Type: "int"}, {Name: "b", Type: "Seq<int>"}}, pairs[0].Fields)

			// A different macro set invalidates everything.
			third := run(WithMacros("verus", "verus_"))
			assert.Equal(t, 0, third.Cached)
		})
	}
}

func TestIndex_CacheOriginMismatchIsMiss(t *testing.T) {
	t.Parallel()
	dir := writeTree(t, map[string]string{"a.rs": "fn f() {}"})
	cachePath := filepath.Join(t.TempDir(), "cache.db")

	run := func(root Option) *Index {
		c, err := store.Open(store.BackendSQLite, cachePath)
		require.NoError(t, err)
		e, err := New(WithLogger(quiet), root, WithCache(c))
		require.NoError(t, err)
		defer e.Close()
		idx, err := e.Index(context.Background())
		require.NoError(t, err)
		return idx
	}

	run(WithCodebase(dir))
	idx := run(WithVstd(dir))
	assert.Equal(t, 0, idx.Cached)
	require.Len(t, idx.Items, 1)
	assert.Equal(t, item.OriginLibrary, idx.Items[0].Origin)
}

func TestIndex_UnreadableFile(t *testing.T) {
	t.Parallel()
	if os.Geteuid() == 0 {
		t.Skip("root can read any file")
	}
	dir := writeTree(t, map[string]string{"a.rs": "fn f() {}", "b.rs": "fn g() {}"})
	require.NoError(t, os.Chmod(filepath.Join(dir, "b.rs"), 0o000))

	idx := buildIndex(t, WithCodebase(dir))
	assert.Equal(t, []string{"f"}, itemNames(idx.Items))
	require.Len(t, idx.Errors, 1)
	assert.True(t, errors.Is(&idx.Errors[0], extract.ErrRead))
}
