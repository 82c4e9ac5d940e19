package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/veracity/internal/item"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestBolt(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "test.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// backends runs fn once per cache backend.
func backends(t *testing.T, fn func(t *testing.T, c Cache)) {
	t.Helper()
	t.Run("sqlite", func(t *testing.T) {
		t.Parallel()
		fn(t, newTestStore(t))
	})
	t.Run("bolt", func(t *testing.T) {
		t.Parallel()
		fn(t, newTestBolt(t))
	})
}

func testEntry(path, hash string) *Entry {
	it := item.Item{
		Kind:      item.KindFunction,
		Name:      "lemma_len",
		Modifiers: item.Modifiers(0).With(item.ModProof),
		Params:    []item.Param{{Name: "s", Type: "Seq<int>"}},
		Body:      []item.Token{{Kind: item.TokIdent, Text: "admit", Line: 3, Column: 4}},
		Origin:    item.OriginLibrary,
		Location:  item.Location{File: path, Line: 2, HeaderEndLine: 2},
	}
	it.AddClause(item.Requires, "s.len() > 0")
	return &Entry{
		Path:      path,
		Hash:      hash,
		Origin:    item.OriginLibrary,
		Items:     []item.Item{it},
		IndexedAt: time.Now().Truncate(time.Second),
	}
}

func commit(t *testing.T, c Cache, entries ...*Entry) {
	t.Helper()
	b := NewBatch()
	for _, e := range entries {
		b.Add(e)
	}
	require.NoError(t, c.Commit(b))
}

// =============================================================================
// Schema & Lifecycle
// =============================================================================

func TestMigrate_TablesExist(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	for _, table := range []string{"files", "metadata"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Migrate())
}

func TestMigrate_WALMode(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestOpen_Backends(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	c, err := Open(BackendNone, filepath.Join(dir, "none"))
	require.NoError(t, err)
	assert.Nil(t, c)

	for _, backend := range []string{BackendSQLite, BackendBolt} {
		c, err := Open(backend, filepath.Join(dir, backend+".db"))
		require.NoError(t, err, backend)
		require.NotNil(t, c)
		require.NoError(t, c.Close())
	}

	_, err = Open("redis", filepath.Join(dir, "x"))
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

// =============================================================================
// Entries
// =============================================================================

func TestCache_RoundTrip(t *testing.T) {
	t.Parallel()
	backends(t, func(t *testing.T, c Cache) {
		want := testEntry("/src/lib.rs", "h1")
		commit(t, c, want)

		got, err := c.Lookup("/src/lib.rs", "h1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want.Path, got.Path)
		assert.Equal(t, want.Hash, got.Hash)
		assert.Equal(t, item.OriginLibrary, got.Origin)
		assert.Equal(t, want.Items, got.Items)
		assert.Equal(t, want.IndexedAt.Unix(), got.IndexedAt.Unix())
	})
}

func TestCache_StaleHashMisses(t *testing.T) {
	t.Parallel()
	backends(t, func(t *testing.T, c Cache) {
		commit(t, c, testEntry("/a.rs", "old"))

		got, err := c.Lookup("/a.rs", "new")
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = c.Lookup("/missing.rs", "old")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestCache_CommitReplaces(t *testing.T) {
	t.Parallel()
	backends(t, func(t *testing.T, c Cache) {
		commit(t, c, testEntry("/a.rs", "v1"))
		e := testEntry("/a.rs", "v2")
		e.Items = append(e.Items, e.Items[0])
		commit(t, c, e)

		got, err := c.Lookup("/a.rs", "v2")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Len(t, got.Items, 2)

		st, err := c.Stats()
		require.NoError(t, err)
		assert.Equal(t, Stats{Files: 1, Items: 2}, st)
	})
}

func TestCache_RemoveAndPaths(t *testing.T) {
	t.Parallel()
	backends(t, func(t *testing.T, c Cache) {
		commit(t, c, testEntry("/b.rs", "h"), testEntry("/a.rs", "h"), testEntry("/c.rs", "h"))

		paths, err := c.Paths()
		require.NoError(t, err)
		assert.Equal(t, []string{"/a.rs", "/b.rs", "/c.rs"}, paths)

		require.NoError(t, c.Remove("/b.rs", "/nope.rs"))
		paths, err = c.Paths()
		require.NoError(t, err)
		assert.Equal(t, []string{"/a.rs", "/c.rs"}, paths)
	})
}

func TestCache_EmptyBatchIsNoop(t *testing.T) {
	t.Parallel()
	backends(t, func(t *testing.T, c Cache) {
		require.NoError(t, c.Commit(NewBatch()))
		st, err := c.Stats()
		require.NoError(t, err)
		assert.Zero(t, st.Files)
	})
}

// =============================================================================
// Metadata & versioning
// =============================================================================

func TestCache_Metadata(t *testing.T) {
	t.Parallel()
	backends(t, func(t *testing.T, c Cache) {
		v, err := c.GetMetadata("k")
		require.NoError(t, err)
		assert.Empty(t, v)

		require.NoError(t, c.SetMetadata("k", "one"))
		require.NoError(t, c.SetMetadata("k", "two"))
		v, err = c.GetMetadata("k")
		require.NoError(t, err)
		assert.Equal(t, "two", v)
	})
}

func TestEnsureVersion(t *testing.T) {
	t.Parallel()
	backends(t, func(t *testing.T, c Cache) {
		reset, err := EnsureVersion(c, "v1")
		require.NoError(t, err)
		assert.False(t, reset, "first run records the version without clearing")

		commit(t, c, testEntry("/a.rs", "h"))
		reset, err = EnsureVersion(c, "v1")
		require.NoError(t, err)
		assert.False(t, reset)

		reset, err = EnsureVersion(c, "v2")
		require.NoError(t, err)
		assert.True(t, reset)
		got, err := c.Lookup("/a.rs", "h")
		require.NoError(t, err)
		assert.Nil(t, got, "entries from another extractor version are dropped")

		v, err := c.GetMetadata(versionKey)
		require.NoError(t, err)
		assert.Equal(t, "v2", v)
	})
}

func TestRemoveFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(path+"-wal", []byte("x"), 0o644))

	require.NoError(t, RemoveFiles(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + "-wal")
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, RemoveFiles(path), "missing files are not an error")
}

func TestLookup_CorruptRow(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	_, err := s.db.Exec(
		"INSERT INTO files (path, hash, origin, item_count, items, indexed_at) VALUES (?, ?, ?, ?, ?, ?)",
		"/bad.rs", "h", "codebase", 1, []byte("{not json"), 0,
	)
	require.NoError(t, err)

	_, err = s.Lookup("/bad.rs", "h")
	assert.ErrorIs(t, err, ErrCorrupt)
}
