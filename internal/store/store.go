package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jward/veracity/internal/item"
)

// Store is the SQLite extraction cache: one row per source file, holding the
// content hash and the JSON-encoded items extracted from it.
type Store struct {
	db *sql.DB
}

// Compile-time check: *Store satisfies Cache.
var _ Cache = (*Store)(nil)

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates the cache tables. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS files (
  path            TEXT PRIMARY KEY,
  hash            TEXT NOT NULL,
  origin          TEXT NOT NULL,
  item_count      INTEGER NOT NULL,
  items           BLOB NOT NULL,
  indexed_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_files_origin ON files(origin);
`

// Lookup returns the cached entry for path if its stored hash equals hash.
// A missing row or a stale hash returns nil, nil.
func (s *Store) Lookup(path, hash string) (*Entry, error) {
	var (
		storedHash, origin string
		blob               []byte
		indexedAt          int64
	)
	err := s.db.QueryRow(
		"SELECT hash, origin, items, indexed_at FROM files WHERE path = ?", path,
	).Scan(&storedHash, &origin, &blob, &indexedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", path, err)
	}
	if storedHash != hash {
		return nil, nil
	}
	o, ok := item.ParseOrigin(origin)
	if !ok {
		return nil, fmt.Errorf("lookup %s: %w: origin %q", path, ErrCorrupt, origin)
	}
	var items []item.Item
	if err := json.Unmarshal(blob, &items); err != nil {
		return nil, fmt.Errorf("lookup %s: %w: %v", path, ErrCorrupt, err)
	}
	return &Entry{
		Path:      path,
		Hash:      storedHash,
		Origin:    o,
		Items:     items,
		IndexedAt: time.Unix(indexedAt, 0),
	}, nil
}

// Commit writes every buffered entry of b in a single transaction, replacing
// any previous row for the same path.
func (s *Store) Commit(b *Batch) error {
	entries := b.Entries()
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("commit batch: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO files (path, hash, origin, item_count, items, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET hash = excluded.hash, origin = excluded.origin,
		item_count = excluded.item_count, items = excluded.items, indexed_at = excluded.indexed_at`)
	if err != nil {
		return fmt.Errorf("commit batch: prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		blob, err := json.Marshal(e.Items)
		if err != nil {
			return fmt.Errorf("commit batch: encode %s: %w", e.Path, err)
		}
		if _, err := stmt.Exec(e.Path, e.Hash, e.Origin.String(), len(e.Items), blob, e.IndexedAt.Unix()); err != nil {
			return fmt.Errorf("commit batch: file %q: %w", e.Path, err)
		}
	}
	return tx.Commit()
}

// Remove deletes the entries for the given paths.
func (s *Store) Remove(paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	args := make([]any, len(paths))
	for i, p := range paths {
		args[i] = p
	}
	if _, err := s.db.Exec("DELETE FROM files WHERE path IN ("+placeholderList(len(paths))+")", args...); err != nil {
		return fmt.Errorf("remove entries: %w", err)
	}
	return nil
}

// Paths returns every cached path in sorted order.
func (s *Store) Paths() ([]string, error) {
	rows, err := s.db.Query("SELECT path FROM files ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("list paths: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Stats returns the number of cached files and items.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	err := s.db.QueryRow("SELECT COUNT(*), COALESCE(SUM(item_count), 0) FROM files").Scan(&st.Files, &st.Items)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// GetMetadata returns the value stored under key, or "" if absent.
func (s *Store) GetMetadata(key string) (string, error) {
	var v string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get metadata %s: %w", key, err)
	}
	return v, nil
}

// SetMetadata stores value under key.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}

// Clear removes every cached file and all metadata.
func (s *Store) Clear() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("clear: begin: %w", err)
	}
	defer tx.Rollback()
	for _, q := range []string{"DELETE FROM files", "DELETE FROM metadata"} {
		if _, err := tx.Exec(q); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
	}
	return tx.Commit()
}
