// Package store caches extraction results between runs, keyed by file path
// and content hash. Two backends are available: SQLite (the default) and
// bbolt. A cache only ever saves re-extraction work; deleting it is always
// safe.
package store

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jward/veracity/internal/item"
)

var (
	// ErrUnknownBackend is returned by Open for an unrecognized backend name.
	ErrUnknownBackend = errors.New("store: unknown cache backend")
	// ErrCorrupt marks a cache row that could not be decoded.
	ErrCorrupt = errors.New("store: corrupt cache entry")
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendNone   = "none"
)

// versionKey is the metadata key holding the extractor version that wrote
// the cache.
const versionKey = "extractor_version"

// Entry is the cached extraction of one file. Only files that extracted
// without errors are cached.
type Entry struct {
	Path      string      `json:"path"`
	Hash      string      `json:"hash"`
	Origin    item.Origin `json:"origin"`
	Items     []item.Item `json:"items"`
	IndexedAt time.Time   `json:"indexed_at"`
}

// Stats summarizes cache contents.
type Stats struct {
	Files int `json:"files"`
	Items int `json:"items"`
}

// Cache is implemented by both backends.
type Cache interface {
	Lookup(path, hash string) (*Entry, error)
	Commit(b *Batch) error
	Remove(paths ...string) error
	Paths() ([]string, error)
	Stats() (Stats, error)
	GetMetadata(key string) (string, error)
	SetMetadata(key, value string) error
	Clear() error
	Close() error
}

// Open opens the cache at path with the named backend. BackendNone returns a
// nil Cache and no error.
func Open(backend, path string) (Cache, error) {
	switch backend {
	case BackendNone, "":
		return nil, nil
	case BackendSQLite:
		s, err := NewStore(path)
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		if err := s.Migrate(); err != nil {
			s.Close()
			return nil, fmt.Errorf("store: %w", err)
		}
		return s, nil
	case BackendBolt:
		b, err := NewBoltStore(path)
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
}

// EnsureVersion clears c when it was written by a different extractor
// version, then records version. It reports whether the cache was reset.
func EnsureVersion(c Cache, version string) (bool, error) {
	stored, err := c.GetMetadata(versionKey)
	if err != nil {
		return false, err
	}
	if stored == version {
		return false, nil
	}
	if stored != "" {
		if err := c.Clear(); err != nil {
			return false, err
		}
	}
	return stored != "", c.SetMetadata(versionKey, version)
}

// RemoveFiles deletes the cache file at path and any SQLite side files. A missing
// file is not an error.
func RemoveFiles(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("store: remove %s: %w", p, err)
		}
	}
	return nil
}

// placeholderList returns "?,?,?" for n placeholders.
func placeholderList(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
