package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket keys
var (
	bucketFiles = []byte("files")
	bucketMeta  = []byte("meta")
)

// BoltStore is the bbolt cache backend. Each file is one key in the files
// bucket holding its JSON-encoded Entry. Writes are transactional, so a crash
// mid-commit leaves the previous contents intact.
type BoltStore struct {
	db *bolt.DB
}

// Compile-time check: *BoltStore satisfies Cache.
var _ Cache = (*BoltStore)(nil)

// NewBoltStore opens (or creates) a bbolt database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bbolt open: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketFiles, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bbolt init: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close closes the underlying bbolt database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Lookup returns the cached entry for path if its hash matches.
func (s *BoltStore) Lookup(path, hash string) (*Entry, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		// Copy bytes out of the transaction (bbolt slices are only valid within tx)
		if v := tx.Bucket(bucketFiles).Get([]byte(path)); v != nil {
			raw = make([]byte, len(v))
			copy(raw, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", path, err)
	}
	if raw == nil {
		return nil, nil
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("lookup %s: %w: %v", path, ErrCorrupt, err)
	}
	if e.Hash != hash {
		return nil, nil
	}
	return &e, nil
}

// Commit writes every buffered entry of b in one transaction.
func (s *BoltStore) Commit(b *Batch) error {
	entries := b.Entries()
	if len(entries) == 0 {
		return nil
	}
	encoded := make([][]byte, len(entries))
	for i, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("commit batch: encode %s: %w", e.Path, err)
		}
		encoded[i] = data
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		files := tx.Bucket(bucketFiles)
		for i, e := range entries {
			if err := files.Put([]byte(e.Path), encoded[i]); err != nil {
				return fmt.Errorf("commit batch: file %q: %w", e.Path, err)
			}
		}
		return nil
	})
}

// Remove deletes the entries for the given paths.
func (s *BoltStore) Remove(paths ...string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		files := tx.Bucket(bucketFiles)
		for _, p := range paths {
			if err := files.Delete([]byte(p)); err != nil {
				return fmt.Errorf("remove %s: %w", p, err)
			}
		}
		return nil
	})
}

// Paths returns every cached path. bbolt iterates keys in byte order, so the
// result is sorted.
func (s *BoltStore) Paths() ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFiles).ForEach(func(k, _ []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	return out, err
}

// Stats counts cached files and items. Entries are decoded to count items.
func (s *BoltStore) Stats() (Stats, error) {
	var st Stats
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFiles).ForEach(func(k, v []byte) error {
			var e struct {
				Items []json.RawMessage `json:"items"`
			}
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("%w: %s", ErrCorrupt, k)
			}
			st.Files++
			st.Items += len(e.Items)
			return nil
		})
	})
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// GetMetadata returns the value stored under key, or "" if absent.
func (s *BoltStore) GetMetadata(key string) (string, error) {
	var v string
	err := s.db.View(func(tx *bolt.Tx) error {
		v = string(tx.Bucket(bucketMeta).Get([]byte(key)))
		return nil
	})
	return v, err
}

// SetMetadata stores value under key.
func (s *BoltStore) SetMetadata(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put([]byte(key), []byte(value))
	})
}

// Clear drops and recreates both buckets.
func (s *BoltStore) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketFiles, bucketMeta} {
			if tx.Bucket(name) != nil {
				if err := tx.DeleteBucket(name); err != nil {
					return err
				}
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}
