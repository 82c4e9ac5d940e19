package store

import (
	"sort"
	"sync"
)

// Batch buffers cache entries in memory until a single Commit writes them.
// Parallel extraction workers add to one Batch; the engine commits it once
// after all workers finish.
//
// Thread safety: the mutex protects the entry slice. A path added twice keeps
// the last entry.
type Batch struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewBatch creates an empty Batch.
func NewBatch() *Batch {
	return &Batch{entries: make(map[string]*Entry)}
}

// Add buffers e.
func (b *Batch) Add(e *Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[e.Path] = e
}

// Len returns the number of buffered entries.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Entries returns the buffered entries sorted by path.
func (b *Batch) Entries() []*Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Entry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
