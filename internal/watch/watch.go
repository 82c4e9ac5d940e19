// Package watch recursively watches source roots and reports batches of
// changed Rust files. Editors often write a file several times per save, so
// events are coalesced until the tree has been quiet for a short interval.
package watch

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Directories ignored by default.
var defaultIgnoreDirs = []string{".git", "target", "attic", ".veracity", ".idea", ".vscode"}

// DefaultQuiet is the coalescing interval.
const DefaultQuiet = 150 * time.Millisecond

// Watcher watches one or more roots.
type Watcher struct {
	fw      *fsnotify.Watcher
	done    chan struct{}
	stopped bool
	mu      sync.Mutex

	ignore map[string]bool
	quiet  time.Duration
	logger *slog.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithExclude adds directory names to skip, in addition to the defaults.
func WithExclude(dirs ...string) Option {
	return func(w *Watcher) {
		for _, d := range dirs {
			w.ignore[d] = true
		}
	}
}

// WithQuiet sets how long the tree must be quiet before a batch is reported.
func WithQuiet(d time.Duration) Option {
	return func(w *Watcher) { w.quiet = d }
}

// WithLogger sets the logger for watch errors.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New creates a Watcher.
func New(opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fw:     fw,
		done:   make(chan struct{}),
		ignore: make(map[string]bool),
		quiet:  DefaultQuiet,
		logger: slog.Default(),
	}
	for _, d := range defaultIgnoreDirs {
		w.ignore[d] = true
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Watch starts monitoring roots recursively. onChange receives each batch of
// changed .rs paths, sorted and deduplicated. It runs on the watcher's
// goroutine, so a slow callback delays the next batch rather than
// overlapping it.
func (w *Watcher) Watch(roots []string, onChange func(paths []string)) error {
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return err
		}
		if err := w.addTree(abs); err != nil {
			return err
		}
	}
	go w.loop(onChange)
	return nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip inaccessible paths
		}
		if info.IsDir() {
			if w.ignore[info.Name()] && path != root {
				return filepath.SkipDir
			}
			return w.fw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) loop(onChange func([]string)) {
	pending := make(map[string]bool)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			path := event.Name

			// New directories join the watch list.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(path); err == nil && info.IsDir() {
					if !w.ignore[info.Name()] {
						if err := w.addTree(path); err != nil {
							w.logger.Warn("watch: add directory", "path", path, "error", err)
						}
					}
					continue
				}
			}
			if !w.relevant(path) {
				continue
			}
			if !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) {
				continue
			}
			pending[path] = true
			if timer == nil {
				timer = time.NewTimer(w.quiet)
			} else {
				timer.Reset(w.quiet)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			batch := make([]string, 0, len(pending))
			for p := range pending {
				batch = append(batch, p)
			}
			sort.Strings(batch)
			clear(pending)
			onChange(batch)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch: event error", "error", err)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// relevant reports whether path is a Rust source outside ignored directories.
func (w *Watcher) relevant(path string) bool {
	if filepath.Ext(path) != ".rs" {
		return false
	}
	for _, part := range strings.Split(filepath.Dir(path), string(filepath.Separator)) {
		if w.ignore[part] {
			return false
		}
	}
	return true
}

// Stop ends monitoring and releases all resources.
// Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.done)
	return w.fw.Close()
}
