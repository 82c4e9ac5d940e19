package veracity

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jward/veracity/internal/extract"
	"github.com/jward/veracity/internal/item"
	"github.com/jward/veracity/internal/metrics"
	"github.com/jward/veracity/internal/store"
)

// extractorVersion is bumped whenever extraction output changes, which
// invalidates caches written by older builds.
const extractorVersion = "veracity-extract/3"

// Root is one source collection to index.
type Root struct {
	Path   string      `json:"path"`
	Origin item.Origin `json:"origin"`
}

// skipDirs are never descended into, in addition to WithExclude.
var skipDirs = map[string]bool{
	"target": true,
}

// Engine orchestrates the veracity pipeline: file discovery, change
// detection, extraction and index construction.
type Engine struct {
	roots       []Root
	exclude     map[string]bool
	macros      []string
	extractor   *extract.Extractor
	cache       store.Cache
	metrics     *metrics.Metrics
	logger      *slog.Logger
	readTimeout time.Duration
	workers     int

	// useParallel enables the parallel extraction pipeline.
	useParallel bool

	// memo holds the last run's error-free extractions by path, so a
	// re-index in the same process only re-parses files whose hash changed.
	memo map[string]*store.Entry
}

// Option configures an Engine.
type Option func(*Engine)

// WithVstd adds the verification standard library root. Empty is ignored.
func WithVstd(path string) Option {
	return WithRoots(Root{Path: path, Origin: item.OriginLibrary})
}

// WithBuiltin adds the builtin primitives root. Empty is ignored.
func WithBuiltin(path string) Option {
	return WithRoots(Root{Path: path, Origin: item.OriginBuiltin})
}

// WithCodebase adds project roots.
func WithCodebase(paths ...string) Option {
	return func(e *Engine) {
		for _, p := range paths {
			WithRoots(Root{Path: p, Origin: item.OriginCodebase})(e)
		}
	}
}

// WithRoots adds roots with explicit origins. Roots with an empty path are
// ignored.
func WithRoots(roots ...Root) Option {
	return func(e *Engine) {
		for _, r := range roots {
			if r.Path != "" {
				e.roots = append(e.roots, r)
			}
		}
	}
}

// WithExclude skips directories with any of the given names.
func WithExclude(dirs ...string) Option {
	return func(e *Engine) {
		for _, d := range dirs {
			e.exclude[d] = true
		}
	}
}

// WithMacros replaces the verification macro names (default: verus).
func WithMacros(names ...string) Option {
	return func(e *Engine) {
		if len(names) > 0 {
			e.macros = append([]string(nil), names...)
		}
	}
}

// WithCache stores extraction results in c between runs. The Engine owns c
// and closes it in Close.
func WithCache(c store.Cache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithMetrics records indexing counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithParallel controls parallel extraction. When true (default), Index
// extracts files on a worker pool. Set to false for serial mode.
func WithParallel(parallel bool) Option {
	return func(e *Engine) {
		e.useParallel = parallel
	}
}

// WithWorkers caps the extraction worker pool. Zero means one per CPU.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// WithReadTimeout bounds the time spent reading one file. Zero disables
// the bound.
func WithReadTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.readTimeout = d
	}
}

// New creates an Engine. At least one root is required.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		exclude:     make(map[string]bool),
		macros:      extract.DefaultMacros,
		logger:      slog.Default(),
		useParallel: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	if len(e.roots) == 0 {
		return nil, ErrNoRoots
	}
	e.extractor = extract.New(extract.WithMacros(e.macros...))

	if e.cache != nil {
		reset, err := store.EnsureVersion(e.cache, e.version())
		if err != nil {
			return nil, fmt.Errorf("veracity: cache version: %w", err)
		}
		if reset {
			e.logger.Info("extraction cache reset", "reason", "extractor version changed")
		}
	}
	return e, nil
}

// Close releases the cache, if any.
func (e *Engine) Close() error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Close()
}

// Roots returns the configured roots in indexing order.
func (e *Engine) Roots() []Root {
	return append([]Root(nil), e.roots...)
}

// Excluded reports whether directories named name are skipped.
func (e *Engine) Excluded(name string) bool {
	return skipDirs[name] || e.exclude[name]
}

// version identifies the extractor build and macro set that produced cached
// entries.
func (e *Engine) version() string {
	macros := append([]string(nil), e.macros...)
	sort.Strings(macros)
	sum := sha256.Sum256([]byte(extractorVersion + "\x00" + strings.Join(macros, ",")))
	return fmt.Sprintf("%x", sum)
}

// sourceFile is one discovered file and the origin of its root.
type sourceFile struct {
	path   string
	origin item.Origin
}

// Index discovers, extracts and merges every .rs file under the roots.
// Per-file problems are recorded in Index.Errors and never abort the run;
// only a missing root or a cancelled context does.
func (e *Engine) Index(ctx context.Context) (*Index, error) {
	start := time.Now()
	files, err := e.discover()
	if err != nil {
		return nil, err
	}
	idx, err := e.indexFiles(ctx, files)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("index built",
		"files", idx.Files, "cached", idx.Cached, "items", len(idx.Items),
		"errors", len(idx.Errors), "elapsed", time.Since(start))
	return idx, nil
}

// discover walks every root. A file reachable from two roots is indexed
// once, under the first root that reaches it.
func (e *Engine) discover() ([]sourceFile, error) {
	seen := make(map[string]bool)
	var files []sourceFile
	for _, r := range e.roots {
		paths, err := e.walkListFiles(r.Path)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			if seen[p] {
				continue
			}
			seen[p] = true
			files = append(files, sourceFile{path: p, origin: r.Origin})
		}
	}
	return files, nil
}

// walkListFiles returns the sorted .rs files under root. Hidden and
// excluded directories are skipped. root may itself be a file.
func (e *Engine) walkListFiles(root string) ([]string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("veracity: root %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("veracity: root %s: %w", root, err)
	}
	if !info.IsDir() {
		if filepath.Ext(abs) != ".rs" {
			return nil, nil
		}
		return []string{abs}, nil
	}

	var paths []string
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != abs && (strings.HasPrefix(name, ".") || e.Excluded(name)) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) == ".rs" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("veracity: walk %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// workItem holds everything an extraction worker needs.
type workItem struct {
	file sourceFile
	src  []byte
	hash string
}

// fileOutcome is the per-file result merged in the commit phase.
type fileOutcome struct {
	file    sourceFile
	hash    string
	items   []item.Item
	errs    []extract.ExtractionError
	cached  bool
	elapsed time.Duration
}

// indexFiles indexes discovered files in three phases:
//
//	Phase A (serial):   read, hash, and look up the memo and cache.
//	Phase B (parallel): parse and extract cache misses on a worker pool.
//	Phase C (serial):   commit new entries in one batch, merge and sort.
func (e *Engine) indexFiles(ctx context.Context, files []sourceFile) (*Index, error) {
	// ---- Phase A: Serial file preparation ----
	var (
		work     []workItem
		outcomes []fileOutcome
	)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, err := e.readFile(ctx, f.path)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			outcomes = append(outcomes, fileOutcome{file: f, errs: []extract.ExtractionError{{
				File: f.path, Reason: "read: " + err.Error(), Err: extract.ErrRead,
			}}})
			continue
		}
		hash := fmt.Sprintf("%x", sha256.Sum256(content))
		if entry := e.lookup(f, hash); entry != nil {
			outcomes = append(outcomes, fileOutcome{file: f, hash: hash, items: entry.Items, cached: true})
			continue
		}
		work = append(work, workItem{file: f, src: content, hash: hash})
	}

	// ---- Phase B: Extraction ----
	var extracted []fileOutcome
	if e.useParallel && e.workers != 1 && len(work) > 1 {
		extracted = e.extractParallel(ctx, work)
	} else {
		extracted = e.extractSerial(ctx, work)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	outcomes = append(outcomes, extracted...)

	// ---- Phase C: Serial commit ----
	return e.commit(outcomes, len(files)), nil
}

func (e *Engine) extractSerial(ctx context.Context, work []workItem) []fileOutcome {
	out := make([]fileOutcome, 0, len(work))
	for _, w := range work {
		if ctx.Err() != nil {
			break
		}
		out = append(out, e.extractFile(ctx, w))
	}
	return out
}

// extractFile runs the extractor on one file. The Extractor builds a fresh
// tree-sitter parser per call, so this is safe on any worker.
func (e *Engine) extractFile(ctx context.Context, w workItem) fileOutcome {
	start := time.Now()
	res, err := e.extractor.Extract(ctx, w.file.path, w.src, w.file.origin)
	out := fileOutcome{file: w.file, hash: w.hash, elapsed: time.Since(start)}
	if err != nil {
		var xerr *extract.ExtractionError
		if !errors.As(err, &xerr) {
			xerr = &extract.ExtractionError{File: w.file.path, Reason: err.Error(), Err: extract.ErrSyntax}
		}
		out.errs = []extract.ExtractionError{*xerr}
		return out
	}
	out.items = res.Items
	out.errs = res.Errors
	return out
}

// lookup returns a reusable extraction for f with content hash, from the
// in-process memo first and the persistent cache second.
func (e *Engine) lookup(f sourceFile, hash string) *store.Entry {
	if entry, ok := e.memo[f.path]; ok && entry.Hash == hash && entry.Origin == f.origin {
		return entry
	}
	if e.cache == nil {
		return nil
	}
	entry, err := e.cache.Lookup(f.path, hash)
	if err != nil {
		e.logger.Warn("cache lookup failed", "file", f.path, "error", err)
		entry = nil
	}
	if entry != nil && entry.Origin != f.origin {
		entry = nil
	}
	e.metrics.CacheLookup(entry != nil)
	return entry
}

// commit merges outcomes into an Index and writes fresh error-free
// extractions to the cache. A cache write failure is logged, not returned.
func (e *Engine) commit(outcomes []fileOutcome, files int) *Index {
	var (
		items  []item.Item
		errs   []extract.ExtractionError
		cached int
		batch  = store.NewBatch()
		memo   = make(map[string]*store.Entry, len(outcomes))
		kinds  = make(map[item.Kind]int)
		now    = time.Now()
	)
	for _, o := range outcomes {
		origin := o.file.origin.String()
		switch {
		case o.cached:
			cached++
			e.metrics.FileExtracted(origin, "cached", 0)
		case len(o.errs) > 0:
			e.metrics.FileExtracted(origin, "error", o.elapsed)
			for _, xe := range o.errs {
				e.logger.Warn("extraction error", "file", xe.File, "line", xe.Line, "reason", xe.Reason)
			}
		default:
			e.metrics.FileExtracted(origin, "ok", o.elapsed)
		}
		if !o.cached {
			for i := range o.items {
				kinds[o.items[i].Kind]++
			}
		}

		items = append(items, o.items...)
		errs = append(errs, o.errs...)

		if len(o.errs) > 0 || o.hash == "" {
			continue
		}
		entry := &store.Entry{Path: o.file.path, Hash: o.hash, Origin: o.file.origin, Items: o.items, IndexedAt: now}
		memo[o.file.path] = entry
		if !o.cached && e.cache != nil {
			batch.Add(entry)
		}
	}
	for k, n := range kinds {
		e.metrics.ItemsExtracted(k.String(), n)
	}

	if e.cache != nil && batch.Len() > 0 {
		if err := e.cache.Commit(batch); err != nil {
			e.logger.Warn("cache commit failed", "entries", batch.Len(), "error", err)
		} else {
			e.logger.Debug("cache committed", "entries", batch.Len())
		}
	}
	e.memo = memo

	idx := NewIndex(items, errs)
	idx.Files = files
	idx.Cached = cached
	return idx
}

// readFile reads path, giving up after the configured read timeout.
func (e *Engine) readFile(ctx context.Context, path string) ([]byte, error) {
	if e.readTimeout <= 0 {
		return os.ReadFile(path)
	}
	ctx, cancel := context.WithTimeout(ctx, e.readTimeout)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := os.ReadFile(path)
		ch <- result{data, err}
	}()
	select {
	case r := <-ch:
		return r.data, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("timed out after %s", e.readTimeout)
	}
}
