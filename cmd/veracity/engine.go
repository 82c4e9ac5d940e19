package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jward/veracity"
	"github.com/jward/veracity/internal/runtime"
	"github.com/jward/veracity/internal/store"
	"github.com/jward/veracity/scripts"
)

// newEngine builds an Engine from the loaded config.
func newEngine() (*veracity.Engine, error) {
	opts := []veracity.Option{
		veracity.WithVstd(cfg.Vstd),
		veracity.WithBuiltin(cfg.Builtin),
		veracity.WithCodebase(cfg.Codebase...),
		veracity.WithExclude(cfg.Exclude...),
		veracity.WithMacros(cfg.VerificationMacros...),
		veracity.WithParallel(cfg.Parallel),
		veracity.WithWorkers(cfg.Workers),
		veracity.WithReadTimeout(cfg.ReadTimeout),
		veracity.WithLogger(logger),
		veracity.WithMetrics(metricz),
	}
	cache, err := openCache()
	if err != nil {
		return nil, err
	}
	if cache != nil {
		opts = append(opts, veracity.WithCache(cache))
	}
	engine, err := veracity.New(opts...)
	if err != nil {
		if cache != nil {
			cache.Close()
		}
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	return engine, nil
}

// openCache opens the configured extraction cache, or returns nil when
// caching is off.
func openCache() (store.Cache, error) {
	if cfg.Cache.Backend == store.BackendNone {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Cache.Path), 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", filepath.Dir(cfg.Cache.Path), err)
	}
	return store.Open(cfg.Cache.Backend, cfg.Cache.Path)
}

// buildIndex runs one indexing pass with a throwaway engine.
func buildIndex(ctx context.Context) (*veracity.Index, error) {
	engine, err := newEngine()
	if err != nil {
		return nil, err
	}
	defer engine.Close()
	idx, err := engine.Index(ctx)
	if err != nil {
		return nil, fmt.Errorf("indexing: %w", err)
	}
	return idx, nil
}

func newSearcher(idx *veracity.Index) *veracity.Searcher {
	return veracity.NewSearcher(idx,
		veracity.WithPatternCacheSize(cfg.PatternCacheSize),
		veracity.WithSearchMetrics(metricz),
		veracity.WithSearchLogger(logger),
		veracity.WithMatchWorkers(cfg.Workers),
	)
}

// search runs query and applies the --where filter.
func search(ctx context.Context, s *veracity.Searcher, query string) (*veracity.SearchResult, error) {
	res, err := s.Search(ctx, query, flagStrict)
	if err != nil {
		return nil, err
	}
	if flagWhere == "" {
		return res, nil
	}
	filter := runtime.NewRuntime(cfg.FiltersDir, runtime.WithLogger(logger)).NewFilter(flagWhere)
	if res.Direct, err = filter.Apply(ctx, res.Direct); err != nil {
		return nil, err
	}
	if res.Transitive, err = filter.Apply(ctx, res.Transitive); err != nil {
		return nil, err
	}
	return res, nil
}

// viewRuntimes are searched in order for view scripts: the filters
// directory first, then the built-in scripts.
func viewRuntimes() []*runtime.Runtime {
	return []*runtime.Runtime{
		runtime.NewRuntime(cfg.FiltersDir, runtime.WithLogger(logger)),
		runtime.NewRuntime("", runtime.WithRuntimeFS(scripts.FS), runtime.WithLogger(logger)),
	}
}
