package veracity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jward/veracity/internal/match"
	"github.com/jward/veracity/internal/metrics"
	"github.com/jward/veracity/internal/pattern"
)

// DefaultPatternCacheSize is the number of compiled patterns a Searcher keeps.
const DefaultPatternCacheSize = 128

type patternKey struct {
	query  string
	strict bool
}

// Searcher runs queries against one Index. It is safe for concurrent use.
type Searcher struct {
	idx      *Index
	patterns *lru.Cache[patternKey, *pattern.Node]
	metrics  *metrics.Metrics
	logger   *slog.Logger
	workers  int
}

// SearchOption configures a Searcher.
type SearchOption func(*searchConfig)

type searchConfig struct {
	cacheSize int
	metrics   *metrics.Metrics
	logger    *slog.Logger
	workers   int
}

// WithPatternCacheSize sets how many compiled patterns are kept.
func WithPatternCacheSize(n int) SearchOption {
	return func(c *searchConfig) { c.cacheSize = n }
}

// WithSearchMetrics records query counters on m.
func WithSearchMetrics(m *metrics.Metrics) SearchOption {
	return func(c *searchConfig) { c.metrics = m }
}

// WithSearchLogger sets the logger.
func WithSearchLogger(l *slog.Logger) SearchOption {
	return func(c *searchConfig) { c.logger = l }
}

// WithMatchWorkers sets the matching parallelism. Zero means one per CPU;
// one scans serially.
func WithMatchWorkers(n int) SearchOption {
	return func(c *searchConfig) { c.workers = n }
}

// NewSearcher creates a Searcher over idx.
func NewSearcher(idx *Index, opts ...SearchOption) *Searcher {
	cfg := searchConfig{cacheSize: DefaultPatternCacheSize, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.cacheSize < 1 {
		cfg.cacheSize = 1
	}
	cache, err := lru.New[patternKey, *pattern.Node](cfg.cacheSize)
	if err != nil {
		// Only a non-positive size fails, which is excluded above.
		panic(fmt.Sprintf("veracity: pattern cache: %v", err))
	}
	return &Searcher{
		idx:      idx,
		patterns: cache,
		metrics:  cfg.metrics,
		logger:   cfg.logger,
		workers:  cfg.workers,
	}
}

// SearchResult holds the matches of one query, split by relation. Both
// lists are in index order.
type SearchResult struct {
	Query      string         `json:"query"`
	Pattern    string         `json:"pattern"`
	Direct     []match.Result `json:"direct"`
	Transitive []match.Result `json:"transitive"`
}

// Len is the total number of matches.
func (r *SearchResult) Len() int {
	return len(r.Direct) + len(r.Transitive)
}

// All returns direct matches followed by transitive ones.
func (r *SearchResult) All() []match.Result {
	out := make([]match.Result, 0, r.Len())
	out = append(out, r.Direct...)
	return append(out, r.Transitive...)
}

// Compile returns the compiled pattern for query, from the cache when
// possible. strict makes plain names match exactly.
func (s *Searcher) Compile(query string, strict bool) (*pattern.Node, error) {
	key := patternKey{query: query, strict: strict}
	if n, ok := s.patterns.Get(key); ok {
		s.metrics.PatternCache(true)
		return n, nil
	}
	s.metrics.PatternCache(false)
	n, err := pattern.Compile(query, pattern.WithStrict(strict))
	if err != nil {
		return nil, err
	}
	s.patterns.Add(key, n)
	return n, nil
}

// Search compiles query and matches it against the index. A malformed
// query returns a *CompileError and no results. No match is not an error.
func (s *Searcher) Search(ctx context.Context, query string, strict bool) (*SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		s.metrics.Query("error", 0)
		return nil, ErrNoQuery
	}
	root, err := s.Compile(query, strict)
	if err != nil {
		s.metrics.Query("error", 0)
		return nil, err
	}

	start := time.Now()
	results, err := match.New(root, s.idx.Graphs()).Run(ctx, s.idx.Items, s.workers)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	direct, transitive := match.Partition(results)
	outcome := "match"
	if len(results) == 0 {
		outcome = "empty"
	}
	s.metrics.Query(outcome, elapsed)
	s.logger.Debug("query", "query", query, "pattern", root.String(),
		"direct", len(direct), "transitive", len(transitive), "elapsed", elapsed)

	return &SearchResult{
		Query:      query,
		Pattern:    root.String(),
		Direct:     orEmpty(direct),
		Transitive: orEmpty(transitive),
	}, nil
}

func orEmpty(rs []match.Result) []match.Result {
	if rs == nil {
		return []match.Result{}
	}
	return rs
}
