// Package metrics records indexing and query counters on a private
// Prometheus registry. There is no HTTP endpoint; WriteTextfile dumps the
// registry in the node-exporter textfile format at the end of a run.
//
// Every recording method is safe on a nil *Metrics, so callers that run
// without metrics need no checks.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors for one process.
type Metrics struct {
	reg *prometheus.Registry

	filesExtracted  *prometheus.CounterVec
	itemsExtracted  *prometheus.CounterVec
	extractDuration prometheus.Histogram
	cacheLookups    *prometheus.CounterVec
	queries         *prometheus.CounterVec
	matchDuration   prometheus.Histogram
	patternCache    *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		filesExtracted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "veracity_files_extracted_total",
			Help: "Files extracted by origin and result",
		}, []string{"origin", "result"}),
		itemsExtracted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "veracity_items_extracted_total",
			Help: "Items extracted by kind",
		}, []string{"kind"}),
		extractDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "veracity_extract_duration_seconds",
			Help:    "Per-file extraction duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~800ms
		}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "veracity_cache_lookups_total",
			Help: "Extraction cache lookups by result",
		}, []string{"result"}),
		queries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "veracity_queries_total",
			Help: "Queries by result",
		}, []string{"result"}),
		matchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "veracity_match_duration_seconds",
			Help:    "Index scan duration per query in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		patternCache: f.NewCounterVec(prometheus.CounterOpts{
			Name: "veracity_pattern_cache_total",
			Help: "Compiled pattern cache lookups by result",
		}, []string{"result"}),
	}
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// FileExtracted counts one file. result is "ok", "error" or "cached".
func (m *Metrics) FileExtracted(origin, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.filesExtracted.WithLabelValues(origin, result).Inc()
	if result != "cached" {
		m.extractDuration.Observe(d.Seconds())
	}
}

// ItemsExtracted adds n items of kind.
func (m *Metrics) ItemsExtracted(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.itemsExtracted.WithLabelValues(kind).Add(float64(n))
}

// CacheLookup counts a hit or a miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(hitMiss(hit)).Inc()
}

// Query counts a query. result is "match", "empty" or "error".
func (m *Metrics) Query(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(result).Inc()
	if result != "error" {
		m.matchDuration.Observe(d.Seconds())
	}
}

// PatternCache counts a compiled pattern cache hit or miss.
func (m *Metrics) PatternCache(hit bool) {
	if m == nil {
		return
	}
	m.patternCache.WithLabelValues(hitMiss(hit)).Inc()
}

func hitMiss(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

// WriteTextfile writes every metric to path in the Prometheus text format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}
