// Package metrics defines the Prometheus metric collectors used by the
// index manager and query cache, and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the search core.
type Metrics struct {
	MemoriesIndexedTotal prometheus.Counter
	MemoriesRemovedTotal prometheus.Counter
	SearchesTotal        *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	IndexFlushesTotal    *prometheus.CounterVec
	IndexRecoveriesTotal prometheus.Counter
	RebuildsTotal        prometheus.Counter
	IndexedDocuments     prometheus.Gauge
	VocabularySize       prometheus.Gauge
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
}

// New creates all collectors and registers them with the given registerer.
// Passing nil registers with the default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		MemoriesIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "recall_memories_indexed_total",
				Help: "Total memories added or re-indexed.",
			},
		),
		MemoriesRemovedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "recall_memories_removed_total",
				Help: "Total memories removed from the index.",
			},
		),
		SearchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recall_searches_total",
				Help: "Total search queries by result type (hit, zero_result).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recall_search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"cache_status"},
		),
		IndexFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recall_index_flushes_total",
				Help: "Total index save operations by status (ok, error, clean).",
			},
			[]string{"status"},
		),
		IndexRecoveriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "recall_index_recoveries_total",
				Help: "Times a missing or corrupt index file was replaced by an empty index.",
			},
		),
		RebuildsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "recall_index_rebuilds_total",
				Help: "Total full index rebuilds.",
			},
		),
		IndexedDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "recall_indexed_documents",
				Help: "Number of documents currently in the index.",
			},
		),
		VocabularySize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "recall_vocabulary_size",
				Help: "Number of distinct terms currently in the index.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "recall_cache_hits_total",
				Help: "Total query cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "recall_cache_misses_total",
				Help: "Total query cache misses.",
			},
		),
	}

	reg.MustRegister(
		m.MemoriesIndexedTotal,
		m.MemoriesRemovedTotal,
		m.SearchesTotal,
		m.SearchLatency,
		m.IndexFlushesTotal,
		m.IndexRecoveriesTotal,
		m.RebuildsTotal,
		m.IndexedDocuments,
		m.VocabularySize,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)

	return m
}

// Handler returns the scrape HTTP handler for the given gatherer, which
// must be the same registry the collectors were registered with. Passing
// nil serves the default Prometheus registry, matching New(nil).
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
