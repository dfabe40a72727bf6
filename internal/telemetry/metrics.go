// Package telemetry exposes Prometheus metrics for search and ingestion.
// Every method is safe on a nil *Metrics, which records nothing.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hybridrag"

// Metrics holds the collectors, registered on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	searches        *prometheus.CounterVec
	searchLatency   prometheus.Histogram
	searchResults   prometheus.Histogram
	backendLatency  *prometheus.HistogramVec
	backendFailures *prometheus.CounterVec

	ingestRecords     *prometheus.CounterVec
	ingestBatches     *prometheus.CounterVec
	embeddingFailures prometheus.Counter
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Search requests by persona and outcome.",
		}, []string{"persona", "outcome"}),
		searchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "End-to-end search latency.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		searchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_results",
			Help:      "Results returned per search.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
		}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_duration_seconds",
			Help:      "Retrieval latency per backend.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		}, []string{"backend"}),
		backendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_failures_total",
			Help:      "Retrieval backends that failed or timed out.",
		}, []string{"backend"}),
		ingestRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_records_total",
			Help:      "Ingested records by outcome.",
		}, []string{"outcome"}),
		ingestBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_batches_total",
			Help:      "Ingestion batches by outcome.",
		}, []string{"outcome"}),
		embeddingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_failures_total",
			Help:      "Records stored without an embedding after retries.",
		}),
	}
	m.registry.MustRegister(
		m.searches, m.searchLatency, m.searchResults,
		m.backendLatency, m.backendFailures,
		m.ingestRecords, m.ingestBatches, m.embeddingFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and embedding.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveSearch records one search. outcome is "ok" or an error code.
func (m *Metrics) ObserveSearch(persona, outcome string, d time.Duration, results int) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(persona, outcome).Inc()
	m.searchLatency.Observe(d.Seconds())
	if outcome == "ok" {
		m.searchResults.Observe(float64(results))
	}
}

// ObserveBackend records one backend call.
func (m *Metrics) ObserveBackend(backend string, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.backendLatency.WithLabelValues(backend).Observe(d.Seconds())
	if failed {
		m.backendFailures.WithLabelValues(backend).Inc()
	}
}

// ObserveBatch records a committed or failed batch of n records.
func (m *Metrics) ObserveBatch(committed bool, n int) {
	if m == nil {
		return
	}
	outcome := "committed"
	if !committed {
		outcome = "failed"
	}
	m.ingestBatches.WithLabelValues(outcome).Inc()
	m.ingestRecords.WithLabelValues(outcome).Add(float64(n))
}

// ObserveRejected records records skipped by validation.
func (m *Metrics) ObserveRejected(n int) {
	if m == nil || n == 0 {
		return
	}
	m.ingestRecords.WithLabelValues("rejected").Add(float64(n))
}

// ObserveEmbeddingFailure records a record stored without a vector.
func (m *Metrics) ObserveEmbeddingFailure() {
	if m == nil {
		return
	}
	m.embeddingFailures.Inc()
}
