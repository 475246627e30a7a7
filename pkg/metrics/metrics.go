// Package metrics defines the Prometheus collectors of the segment and
// exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors of the segment.
type Metrics struct {
	DocsIndexedTotal       prometheus.Counter
	PostingsAppendedTotal  prometheus.Counter
	PostingsAppendFailures *prometheus.CounterVec
	CitationsAppendedTotal prometheus.Counter
	FulltextFailuresTotal  *prometheus.CounterVec
	LiveInjectionsTotal    prometheus.Counter
	ReferencesRemovedTotal prometheus.Counter
	URLsRemovedTotal       *prometheus.CounterVec
	IndexingDuration       *prometheus.HistogramVec
	LoaderFetchesTotal     *prometheus.CounterVec
	CircuitBreakerState    *prometheus.GaugeVec
	QueueEventsTotal       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg uses
// the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Total documents stored.",
			},
		),
		PostingsAppendedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "postings_appended_total",
				Help: "Total postings appended, catchall included.",
			},
		),
		PostingsAppendFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postings_append_failures_total",
				Help: "Posting appends skipped by failure kind.",
			},
			[]string{"kind"},
		),
		CitationsAppendedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "citations_appended_total",
				Help: "Total citation entries appended.",
			},
		),
		FulltextFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulltext_failures_total",
				Help: "Fulltext store failures by operation.",
			},
			[]string{"op"},
		),
		LiveInjectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "live_injections_total",
				Help: "Postings injected into running searches.",
			},
		),
		ReferencesRemovedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "references_removed_total",
				Help: "Postings removed by url deletion.",
			},
		),
		URLsRemovedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "urls_removed_total",
				Help: "URL deletions by path (full, metadata_only, not_found).",
			},
			[]string{"path"},
		),
		IndexingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "indexing_phase_duration_seconds",
				Help:    "Time spent per indexing phase.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"phase"},
		),
		LoaderFetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loader_fetches_total",
				Help: "Document loads by result (network, cache, error).",
			},
			[]string{"result"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		QueueEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "queue_events_total",
				Help: "Queue events handled by topic and status.",
			},
			[]string{"topic", "status"},
		),
	}

	reg.MustRegister(
		m.DocsIndexedTotal,
		m.PostingsAppendedTotal,
		m.PostingsAppendFailures,
		m.CitationsAppendedTotal,
		m.FulltextFailuresTotal,
		m.LiveInjectionsTotal,
		m.ReferencesRemovedTotal,
		m.URLsRemovedTotal,
		m.IndexingDuration,
		m.LoaderFetchesTotal,
		m.CircuitBreakerState,
		m.QueueEventsTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
