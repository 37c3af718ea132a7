// Package metrics defines the Prometheus collectors of the catalog service
// and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "catalog"

// Metrics holds all collectors.
type Metrics struct {
	RunsTotal           *prometheus.CounterVec
	RunDuration         *prometheus.HistogramVec
	PostingsFetched     *prometheus.CounterVec
	PostingsExcluded    *prometheus.CounterVec
	PostingsMerged      *prometheus.CounterVec
	PostingsDeactivated *prometheus.CounterVec
	LastSuccess         *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Ingestion runs by source and outcome (success, fetch_error, merge_error, reconcile_error, skipped).",
			},
			[]string{"source", "outcome"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of an ingestion run.",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"source"},
		),
		PostingsFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "postings_fetched_total",
				Help:      "Raw postings returned by source adapters.",
			},
			[]string{"source"},
		),
		PostingsExcluded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "postings_excluded_total",
				Help:      "Postings dropped by the red-flag filter.",
			},
			[]string{"source"},
		),
		PostingsMerged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "postings_merged_total",
				Help:      "Merged postings by lifecycle transition (inserted, refreshed, reactivated).",
			},
			[]string{"source", "transition"},
		),
		PostingsDeactivated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "postings_deactivated_total",
				Help:      "Postings marked inactive by reconciliation.",
			},
			[]string{"source"},
		),
		LastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful run per source.",
			},
			[]string{"source"},
		),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.PostingsFetched,
		m.PostingsExcluded,
		m.PostingsMerged,
		m.PostingsDeactivated,
		m.LastSuccess,
	)
	return m
}

// ObserveRun records the outcome and duration of one run.
func (m *Metrics) ObserveRun(source, outcome string, took time.Duration, finished time.Time) {
	m.RunsTotal.WithLabelValues(source, outcome).Inc()
	m.RunDuration.WithLabelValues(source).Observe(took.Seconds())
	if outcome == "success" {
		m.LastSuccess.WithLabelValues(source).Set(float64(finished.Unix()))
	}
}

// Handler returns the scrape handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
