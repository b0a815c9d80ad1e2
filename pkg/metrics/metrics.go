// Package metrics defines the Prometheus collectors shared by the CLI, the
// worker and the query service, and exposes the scrape handler.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	CacheResultsTotal    *prometheus.CounterVec
	EmbedderSwitches     prometheus.Counter
	EmbeddedTextsTotal   *prometheus.CounterVec
	ETLRunsTotal         *prometheus.CounterVec
	ETLDuration          prometheus.Histogram
	IngestedCompanies    *prometheus.CounterVec
	RateLimitedTotal     *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Default returns the process-wide collectors, registering them on first use.
func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atlas_http_requests_total",
				Help: "Total number of HTTP requests by method, route, and status.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "atlas_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "atlas_http_requests_in_flight",
				Help: "Number of HTTP requests currently being served.",
			},
		),
		CacheResultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atlas_cache_results_total",
				Help: "Cache lookups by family and result (hit, miss, error).",
			},
			[]string{"family", "result"},
		),
		EmbedderSwitches: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "atlas_embedder_fallback_switches_total",
				Help: "Number of times the embedder switched to its fallback provider.",
			},
		),
		EmbeddedTextsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atlas_embedded_texts_total",
				Help: "Texts embedded by provider.",
			},
			[]string{"provider"},
		),
		ETLRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atlas_etl_runs_total",
				Help: "ETL runs by outcome (ok, partial, failed).",
			},
			[]string{"outcome"},
		),
		ETLDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "atlas_etl_duration_seconds",
				Help:    "Wall time of one ETL run.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),
		IngestedCompanies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atlas_ingested_companies_total",
				Help: "Companies written to the lake by source label.",
			},
			[]string{"source"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atlas_rate_limited_total",
				Help: "Calls refused by a provider limiter.",
			},
			[]string{"provider"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
			m.HTTPRequestsInFlight,
			m.CacheResultsTotal,
			m.EmbedderSwitches,
			m.EmbeddedTextsTotal,
			m.ETLRunsTotal,
			m.ETLDuration,
			m.IngestedCompanies,
			m.RateLimitedTotal,
		)
	}

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
