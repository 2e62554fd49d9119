// Package metrics defines the Prometheus metric collectors used across the
// relay and exposes an HTTP handler for scraping.
package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the relay.
type Metrics struct {
	HTTPRequestsTotal        *prometheus.CounterVec
	HTTPRequestDuration      *prometheus.HistogramVec
	HTTPRequestsInFlight     prometheus.Gauge
	OutboundRequestsTotal    *prometheus.CounterVec
	OutboundRequestDuration  *prometheus.HistogramVec
	LeadsProcessedTotal      *prometheus.CounterVec
	PipelineDuration         *prometheus.HistogramVec
	EnrichmentAttemptsTotal  *prometheus.CounterVec
	EnrichmentFallbacksTotal *prometheus.CounterVec
	TokenRefreshesTotal      *prometheus.CounterVec
	AuditEventsDroppedTotal  prometheus.Counter
	AuditSinkErrorsTotal     *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A nil reg uses the
// default registerer. When reg can also be gathered, as a *prometheus.Registry
// can, Handler serves it; otherwise Handler serves the default gatherer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer, ok := reg.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		OutboundRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_outbound_requests_total",
				Help: "Outbound calls by target (crm, upstream, audit), method and status.",
			},
			[]string{"target", "method", "status"},
		),
		OutboundRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_outbound_request_duration_seconds",
				Help:    "Outbound call latency in seconds.",
				Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"target", "method"},
		),
		LeadsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_leads_processed_total",
				Help: "Lead events by portal and outcome (success, deduped, ignored, failed).",
			},
			[]string{"portal", "outcome"},
		),
		PipelineDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_pipeline_duration_seconds",
				Help:    "End-to-end pipeline latency per portal.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"portal"},
		),
		EnrichmentAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_enrichment_attempts_total",
				Help: "Upstream lead fetch attempts by portal and result (found, empty, error).",
			},
			[]string{"portal", "result"},
		),
		EnrichmentFallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_enrichment_fallbacks_total",
				Help: "Events processed from their embedded payload after the upstream fetch gave up.",
			},
			[]string{"portal"},
		),
		TokenRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_token_refreshes_total",
				Help: "Upstream bearer token exchanges by status.",
			},
			[]string{"status"},
		),
		AuditEventsDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_audit_events_dropped_total",
				Help: "Audit events dropped because the buffer was full.",
			},
		),
		AuditSinkErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_audit_sink_errors_total",
				Help: "Failed audit sink writes by sink.",
			},
			[]string{"sink"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.OutboundRequestsTotal,
		m.OutboundRequestDuration,
		m.LeadsProcessedTotal,
		m.PipelineDuration,
		m.EnrichmentAttemptsTotal,
		m.EnrichmentFallbacksTotal,
		m.TokenRefreshesTotal,
		m.AuditEventsDroppedTotal,
		m.AuditSinkErrorsTotal,
	)
	m.gatherer = gatherer

	return m
}

// Handler returns the scrape handler for the registry m was created with.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{
		ErrorLog:      slog.NewLogLogger(slog.Default().Handler(), slog.LevelError),
		ErrorHandling: promhttp.ContinueOnError,
	})
}
