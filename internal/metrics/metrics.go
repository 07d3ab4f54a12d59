// Package metrics provides Prometheus metrics for the permanence engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine and its HTTP API.
type Metrics struct {
	EventsTotal      *prometheus.CounterVec
	EvaluationsTotal *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec
	ArchivedTotal    prometheus.Counter
	SweepDuration    prometheus.Histogram
	SweepItemsTotal  *prometheus.CounterVec
	ItemsByState     *prometheus.GaugeVec
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permanence_events_total",
				Help: "Engagement events by type and result.",
			},
			[]string{"type", "result"},
		),
		EvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permanence_evaluations_total",
				Help: "Item evaluations by the scheduler rule that decided the state.",
			},
			[]string{"rule"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permanence_transitions_total",
				Help: "Applied state transitions by source and target state.",
			},
			[]string{"from", "to"},
		),
		ArchivedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "permanence_archived_total",
				Help: "Items written to the milestone archive.",
			},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "permanence_sweep_duration_seconds",
				Help:    "Wall time of batch sweeps.",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
		SweepItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permanence_sweep_items_total",
				Help: "Items processed by sweeps, by outcome.",
			},
			[]string{"outcome"},
		),
		ItemsByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "permanence_items",
				Help: "Items currently in each lifecycle state.",
			},
			[]string{"state"},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permanence_http_requests_total",
				Help: "HTTP requests by route and status code.",
			},
			[]string{"route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "permanence_http_request_duration_seconds",
				Help:    "HTTP request duration by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		registry: reg,
	}

	reg.MustRegister(m.EventsTotal)
	reg.MustRegister(m.EvaluationsTotal)
	reg.MustRegister(m.TransitionsTotal)
	reg.MustRegister(m.ArchivedTotal)
	reg.MustRegister(m.SweepDuration)
	reg.MustRegister(m.SweepItemsTotal)
	reg.MustRegister(m.ItemsByState)
	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.RequestDuration)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordEvent counts an engagement event as accepted or rejected.
func (m *Metrics) RecordEvent(eventType string, accepted bool) {
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	m.EventsTotal.WithLabelValues(eventType, result).Inc()
}

// RecordEvaluation counts one scheduler verdict.
func (m *Metrics) RecordEvaluation(rule string) {
	m.EvaluationsTotal.WithLabelValues(rule).Inc()
}

// RecordTransition counts an applied state change.
func (m *Metrics) RecordTransition(from, to string) {
	m.TransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordArchived counts an archive write.
func (m *Metrics) RecordArchived() {
	m.ArchivedTotal.Inc()
}

// ObserveSweep records a finished sweep.
func (m *Metrics) ObserveSweep(seconds float64, evaluated, failed int) {
	m.SweepDuration.Observe(seconds)
	m.SweepItemsTotal.WithLabelValues("evaluated").Add(float64(evaluated))
	m.SweepItemsTotal.WithLabelValues("failed").Add(float64(failed))
}

// SetItemsByState replaces the per-state item gauge.
func (m *Metrics) SetItemsByState(counts map[string]int) {
	for state, n := range counts {
		m.ItemsByState.WithLabelValues(state).Set(float64(n))
	}
}

// RecordRequest counts an HTTP request and its duration.
func (m *Metrics) RecordRequest(route, status string, seconds float64) {
	m.RequestsTotal.WithLabelValues(route, status).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(seconds)
}
