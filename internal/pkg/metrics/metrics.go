// Package metrics exposes the Prometheus collectors shared by the
// reconciler, the estimate cache and the totals builder. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the reconciler's collectors.
type Metrics struct {
	Notifications *prometheus.CounterVec
	EstimateCache *prometheus.CounterVec
	Corrections   *prometheus.CounterVec
	Latency       *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reconciler",
			Name:      "notifications_total",
			Help:      "Reconciler operations by outcome.",
		}, []string{"operation", "outcome"}),
		EstimateCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reconciler",
			Name:      "estimate_cache_total",
			Help:      "Shipping/tax estimate lookups by result.",
		}, []string{"result"}),
		Corrections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reconciler",
			Name:      "totals_corrections_total",
			Help:      "Totals corrections and unreconciled mismatches.",
		}, []string{"kind"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reconciler",
			Name:      "operation_duration_ms",
			Help:      "Reconciler operation latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"operation"}),
	}
	reg.MustRegister(m.Notifications, m.EstimateCache, m.Corrections, m.Latency)
	return m
}

// Outcome counts one finished operation by outcome.
func (m *Metrics) Outcome(operation, outcome string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(operation, outcome).Inc()
}

// Cache counts an estimate lookup by result: hit, miss or degraded.
func (m *Metrics) Cache(result string) {
	if m == nil {
		return
	}
	m.EstimateCache.WithLabelValues(result).Inc()
}

// Correction counts a totals correction or unreconciled mismatch.
func (m *Metrics) Correction(kind string) {
	if m == nil {
		return
	}
	m.Corrections.WithLabelValues(kind).Inc()
}

// ObserveMS records an operation's latency in milliseconds.
func (m *Metrics) ObserveMS(operation string, ms float64) {
	if m == nil {
		return
	}
	m.Latency.WithLabelValues(operation).Observe(ms)
}

// Handler serves the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves a specific gatherer, used when a private registry is in play.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
