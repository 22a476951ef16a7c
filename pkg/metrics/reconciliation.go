package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconciliationMetrics tracks reconciliation outcomes per entry point.
type ReconciliationMetrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewReconciliationMetrics registers the reconciliation metrics on reg.
func NewReconciliationMetrics(reg prometheus.Registerer) *ReconciliationMetrics {
	if reg == nil {
		return &ReconciliationMetrics{}
	}
	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_total",
		Help: "Reconciliation events by source and outcome.",
	}, []string{"source", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reconciliation_duration_seconds",
		Help:    "Time spent reconciling a single event.",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})
	reg.MustRegister(total, duration)
	return &ReconciliationMetrics{total: total, duration: duration}
}

// Observe records one reconciliation. outcome is applied, rejected, replayed
// or transient.
func (r *ReconciliationMetrics) Observe(source, outcome string, elapsed time.Duration) {
	if r == nil || r.total == nil {
		return
	}
	r.total.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
	r.duration.WithLabelValues(normalizeLabel(source)).Observe(elapsed.Seconds())
}
