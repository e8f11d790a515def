package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconcileMetrics records the outcome of background cart reconciliation.
type ReconcileMetrics struct {
	duration *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
	inflight prometheus.Gauge
}

// NewReconcileMetrics registers the reconciliation metrics on the provided registerer.
func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	if reg == nil {
		return &ReconcileMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cart_reconcile_duration_seconds",
		Help:    "Duration of cart reconciliation calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_reconcile_total",
		Help: "Cart reconciliation outcomes by mutation kind.",
	}, []string{"kind", "outcome"})
	inflight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cart_reconcile_inflight",
		Help: "Reconciliation tasks currently holding a worker slot.",
	})
	reg.MustRegister(duration, outcomes, inflight)
	return &ReconcileMetrics{
		duration: duration,
		outcomes: outcomes,
		inflight: inflight,
	}
}

// ObserveDuration records how long one backend call took.
func (m *ReconcileMetrics) ObserveDuration(kind string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(kind)).Observe(duration.Seconds())
}

// IncOutcome counts a finished reconciliation (confirmed, rolled_back, superseded).
func (m *ReconcileMetrics) IncOutcome(kind, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

func (m *ReconcileMetrics) TaskStarted() {
	if m == nil || m.inflight == nil {
		return
	}
	m.inflight.Inc()
}

func (m *ReconcileMetrics) TaskFinished() {
	if m == nil || m.inflight == nil {
		return
	}
	m.inflight.Dec()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
