package metrics

import "github.com/prometheus/client_golang/prometheus"

// ResilienceMetrics tracks retries, fallbacks and snapshot cache traffic.
type ResilienceMetrics struct {
	attempts  *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
	cache     *prometheus.CounterVec
}

func NewResilienceMetrics(reg prometheus.Registerer) *ResilienceMetrics {
	if reg == nil {
		return &ResilienceMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "resilience_attempts_total",
		Help: "Attempts made against the commerce backend by operation and result.",
	}, []string{"operation", "result"})
	fallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "resilience_fallbacks_total",
		Help: "Fallback values served by operation and source.",
	}, []string{"operation", "source"})
	cache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snapshot_cache_total",
		Help: "Snapshot cache lookups by result.",
	}, []string{"result"})
	reg.MustRegister(attempts, fallbacks, cache)
	return &ResilienceMetrics{
		attempts:  attempts,
		fallbacks: fallbacks,
		cache:     cache,
	}
}

// IncAttempt counts one attempt; result is success, retryable or fatal.
func (m *ResilienceMetrics) IncAttempt(operation, result string) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.WithLabelValues(normalizeLabel(operation), normalizeLabel(result)).Inc()
}

func (m *ResilienceMetrics) IncFallback(operation, source string) {
	if m == nil || m.fallbacks == nil {
		return
	}
	m.fallbacks.WithLabelValues(normalizeLabel(operation), normalizeLabel(source)).Inc()
}

// IncCache counts a snapshot lookup; result is hit, miss, expired or invalid.
func (m *ResilienceMetrics) IncCache(result string) {
	if m == nil || m.cache == nil {
		return
	}
	m.cache.WithLabelValues(normalizeLabel(result)).Inc()
}
