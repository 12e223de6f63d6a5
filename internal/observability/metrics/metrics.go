package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters/histograms for provider sync and booking flows.
type SchedulingMetrics struct {
	providerRequests *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	rateLimitWaits   prometheus.Counter
	rateLimitDenied  prometheus.Counter
	cacheLookups     *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	webhookEvents    *prometheus.CounterVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "examsched",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Total scheduling provider API calls",
		}, []string{"operation", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "examsched",
			Subsystem: "provider",
			Name:      "request_latency_seconds",
			Help:      "Latency of scheduling provider API calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		rateLimitWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "examsched",
			Subsystem: "provider",
			Name:      "rate_limit_waits_total",
			Help:      "Calls delayed until the next per-second window",
		}),
		rateLimitDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "examsched",
			Subsystem: "provider",
			Name:      "rate_limit_exceeded_total",
			Help:      "Calls rejected because the hourly budget was exhausted",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "examsched",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Availability cache lookups by result",
		}, []string{"cache", "result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "examsched",
			Subsystem: "bookings",
			Name:      "transitions_total",
			Help:      "Accepted booking progress transitions",
		}, []string{"from", "to"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "examsched",
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Inbound scheduling provider webhooks",
		}, []string{"action", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.providerRequests,
		m.providerLatency,
		m.rateLimitWaits,
		m.rateLimitDenied,
		m.cacheLookups,
		m.transitions,
		m.webhookEvents,
	)
	return m
}

func (m *SchedulingMetrics) ObserveProviderCall(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(operation, outcome).Inc()
	m.providerLatency.WithLabelValues(operation).Observe(seconds)
}

func (m *SchedulingMetrics) ObserveRateLimitWait() {
	if m == nil {
		return
	}
	m.rateLimitWaits.Inc()
}

func (m *SchedulingMetrics) ObserveRateLimitExceeded() {
	if m == nil {
		return
	}
	m.rateLimitDenied.Inc()
}

func (m *SchedulingMetrics) ObserveCacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

func (m *SchedulingMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *SchedulingMetrics) ObserveWebhook(action, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(action, outcome).Inc()
}
