// Package metrics exposes dispatch counters and latencies to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "genrouter"

// Request outcomes.
const (
	OutcomeServed    = "served"
	OutcomeCached    = "cached"
	OutcomeInvalid   = "invalid"
	OutcomeRejected  = "rejected"
	OutcomeExhausted = "exhausted"
	OutcomeDeadline  = "deadline"
	OutcomeCanceled  = "canceled"
)

// Metrics holds the router's collectors. A nil *Metrics records nothing.
type Metrics struct {
	requests      *prometheus.CounterVec
	providerCalls *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	tokens        *prometheus.CounterVec
	cost          *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer to
// serve them from promhttp.Handler().
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Generation requests by task type and outcome.",
		}, []string{"task_type", "outcome"}),
		providerCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Provider calls by provider and result. Result is \"success\" or the error type.",
		}, []string{"provider", "result"}),
		callDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Latency of individual provider calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15, 25},
		}, []string{"provider"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens consumed by provider and direction.",
		}, []string{"provider", "direction"}),
		cost: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "Accumulated spend in USD by provider.",
		}, []string{"provider"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by result.",
		}, []string{"result"}),
	}
}

// Request counts one finished dispatch.
func (m *Metrics) Request(taskType, outcome string) {
	if m == nil {
		return
	}
	if taskType == "" {
		taskType = "unknown"
	}
	m.requests.WithLabelValues(taskType, outcome).Inc()
}

// ProviderCall records one candidate attempt.
func (m *Metrics) ProviderCall(provider, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, result).Inc()
	m.callDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// Usage records the tokens and cost of a served completion.
func (m *Metrics) Usage(provider string, inputTokens, outputTokens int, costUSD float64) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues(provider, "input").Add(float64(inputTokens))
	m.tokens.WithLabelValues(provider, "output").Add(float64(outputTokens))
	m.cost.WithLabelValues(provider).Add(costUSD)
}

// CacheLookup records a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
