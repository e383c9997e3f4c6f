// Package observability provides Prometheus instrumentation for the
// inference router.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the router's Prometheus collectors.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	tokensStreamed  prometheus.Counter
	dispatchSeconds *prometheus.HistogramVec
}

// New registers the router metrics with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inferd",
			Name:      "requests_total",
			Help:      "Completion requests by provider and terminal outcome.",
		}, []string{"provider", "outcome"}),
		tokensStreamed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "inferd",
			Name:      "tokens_streamed_total",
			Help:      "Token fragments forwarded to sinks.",
		}),
		dispatchSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "inferd",
			Name:      "dispatch_duration_seconds",
			Help:      "Wall time from dispatch start to stream end.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"provider"}),
	}
}

// ObserveRequest records one finished request.
func (m *Metrics) ObserveRequest(provider, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(provider, outcome).Inc()
	m.dispatchSeconds.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// ObserveToken records one forwarded token fragment.
func (m *Metrics) ObserveToken() {
	if m == nil {
		return
	}
	m.tokensStreamed.Inc()
}
