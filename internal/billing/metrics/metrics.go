package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	EventsTotal        *prometheus.CounterVec
	UnattributedTotal  *prometheus.CounterVec
	SignatureFailures  prometheus.Counter
	GateDuration       prometheus.Histogram
	TxLockWaitDuration prometheus.Histogram
}

// New registers the billing metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "framewise_billing_events_total",
			Help: "Webhook events by provider type and gate outcome",
		}, []string{"type", "outcome"}),
		UnattributedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "framewise_billing_events_unattributed_total",
			Help: "Events processed without a resolvable tenant",
		}, []string{"type"}),
		SignatureFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "framewise_billing_signature_failures_total",
			Help: "Webhook deliveries rejected for a missing, stale or wrong signature",
		}),
		GateDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "framewise_billing_gate_duration_seconds",
			Help:    "Time spent applying one webhook event",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		TxLockWaitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "framewise_billing_tx_lock_wait_seconds",
			Help:    "Time spent waiting for the in-memory event shard lock",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}
}

func (m *Metrics) ObserveEvent(eventType, outcome string, d time.Duration) {
	m.EventsTotal.WithLabelValues(eventType, outcome).Inc()
	m.GateDuration.Observe(d.Seconds())
}

func (m *Metrics) IncUnattributed(eventType string) {
	m.UnattributedTotal.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncSignatureFailure() {
	m.SignatureFailures.Inc()
}

func (m *Metrics) ObserveLockWait(d time.Duration) {
	m.TxLockWaitDuration.Observe(d.Seconds())
}
