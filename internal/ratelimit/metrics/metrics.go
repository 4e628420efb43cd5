package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	AdmissionDecisions   *prometheus.CounterVec
	AdmissionStoreErrors *prometheus.CounterVec
	AdmissionLatency     prometheus.Histogram
	StoreDegraded        prometheus.Gauge
	SweepRunsTotal       *prometheus.CounterVec
	SweepRemovedTotal    prometheus.Counter
	SweepDurationSeconds prometheus.Histogram
}

// New registers the admission metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the metrics with reg. Tests pass a fresh
// prometheus.NewRegistry so repeated construction does not collide.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AdmissionDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "framewise_ratelimit_decisions_total",
			Help: "Admission decisions by operation class and outcome",
		}, []string{"class", "outcome"}),
		AdmissionStoreErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "framewise_ratelimit_store_errors_total",
			Help: "Window store failures by operation class; requests fail open",
		}, []string{"class"}),
		AdmissionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "framewise_ratelimit_check_duration_seconds",
			Help:    "Latency of a single admission check",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
		StoreDegraded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "framewise_ratelimit_store_degraded",
			Help: "1 while admissions are counted by the local fallback store",
		}),
		SweepRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "framewise_ratelimit_sweep_runs_total",
			Help: "Expired window sweeps by status",
		}, []string{"status"}),
		SweepRemovedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "framewise_ratelimit_sweep_removed_total",
			Help: "Expired windows removed by the sweeper",
		}),
		SweepDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "framewise_ratelimit_sweep_duration_seconds",
			Help: "Duration of sweep runs in seconds",
		}),
	}
}

func (m *Metrics) ObserveDecision(class string, allowed bool) {
	outcome := "rejected"
	if allowed {
		outcome = "admitted"
	}
	m.AdmissionDecisions.WithLabelValues(class, outcome).Inc()
}

func (m *Metrics) IncStoreErrors(class string) {
	m.AdmissionStoreErrors.WithLabelValues(class).Inc()
}

func (m *Metrics) ObserveLatency(seconds float64) {
	m.AdmissionLatency.Observe(seconds)
}

func (m *Metrics) SetDegraded(degraded bool) {
	if degraded {
		m.StoreDegraded.Set(1)
		return
	}
	m.StoreDegraded.Set(0)
}

func (m *Metrics) ObserveSweep(removed int64, seconds float64, err error) {
	m.SweepDurationSeconds.Observe(seconds)
	if err != nil {
		m.SweepRunsTotal.WithLabelValues("failed").Inc()
		return
	}
	m.SweepRunsTotal.WithLabelValues("ok").Inc()
	m.SweepRemovedTotal.Add(float64(removed))
}
