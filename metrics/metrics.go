package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the registration service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	RegistrationsCreated  *prometheus.CounterVec
	RegistrationConflicts prometheus.Counter
	Transitions           *prometheus.CounterVec
	SyncAttempts          *prometheus.CounterVec
	SyncDuration          prometheus.Histogram
	SyncBatchSize         prometheus.Gauge
}

// New creates and registers the metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RegistrationsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "registration_created_total",
			Help: "Registrations created, by type",
		}, []string{"type"}),
		RegistrationConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "registration_conflicts_total",
			Help: "Registration writes rejected by the duplicate or version check",
		}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "registration_transitions_total",
			Help: "Committed registration state transitions, by target status",
		}, []string{"status"}),
		SyncAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "registration_sync_attempts_total",
			Help: "Propagation attempts, by outcome (synced, retry, failed, skipped)",
		}, []string{"outcome"}),
		SyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "registration_sync_duration_seconds",
			Help:    "Latency of a single propagation push",
			Buckets: prometheus.DefBuckets,
		}),
		SyncBatchSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "registration_sync_batch_size",
			Help: "Trackers picked up by the last dispatcher tick",
		}),
	}
}

func (m *Metrics) IncRegistrationCreated(registrationType string) {
	if m == nil {
		return
	}
	m.RegistrationsCreated.WithLabelValues(registrationType).Inc()
}

func (m *Metrics) IncConflict() {
	if m == nil {
		return
	}
	m.RegistrationConflicts.Inc()
}

func (m *Metrics) IncTransition(status string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveSync(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.SyncAttempts.WithLabelValues(outcome).Inc()
	if seconds > 0 {
		m.SyncDuration.Observe(seconds)
	}
}

func (m *Metrics) SetSyncBatchSize(n int) {
	if m == nil {
		return
	}
	m.SyncBatchSize.Set(float64(n))
}
