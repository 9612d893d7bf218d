package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricExpiredSessions   = "supervisor_expired_sessions_total"
	MetricStaleParticipants = "supervisor_stale_participants_total"
	MetricSweepErrors       = "supervisor_sweep_errors_total"
)

// Metrics contains Prometheus metrics for the reconciliation sweeps.
// All operations are thread-safe.
type Metrics struct {
	expiredSessions   prometheus.Counter
	staleParticipants prometheus.Counter
	sweepErrors       prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		expiredSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricExpiredSessions,
			Help: "Total sessions ended by the idle sweep",
		}),
		staleParticipants: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricStaleParticipants,
			Help: "Total participants deactivated by the liveness sweep",
		}),
		sweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSweepErrors,
			Help: "Total sweep iterations that failed",
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncExpiredSessions counts one auto-expired session.
func (m *Metrics) IncExpiredSessions() {
	m.expiredSessions.Inc()
}

// IncStaleParticipants counts one deactivated stale participant.
func (m *Metrics) IncStaleParticipants() {
	m.staleParticipants.Inc()
}

// IncSweepErrors counts one failed sweep.
func (m *Metrics) IncSweepErrors() {
	m.sweepErrors.Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.expiredSessions,
		m.staleParticipants,
		m.sweepErrors,
	}
}
