package ws

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricActiveConnections   = "ws_active_connections"
	MetricFramesReceived      = "ws_frames_received_total"
	MetricFramesBroadcast     = "ws_frames_broadcast_total"
	MetricSlowConsumerCloses  = "ws_slow_consumer_closes_total"
	MetricReplayFrames        = "ws_replay_frames_total"
	MetricSubscriberConnected = "ws_subscriber_connected"
	MetricSubscriberMessages  = "ws_subscriber_messages_total"
)

// Metrics contains Prometheus metrics for the realtime node.
// All operations are thread-safe.
type Metrics struct {
	activeConnections   prometheus.Gauge
	framesReceived      *prometheus.CounterVec
	framesBroadcast     *prometheus.CounterVec
	slowConsumerCloses  prometheus.Counter
	replayFrames        prometheus.Counter
	subscriberConnected prometheus.Gauge
	subscriberMessages  prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricActiveConnections,
			Help: "Number of live websocket connections on this node",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricFramesReceived,
			Help: "Total inbound frames by envelope type",
		}, []string{"type"}),
		framesBroadcast: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricFramesBroadcast,
			Help: "Total frames fanned out to local connections by envelope type",
		}, []string{"type"}),
		slowConsumerCloses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSlowConsumerCloses,
			Help: "Total connections closed because their outbound queue filled",
		}),
		replayFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricReplayFrames,
			Help: "Total last-known location frames replayed to late joiners",
		}),
		subscriberConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricSubscriberConnected,
			Help: "Whether the cross-node subscription is established (1) or down (0)",
		}),
		subscriberMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSubscriberMessages,
			Help: "Total envelopes received from peer nodes",
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

// SetActiveConnections records the current local connection count.
func (m *Metrics) SetActiveConnections(n int) {
	m.activeConnections.Set(float64(n))
}

// IncFramesReceived counts one inbound frame of the given type.
func (m *Metrics) IncFramesReceived(frameType string) {
	m.framesReceived.WithLabelValues(frameType).Inc()
}

// IncFramesBroadcast counts one locally fanned-out frame of the given type.
func (m *Metrics) IncFramesBroadcast(frameType string) {
	m.framesBroadcast.WithLabelValues(frameType).Inc()
}

// IncSlowConsumerCloses counts one forced slow-consumer close.
func (m *Metrics) IncSlowConsumerCloses() {
	m.slowConsumerCloses.Inc()
}

// AddReplayFrames counts replayed location frames.
func (m *Metrics) AddReplayFrames(n int) {
	m.replayFrames.Add(float64(n))
}

// SetSubscriberConnected flips the cross-node subscription health gauge.
func (m *Metrics) SetSubscriberConnected(up bool) {
	if up {
		m.subscriberConnected.Set(1)
	} else {
		m.subscriberConnected.Set(0)
	}
}

// IncSubscriberMessages counts one envelope received from a peer node.
func (m *Metrics) IncSubscriberMessages() {
	m.subscriberMessages.Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.activeConnections,
		m.framesReceived,
		m.framesBroadcast,
		m.slowConsumerCloses,
		m.replayFrames,
		m.subscriberConnected,
		m.subscriberMessages,
	}
}
