package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RelayMetrics holds the prometheus collectors for the signaling relay.
type RelayMetrics struct {
	ActiveParticipants prometheus.Gauge
	ActiveProctors     prometheus.Gauge
	SignalFrames       *prometheus.CounterVec
	ActivityEvents     *prometheus.CounterVec
	Violations         prometheus.Counter
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	factory := promauto.With(reg)
	return &RelayMetrics{
		ActiveParticipants: factory.NewGauge(prometheus.GaugeOpts{
			Name: "proctor_relay_active_participants",
			Help: "Participant sockets currently connected.",
		}),
		ActiveProctors: factory.NewGauge(prometheus.GaugeOpts{
			Name: "proctor_relay_active_proctors",
			Help: "Proctor sockets currently connected.",
		}),
		SignalFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_relay_signal_frames_total",
			Help: "Signaling frames relayed, by frame type.",
		}, []string{"type"}),
		ActivityEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_relay_activity_events_total",
			Help: "Activity events received from participants, by event type.",
		}, []string{"type"}),
		Violations: factory.NewCounter(prometheus.CounterOpts{
			Name: "proctor_relay_fullscreen_violations_total",
			Help: "exit_fullscreen events observed across all sessions.",
		}),
	}
}
