package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gopherchat"

var (
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections_active",
		Help:      "Live real-time connections.",
	})

	ClientsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_clients_dropped_total",
		Help:      "Connections closed because their send queue was full.",
	})

	EventsBroadcast = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_broadcast_total",
		Help:      "Events fanned out, by event type.",
	}, []string{"type"})

	MessagesCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_created_total",
		Help:      "Messages accepted through submission, by chat scope.",
	}, []string{"scope"})

	AITurns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ai_turns_total",
		Help:      "Completed AI turns, by outcome.",
	}, []string{"outcome"})

	AITurnDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ai_turn_duration_seconds",
		Help:      "Wall time from placeholder creation to final update.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})
)

const (
	OutcomeFinalized = "finalized"
	OutcomeFailed    = "failed"
	OutcomeAborted   = "aborted"
)

func init() {
	prometheus.MustRegister(ConnectionsActive)
	prometheus.MustRegister(ClientsDropped)
	prometheus.MustRegister(EventsBroadcast)
	prometheus.MustRegister(MessagesCreated)
	prometheus.MustRegister(AITurns)
	prometheus.MustRegister(AITurnDuration)
}
