package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay metrics for monitoring signaling fanout and call history persistence
var (
	RelayConnectionTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_websocket_connection_total",
		Help: "Total number of accepted relay WebSocket connections",
	})

	RelayDisconnectionTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_websocket_disconnection_total",
		Help: "Total number of closed relay WebSocket connections",
	})

	RelayConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_websocket_connections_active",
		Help: "Current number of connected relay clients",
	})

	RelaySignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_signals_total",
		Help: "Total number of signaling envelopes routed",
	}, []string{"type"})

	RelayDroppedSendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_dropped_sends_total",
		Help: "Total number of envelopes dropped because a client send buffer was full",
	})

	RelayRoomSubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_room_subscriptions_active",
		Help: "Current number of active room Pub/Sub subscriptions",
	})

	RelayMissedRingsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_missed_rings_total",
		Help: "Total number of rings not deliverable because the member was offline",
	})

	CallRecordsPersistedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_records_persisted_total",
		Help: "Total number of call history records written",
	}, []string{"status"})
)
