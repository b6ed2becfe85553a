package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Realtime plane metrics
var (
	// ActiveConnections tracks currently registered WebSocket connections
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_active_connections",
			Help: "Currently registered WebSocket connections",
		},
	)

	// MessagesReceivedTotal counts inbound messages by type
	MessagesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_messages_received_total",
			Help: "Inbound WebSocket messages by type",
		},
		[]string{"type"},
	)

	// EventsDeliveredTotal counts outbound events by event type
	EventsDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_delivered_total",
			Help: "Outbound events delivered to connections by event type",
		},
		[]string{"event"},
	)

	// SendFailuresTotal counts per-connection send failures during delivery
	SendFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_send_failures_total",
			Help: "Per-connection send failures during event delivery",
		},
	)

	// EvictedClientsTotal counts connections removed after a failed send
	EvictedClientsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_evicted_clients_total",
			Help: "Connections evicted after a failed or stalled send",
		},
	)

	// BroadcastDuration tracks fan-out enqueue latency per delivery
	BroadcastDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "realtime_broadcast_duration_seconds",
			Help:    "Time to enqueue one event to all matching connections",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	// MessageSendDuration tracks single WebSocket write latency
	MessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "realtime_message_send_duration_seconds",
			Help:    "WebSocket message write duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// PingFailuresTotal counts failed keepalive pings
	PingFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_ping_failures_total",
			Help: "Failed WebSocket keepalive pings",
		},
	)

	// RateLimitedMessagesTotal counts inbound messages dropped by the limiter
	RateLimitedMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_rate_limited_messages_total",
			Help: "Inbound messages dropped by the per-connection rate limiter",
		},
	)
)

// Cross-instance relay metrics
var (
	// RelayPublishedTotal counts events relayed to peer instances
	RelayPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_published_total",
			Help: "Events published to the cross-instance relay",
		},
	)

	// RelayReceivedTotal counts events received from peer instances
	RelayReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_received_total",
			Help: "Events received from the cross-instance relay",
		},
	)

	// RelayErrorsTotal counts relay publish and decode failures
	RelayErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_errors_total",
			Help: "Relay publish and decode failures",
		},
	)
)
