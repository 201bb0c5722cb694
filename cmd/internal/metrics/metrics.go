// Package metrics provides Prometheus metrics for thread resolution and cross-surface sync.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Resolutions counts finished resolutions by path and outcome.
	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_thread_resolutions_total",
			Help: "Total number of thread resolutions by path and outcome",
		},
		[]string{"path", "outcome"},
	)

	// ResolutionDuration tracks end-to-end resolution latency.
	ResolutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inbox_thread_resolution_duration_seconds",
			Help:    "Duration of thread resolutions, including the bounded not-found retry",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"path"},
	)

	// ResolutionRetries counts the bounded not-found retries.
	ResolutionRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inbox_thread_resolution_retries_total",
			Help: "Total number of bounded retries after a conversation fetch miss",
		},
	)

	// ConversationsCreated counts conversations created by the resolver.
	ConversationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_thread_conversations_created_total",
			Help: "Total number of conversations created during resolution",
		},
		[]string{"path"},
	)

	// GuardDropped counts resolution requests the guard refused to start.
	GuardDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_thread_guard_dropped_total",
			Help: "Total number of resolution requests dropped by a resolution guard",
		},
		[]string{"reason"},
	)

	// EventsPublished counts broadcast events by kind.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_broadcast_events_total",
			Help: "Total number of events published on surface buses",
		},
		[]string{"kind"},
	)

	// EventsDropped counts deliveries dropped because a subscriber queue was full.
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_broadcast_dropped_total",
			Help: "Total number of event deliveries dropped under backpressure",
		},
		[]string{"kind"},
	)

	// ActiveSessions tracks connected websocket sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inbox_realtime_active_sessions",
			Help: "Number of currently connected realtime sessions",
		},
	)
)

// RecordResolution records one finished resolution.
func RecordResolution(path, outcome string, d time.Duration) {
	Resolutions.WithLabelValues(path, outcome).Inc()
	ResolutionDuration.WithLabelValues(path).Observe(d.Seconds())
}

// RecordCreate records a conversation created on the given resolution path.
func RecordCreate(path string) {
	ConversationsCreated.WithLabelValues(path).Inc()
}

// RecordGuardDrop records a dropped resolution request.
func RecordGuardDrop(reason string) {
	GuardDropped.WithLabelValues(reason).Inc()
}

// RecordPublish records one published event and the number of dropped deliveries.
func RecordPublish(kind string, dropped int) {
	EventsPublished.WithLabelValues(kind).Inc()
	if dropped > 0 {
		EventsDropped.WithLabelValues(kind).Add(float64(dropped))
	}
}

var (
	// MessagesAccepted counts message_send requests by result.
	MessagesAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_realtime_messages_total",
			Help: "Total number of message_send requests by result",
		},
		[]string{"result"},
	)

	// RoomFanout counts message_new deliveries and drops across rooms.
	RoomFanout = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_realtime_room_fanout_total",
			Help: "Total number of message_new deliveries to room members by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordMessage records one message_send result ("stored", "duplicate", "rejected", "error").
func RecordMessage(result string) {
	MessagesAccepted.WithLabelValues(result).Inc()
}

// RecordFanout records room deliveries.
func RecordFanout(delivered, dropped int) {
	if delivered > 0 {
		RoomFanout.WithLabelValues("delivered").Add(float64(delivered))
	}
	if dropped > 0 {
		RoomFanout.WithLabelValues("dropped").Add(float64(dropped))
	}
}
