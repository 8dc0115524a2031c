// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_api_requests_total",
			Help: "HTTP requests by method, route pattern and status code",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomchat_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Auth
	SignupsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomchat_signups_total",
		Help: "Accounts created",
	})

	LoginsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomchat_logins_total",
		Help: "Successful logins",
	})

	// Chat core
	MessagesAppendedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_messages_appended_total",
			Help: "Messages appended to room logs by kind",
		},
		[]string{"kind"},
	)

	MessagesTrimmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomchat_messages_trimmed_total",
		Help: "Messages dropped from the head of a room log by the length bound",
	})

	// Relay
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roomchat_relay_connections",
		Help: "Open live connections",
	})

	IdentifiedConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roomchat_relay_identified_connections",
		Help: "Live connections that have sent join_user",
	})

	RelayEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_relay_events_total",
			Help: "Client events handled by the relay, by event and outcome",
		},
		[]string{"event", "outcome"},
	)

	RelayDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_relay_dropped_total",
			Help: "Outbound relay payloads dropped, by reason",
		},
		[]string{"reason"},
	)

	RelayQueueDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "roomchat_relay_room_queue_depth",
		Help:    "Depth of a room fan-out queue observed at enqueue time",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64, 128, 256},
	})
)

// RecordAPIRequest records one finished HTTP request.
func RecordAPIRequest(method, route, status string, d time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordRelayEvent counts one client event by outcome (ok, dropped, invalid, denied).
func RecordRelayEvent(event, outcome string) {
	RelayEventsTotal.WithLabelValues(event, outcome).Inc()
}
