// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WSConnectionsActive tracks open websocket connections.
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Number of open websocket connections",
		},
	)

	// UsersOnline tracks distinct user ids with at least one open connection.
	UsersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_users_online",
			Help: "Number of distinct users currently online",
		},
	)

	// AuthFailuresTotal tracks refused handshakes.
	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_auth_failures_total",
			Help: "Refused websocket handshakes",
		},
		[]string{"reason"},
	)

	// MessagesTotal tracks persisted chat messages.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total chat messages persisted",
		},
		[]string{"sender_type"},
	)

	// RejectionsTotal tracks chat events that were refused before persistence.
	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_rejections_total",
			Help: "Chat events refused before persistence",
		},
		[]string{"reason"},
	)

	// RateLimitErrorsTotal tracks rate limiter storage failures (fail closed).
	RateLimitErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_store_errors_total",
			Help: "Rate limiter storage failures",
		},
		[]string{"kind"},
	)

	// CacheErrorsTotal tracks swallowed context cache failures.
	CacheErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "context_cache_errors_total",
			Help: "Context cache failures swallowed on the chat path",
		},
		[]string{"op"},
	)

	// BotInvocationDuration tracks bot invocation latency.
	BotInvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bot_invocation_duration_seconds",
			Help:    "Bot invocation duration",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"bot", "status"},
	)

	// BotInvocationsInFlight tracks pending bot invocations.
	BotInvocationsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_invocations_in_flight",
			Help: "Bot invocations currently pending",
		},
	)

	// SessionsEndedTotal tracks session timer firings.
	SessionsEndedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_sessions_ended_total",
			Help: "Inactivity session endings by outcome",
		},
		[]string{"outcome"},
	)

	// RelayEventsTotal tracks roster/moderation events relayed to sockets.
	RelayEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Roster and moderation events relayed to connections",
		},
		[]string{"event"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordBotInvocation records the outcome of one bot invocation.
func RecordBotInvocation(bot, status string, duration float64) {
	BotInvocationDuration.WithLabelValues(bot, status).Observe(duration)
}
