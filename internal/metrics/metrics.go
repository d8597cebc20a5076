// Package metrics declares the Prometheus instruments for the token
// lifecycle and the webhook pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TokenRefreshesTotal counts refresh attempts by outcome
	// (success, invalid_grant, transient).
	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_refreshes_total",
			Help: "Token refresh attempts by outcome",
		},
		[]string{"outcome"},
	)

	// LoginsTotal counts OAuth callback results by status
	// (success, denied, bad_scope, exchange_failed).
	LoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logins_total",
			Help: "OAuth login callbacks by result",
		},
		[]string{"status"},
	)

	// WebhookDeliveriesTotal counts inbound EventSub deliveries by
	// verification result (accepted, challenge, duplicate, stale,
	// bad_signature, malformed, revocation).
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Inbound EventSub deliveries by verification result",
		},
		[]string{"result"},
	)

	// ReplayGuardEntries tracks the current size of the replay guard.
	ReplayGuardEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "replay_guard_entries",
			Help: "Message ids currently held by the replay guard",
		},
	)

	// BotListSize tracks the number of known bot logins after the last
	// directory refresh.
	BotListSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_list_size",
			Help: "Known bot logins after the last refresh",
		},
	)

	// CommandRequestsTotal counts chat-command API requests by command
	// and status.
	CommandRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "command_requests_total",
			Help: "Chat-command API requests by command and status",
		},
		[]string{"command", "status"},
	)

	// RedisOpsTotal counts Redis commands by operation and status.
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Redis commands by operation and status",
		},
		[]string{"operation", "status"},
	)

	// RedisOpDuration observes Redis command latency per operation.
	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis command latency by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// RedisConnectionErrors counts failed Redis dials.
	RedisConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_connection_errors_total",
			Help: "Failed Redis connection attempts",
		},
	)

	// CircuitBreakerState tracks the Redis circuit breaker state
	// (0=closed, 1=half-open, 2=open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)

	// CircuitBreakerStateChanges counts breaker transitions.
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)
)
