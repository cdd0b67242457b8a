// Package metrics provides Prometheus metrics for sentinel.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "sentinel"
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks concurrent HTTP requests.
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)
)

// Rule engine metrics
var (
	// EngineEvaluationsTotal counts trigger contexts evaluated.
	EngineEvaluationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "evaluations_total",
			Help:      "Total trigger contexts evaluated",
		},
	)

	// EngineMatchesTotal counts evaluations that selected a rule.
	EngineMatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "matches_total",
			Help:      "Total evaluations that selected a rule",
		},
	)

	// EngineSuppressedTotal counts matching candidates skipped because of cooldown.
	EngineSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "suppressed_total",
			Help:      "Total matching rules suppressed by cooldown",
		},
	)

	// EngineMalformedTotal counts rejected trigger contexts.
	EngineMalformedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "malformed_total",
			Help:      "Total malformed trigger contexts",
		},
	)

	// RulesLoaded tracks the size of the active rule snapshot.
	RulesLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "rules_loaded",
			Help:      "Number of rules in the active snapshot",
		},
	)
)

// Alert metrics
var (
	// AlertsCreatedTotal counts alerts raised, by rule type.
	AlertsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "created_total",
			Help:      "Total alerts raised",
		},
		[]string{"rule_type"},
	)

	// AlertTransitionsTotal counts successful lifecycle transitions.
	AlertTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "transitions_total",
			Help:      "Total alert lifecycle transitions",
		},
		[]string{"to"},
	)

	// AlertConflictsTotal counts rejected transitions.
	AlertConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "conflicts_total",
			Help:      "Total rejected alert transitions",
		},
	)
)

// Bus metrics
var (
	// BusPublishedTotal counts messages published, by topic.
	BusPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "published_total",
			Help:      "Total messages published to the bus",
		},
		[]string{"topic"},
	)

	// BusPublishErrors counts failed publishes.
	BusPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "publish_errors_total",
			Help:      "Total failed bus publishes",
		},
		[]string{"topic"},
	)

	// BridgeRelayedTotal counts messages relayed from the bus to the hub.
	BridgeRelayedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "relayed_total",
			Help:      "Total messages relayed from the bus to connected clients",
		},
		[]string{"topic"},
	)

	// BridgeDroppedTotal counts messages dropped because they were not valid JSON.
	BridgeDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "dropped_total",
			Help:      "Total malformed bus messages dropped",
		},
		[]string{"topic"},
	)

	// BridgeResubscribesTotal counts resubscribe attempts.
	BridgeResubscribesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "resubscribes_total",
			Help:      "Total bus resubscribe attempts",
		},
		[]string{"topic"},
	)

	// BridgeHealthy is 1 while every route is subscribed and below the escalation threshold.
	BridgeHealthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "healthy",
			Help:      "Whether the bus bridge is healthy (1) or escalated (0)",
		},
	)
)

// Hub metrics
var (
	// HubConnections tracks live connections by channel.
	HubConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "connections",
			Help:      "Number of subscribed connections",
		},
		[]string{"channel"},
	)

	// HubMessagesSentTotal counts messages handed to connections.
	HubMessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "messages_sent_total",
			Help:      "Total messages delivered to connections",
		},
		[]string{"channel"},
	)

	// HubMessagesDroppedTotal counts queued messages evicted by slow clients.
	HubMessagesDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "messages_dropped_total",
			Help:      "Total queued messages dropped for slow clients",
		},
	)

	// HubDeliveryFailuresTotal counts connections removed after a failed send.
	HubDeliveryFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "delivery_failures_total",
			Help:      "Total failed deliveries that removed a connection",
		},
		[]string{"channel"},
	)
)

// Rate limit metrics
var (
	// RateLimitTotal counts rate limit decisions.
	RateLimitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "requests_total",
			Help:      "Total rate limit decisions",
		},
		[]string{"result"}, // allowed, rejected, error
	)
)

// Info metric
var (
	// BuildInfo exposes build information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
