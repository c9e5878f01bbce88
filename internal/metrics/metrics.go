// ABOUTME: Prometheus collectors for the parley gateway
// ABOUTME: Registered once at package init via promauto and scraped at /metrics

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Resolution outcomes for RequestsResolved.
const (
	OutcomeAnswered  = "answered"
	OutcomeTimedOut  = "timed_out"
	OutcomeCancelled = "cancelled"
	OutcomeLate      = "late"
	OutcomeUnknown   = "unknown"
	OutcomeRejected  = "rejected"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Live state
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_connections_active",
			Help: "Registered client connections",
		},
	)

	ConversationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_conversations_active",
			Help: "Live conversations in the registry",
		},
	)

	PendingRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_pending_requests",
			Help: "Questions awaiting a human answer",
		},
	)

	// Protocol metrics
	RequestsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_requests_resolved_total",
			Help: "Pending requests by terminal outcome, plus dropped answers",
		},
		[]string{"outcome"},
	)

	ProtocolErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_protocol_errors_total",
			Help: "Inbound frames rejected at the protocol level",
		},
		[]string{"reason"},
	)

	Messages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_messages_total",
			Help: "Websocket frames by direction",
		},
		[]string{"direction"}, // "inbound" or "outbound"
	)
)
