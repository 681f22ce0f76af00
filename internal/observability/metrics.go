package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tealcab"

var (
	TripsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "trips_created_total", Help: "Trips added to the store by source"},
		[]string{"source"},
	)

	TripsAccepted      = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "trips_accepted_total", Help: "Successful trip acceptances"})
	TripAcceptRejected = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "trip_accept_rejected_total", Help: "Accepts rejected because the trip was no longer pending"})
	ChatMessages       = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "chat_messages_total", Help: "Chat messages appended by sender role"}, []string{"role"})
	SessionsActive     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "sessions_active", Help: "Live role-router sessions"})
	WSConnections      = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "ws_connections", Help: "Open view stream websockets"})
	EventPublishErrors = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "events_publish_errors_total", Help: "Trip events that failed to publish"})

	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "gateway_requests_total", Help: "AI gateway calls by outcome"},
		[]string{"gateway", "outcome"},
	)
	GatewayLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Name: "gateway_latency_seconds", Help: "AI gateway call latency", Buckets: prometheus.DefBuckets},
		[]string{"gateway"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Gateway outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeCacheHit  = "cache_hit"
	OutcomeDisabled  = "disabled"
	OutcomeError     = "error"
	OutcomeMalformed = "malformed"
)
