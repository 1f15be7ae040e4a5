package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Signaling metrics for monitoring the call feed
var (
	// Feed write metrics
	SignalAppendedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_appended_total",
		Help: "Total number of signals appended to the feed",
	}, []string{"signal_type"})

	SignalPublishFailureTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signal_publish_failure_total",
		Help: "Total number of feed fan-out publish failures",
	})

	// Catch-up metrics
	SignalFetchPendingBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "signal_fetch_pending_batch_size",
		Help:    "Number of unprocessed signals returned per catch-up fetch",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
	})

	// Receiver drop metrics. At-least-once delivery makes every one of
	// these an expected event, not an error.
	SignalDuplicateDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signal_duplicate_dropped_total",
		Help: "Total number of signals dropped because they were already processed",
	})

	SignalSelfEchoDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signal_self_echo_dropped_total",
		Help: "Total number of own signals dropped on receipt",
	})

	SignalRacingOfferDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signal_racing_offer_dropped_total",
		Help: "Total number of remote offers dropped by the initiating side",
	})

	SignalStaleCandidateDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signal_stale_candidate_dropped_total",
		Help: "Total number of ICE candidates dropped for arriving before a remote description",
	})

	// Subscription metrics
	SignalSubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signal_subscriptions_active",
		Help: "Current number of active feed subscriptions",
	})

	// Gateway metrics
	GatewayConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "call_gateway_connections_active",
		Help: "Current number of open call gateway WebSocket connections",
	})

	GatewayConnectionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_gateway_connection_total",
		Help: "Total number of call gateway connection attempts",
	}, []string{"status"}) // "accepted", "unauthorized", "at_capacity", "upgrade_failed"

	GatewayFrameDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_gateway_frame_dropped_total",
		Help: "Total number of server frames dropped before delivery",
	}, []string{"reason"}) // "slow_client", "closed"
)
