package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Call metrics for monitoring session lifecycle and negotiation outcomes
var (
	// Session lifecycle metrics
	CallSessionCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_session_created_total",
		Help: "Total number of call sessions created",
	}, []string{"call_type"})

	CallSessionOutcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_session_outcome_total",
		Help: "Total number of call sessions by terminal status",
	}, []string{"outcome"}) // "ended", "declined", "missed"

	CallSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "call_sessions_active",
		Help: "Current number of sessions in ringing or active state",
	})

	// Duration metrics
	CallRingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "call_ring_duration_seconds",
		Help:    "Time from session creation to answer, decline or timeout",
		Buckets: []float64{1, 2, 5, 10, 15, 30, 45, 60},
	}, []string{"outcome"})

	CallSessionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "call_session_duration_seconds",
		Help:    "Connected call duration in seconds",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"call_type"})

	// Ring monitor metrics
	CallRingTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_ring_timeout_total",
		Help: "Total number of ringing sessions marked missed by the ring monitor",
	})

	// Placement rejections
	CallPlacementRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_placement_rejected_total",
		Help: "Total number of call placements rejected before a session was created",
	}, []string{"reason"}) // "callee_busy", "caller_busy", "rate_limited", "not_found"

	// Media quality metrics
	CallInboundPacketGapTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_inbound_packet_gap_total",
		Help: "Total RTP sequence numbers skipped on inbound tracks",
	})

	CallKeyframeRequestTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_keyframe_request_total",
		Help: "Total PLI keyframe requests sent to remote video senders",
	})
)

// RecordCallPlaced records a newly created call session
func RecordCallPlaced(callType string) {
	CallSessionCreatedTotal.WithLabelValues(callType).Inc()
	CallSessionsActive.Inc()
}

// RecordCallOutcome records a session reaching a terminal status
func RecordCallOutcome(outcome string, ringDuration time.Duration) {
	CallSessionOutcomeTotal.WithLabelValues(outcome).Inc()
	CallSessionsActive.Dec()
	CallRingDuration.WithLabelValues(outcome).Observe(ringDuration.Seconds())
}

// RecordCallDuration records how long a connected call lasted
func RecordCallDuration(callType string, duration time.Duration) {
	CallSessionDuration.WithLabelValues(callType).Observe(duration.Seconds())
}

// RecordRingTimeout records a ringing session the monitor marked missed
func RecordRingTimeout() {
	CallRingTimeoutTotal.Inc()
}

// RecordCallPlacementRejected records a placement rejected before creation
func RecordCallPlacementRejected(reason string) {
	CallPlacementRejectedTotal.WithLabelValues(reason).Inc()
}
