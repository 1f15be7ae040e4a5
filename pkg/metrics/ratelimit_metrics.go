package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rate limiter metrics, labeled by the limited surface (e.g.
// "call_placement").
var (
	RateLimitHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limit_hits_total",
		Help: "Total number of requests counted against a rate limit window",
	}, []string{"limiter"})

	RateLimitBlockedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limit_blocked_total",
		Help: "Total number of requests blocked by rate limiting",
	}, []string{"limiter"})
)

// RecordRateLimitHit records a request counted against a limiter window
func RecordRateLimitHit(limiter string) {
	RateLimitHitsTotal.WithLabelValues(limiter).Inc()
}

// RecordRateLimitBlocked records a request rejected by a limiter
func RecordRateLimitBlocked(limiter string) {
	RateLimitBlockedTotal.WithLabelValues(limiter).Inc()
}
