package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordRateLimitHit(t *testing.T) {
	before := testutil.ToFloat64(RateLimitHitsTotal.WithLabelValues("call_placement"))

	RecordRateLimitHit("call_placement")
	RecordRateLimitHit("call_placement")

	assert.Equal(t, before+2, testutil.ToFloat64(RateLimitHitsTotal.WithLabelValues("call_placement")))
}

func TestRecordRateLimitBlocked(t *testing.T) {
	before := testutil.ToFloat64(RateLimitBlockedTotal.WithLabelValues("call_placement"))

	RecordRateLimitBlocked("call_placement")

	assert.Equal(t, before+1, testutil.ToFloat64(RateLimitBlockedTotal.WithLabelValues("call_placement")))
	// Limiters are independent series; another surface stays untouched.
	assert.Zero(t, testutil.ToFloat64(RateLimitBlockedTotal.WithLabelValues("message_send")))
}
