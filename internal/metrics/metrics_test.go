package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint", "200")
		ObserveBooking("booked", time.Now())
		IncDecision("approve")
	})

	before := testutil.ToFloat64(ledgerOps.WithLabelValues("withdrawal", "insufficient_balance"))
	IncLedger("withdrawal", "insufficient_balance")
	assert.Equal(t, before+1, testutil.ToFloat64(ledgerOps.WithLabelValues("withdrawal", "insufficient_balance")))

	conflicts := testutil.ToFloat64(bookingOutcomes.WithLabelValues("slot_conflict"))
	ObserveBooking("slot_conflict", time.Now())
	assert.Equal(t, conflicts+1, testutil.ToFloat64(bookingOutcomes.WithLabelValues("slot_conflict")))
}
