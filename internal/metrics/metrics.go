package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "therapycore"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint and status.",
		},
		[]string{"endpoint", "status"},
	)

	bookingOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_outcomes_total",
			Help:      "Booking attempts by result code.",
		},
		[]string{"result"},
	)

	bookingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "booking_duration_seconds",
			Help:      "Time spent committing a booking.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	ledgerOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_operations_total",
			Help:      "Ledger writes by operation and result.",
		},
		[]string{"operation", "result"},
	)

	applicationDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "application_decisions_total",
			Help:      "Application review decisions.",
		},
		[]string{"decision"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, bookingOutcomes, bookingLatency, ledgerOps, applicationDecisions)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint, status string) {
	httpRequests.WithLabelValues(endpoint, status).Inc()
}

// ObserveBooking records the outcome code ("booked" on success) and latency.
func ObserveBooking(result string, started time.Time) {
	bookingOutcomes.WithLabelValues(result).Inc()
	bookingLatency.Observe(time.Since(started).Seconds())
}

func IncLedger(operation, result string) {
	ledgerOps.WithLabelValues(operation, result).Inc()
}

func IncDecision(decision string) {
	applicationDecisions.WithLabelValues(decision).Inc()
}
