package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var latencyBuckets = []float64{
	0.001, // 1ms
	0.005, // 5ms
	0.01,  // 10ms
	0.025, // 25ms
	0.05,  // 50ms
	0.1,   // 100ms
	0.25,  // 250ms
	0.5,   // 500ms
	1.0,   // 1s
	2.5,   // 2.5s
	5.0,   // 5s
	10.0,  // 10s
}

var (
	// IssueDuration tracks the latency of bulk issuance requests
	IssueDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voucher_issue_duration_seconds",
			Help:    "Duration of bulk voucher issuance requests in seconds",
			Buckets: latencyBuckets,
		},
		[]string{"status"}, // success, partial or failure
	)

	// IssuedVouchers counts vouchers durably committed
	IssuedVouchers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voucher_issued_total",
		Help: "Number of vouchers committed by bulk issuance",
	})

	// Redemptions counts redeem attempts by outcome
	Redemptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voucher_redeem_total",
			Help: "Voucher redemption attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Assignments counts assignment attempts by outcome
	Assignments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voucher_assign_total",
			Help: "Voucher assignment attempts by outcome",
		},
		[]string{"outcome"}, // assigned, existing, none_available, error
	)

	CodeCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voucher_code_collisions_total",
		Help: "Generated codes rejected because they were already issued",
	})

	BatchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voucher_batch_retries_total",
		Help: "Issuance batches regenerated after a duplicate code on write",
	})

	CounterDrift = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voucher_counter_drift_total",
		Help: "Recounts that found stored campaign counters out of sync",
	})

	// HTTPRequestDuration tracks public and admin request latency
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: latencyBuckets,
		},
		[]string{"route", "status"},
	)
)

// RecordIssueDuration records the duration of a bulk issuance request
func RecordIssueDuration(status string, duration float64) {
	IssueDuration.WithLabelValues(status).Observe(duration)
}

// RecordRedemption counts one redemption attempt
func RecordRedemption(outcome string) {
	Redemptions.WithLabelValues(outcome).Inc()
}

// RecordAssignment counts one assignment attempt
func RecordAssignment(outcome string) {
	Assignments.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest records the duration of one HTTP request
func RecordHTTPRequest(route, status string, duration float64) {
	HTTPRequestDuration.WithLabelValues(route, status).Observe(duration)
}
