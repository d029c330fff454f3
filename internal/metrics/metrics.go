// Package metrics holds the Prometheus collectors of the auth server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation labels.
const (
	OpRequestOTP = "request_otp"
	OpVerifyOTP  = "verify_otp"
	OpRefresh    = "refresh"
	OpLogout     = "logout"
)

// Result labels.
const (
	ResultSuccess     = "success"
	ResultRateLimited = "rate_limited"
	ResultRejected    = "rejected"
	ResultUnavailable = "unavailable"
	ResultInternal    = "internal_error"
	ResultBadRequest  = "bad_request"
	ResultIPThrottled = "ip_throttled"
)

// Metrics groups the auth collectors. A nil *Metrics records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
// Panics if registration fails (prometheus convention).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fruitcopy_auth_operations_total",
				Help: "Total number of auth operations by outcome",
			},
			[]string{"operation", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fruitcopy_auth_operation_duration_seconds",
				Help:    "Auth operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
	reg.MustRegister(m.operations, m.duration)
	return m
}

// Record counts one operation with its result and observes its duration.
func (m *Metrics) Record(operation, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, result).Inc()
	m.duration.WithLabelValues(operation).Observe(took.Seconds())
}

// Throttled counts a request refused by the IP limiter.
func (m *Metrics) Throttled(operation string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, ResultIPThrottled).Inc()
}
