// Package metrics exposes Prometheus instruments for the payment flow.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PaymentMetrics holds counters and histograms for order initiation and verification.
type PaymentMetrics struct {
	InitiateTotal     *prometheus.CounterVec   // by outcome
	ReconcileTotal    *prometheus.CounterVec   // by outcome
	ReconcileDuration *prometheus.HistogramVec // by outcome
	JobTotal          *prometheus.CounterVec   // worker jobs by type and result
}

// NewPaymentMetrics registers the instruments with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	f := promauto.With(reg)
	return &PaymentMetrics{
		InitiateTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payments_initiate_total",
				Help: "Total number of order initiation attempts",
			},
			[]string{"outcome"},
		),
		ReconcileTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payments_reconcile_total",
				Help: "Total number of verification callbacks",
			},
			[]string{"outcome"}, // credited/already_credited/<error kind>
		),
		ReconcileDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payments_reconcile_duration_seconds",
				Help:    "Duration of verification callbacks including the gateway fetch",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		JobTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payments_jobs_total",
				Help: "Background jobs processed",
			},
			[]string{"type", "result"}, // result: ok/retry/dead
		),
	}
}

// ObserveInitiate counts one initiation attempt.
func (m *PaymentMetrics) ObserveInitiate(outcome string) {
	m.InitiateTotal.WithLabelValues(outcome).Inc()
}

// ObserveReconcile counts one verification and records its duration.
func (m *PaymentMetrics) ObserveReconcile(outcome string, elapsed time.Duration) {
	m.ReconcileTotal.WithLabelValues(outcome).Inc()
	m.ReconcileDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveJob counts one worker job outcome.
func (m *PaymentMetrics) ObserveJob(jobType, result string) {
	m.JobTotal.WithLabelValues(jobType, result).Inc()
}
