// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_gateway_requests_total",
			Help: "Total number of payment gateway calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "billing_gateway_request_duration_seconds",
			Help: "Duration of payment gateway calls in seconds",
		},
		[]string{"operation"},
	)

	WebhookNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhook_notifications_total",
			Help: "Total number of gateway notifications by result",
		},
		[]string{"result"},
	)

	SchedulerCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_scheduler_cycles_total",
			Help: "Total number of billing cycles by outcome",
		},
		[]string{"outcome"},
	)

	SchedulerCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "billing_scheduler_cycle_duration_seconds",
			Help:    "Duration of a billing cycle in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	RenewalOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_renewals_total",
			Help: "Total number of renewal decisions by outcome",
		},
		[]string{"outcome"},
	)

	AccessSyncFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_access_sync_failures_total",
			Help: "Total number of failed channel membership calls",
		},
		[]string{"action"},
	)

	CheckoutSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_checkout_sessions_total",
			Help: "Total number of checkout session attempts by outcome",
		},
		[]string{"outcome"},
	)

	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "billing_active_subscriptions",
			Help: "Number of subscriptions with access on, sampled each cycle",
		},
	)
)
