package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics holds Prometheus metrics for payment observability.
// Services take a nil-able pointer so tests can run without a registry.
type BusinessMetrics struct {
	// Checkout sessions
	SessionsOpened    *prometheus.CounterVec
	SessionOpenFailed *prometheus.CounterVec

	// Webhook ingestion
	WebhookReceived  *prometheus.CounterVec
	WebhookProcessed *prometheus.CounterVec
	WebhookFailed    *prometheus.CounterVec
	WebhookLatency   *prometheus.HistogramVec

	// Reconciliation outcomes
	PaymentSucceeded   prometheus.Counter
	PaymentFailed      *prometheus.CounterVec
	RefundsIssued      prometheus.Counter
	DuplicateEvents    prometheus.Counter
	IllegalTransitions *prometheus.CounterVec
	AmountMismatches   prometheus.Counter
	UnmatchedEvents    prometheus.Counter
	PullVerifications  *prometheus.CounterVec

	// Receipts
	ReceiptLookups *prometheus.CounterVec

	// Revenue tracking
	RevenueCollected prometheus.Counter
}

// NewBusinessMetrics creates and registers all business metrics
func NewBusinessMetrics(namespace string) *BusinessMetrics {
	if namespace == "" {
		namespace = "petmarket"
	}

	subsystem := "payments"

	return &BusinessMetrics{
		SessionsOpened: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sessions_opened_total",
				Help:      "Total hosted payment sessions opened",
			},
			[]string{"currency"},
		),
		SessionOpenFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "session_open_failed_total",
				Help:      "Total session open attempts rejected by the provider",
			},
			[]string{"reason"}, // reason: provider_unavailable, provider_rejected
		),

		WebhookReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_received_total",
				Help:      "Total webhook notifications received",
			},
			[]string{"kind"},
		),
		WebhookProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_processed_total",
				Help:      "Total webhook notifications fully processed",
			},
			[]string{"kind", "result"}, // result: applied, duplicate, noop, quarantined, unmatched
		),
		WebhookFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_failed_total",
				Help:      "Total webhook notifications that failed processing",
			},
			[]string{"reason"}, // reason: bad_signature, store_error
		),
		WebhookLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_latency_seconds",
				Help:      "Webhook processing duration",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"kind"},
		),

		PaymentSucceeded: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_succeeded_total",
				Help:      "Total payments confirmed paid",
			},
		),
		PaymentFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_failed_total",
				Help:      "Total payments marked failed",
			},
			[]string{"reason"}, // reason: session_expired, amount_mismatch, open_failed
		),
		RefundsIssued: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "refunds_issued_total",
				Help:      "Total refunds applied to paid orders",
			},
		),
		DuplicateEvents: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "duplicate_events_total",
				Help:      "Total provider events skipped as already applied",
			},
		),
		IllegalTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "illegal_transitions_total",
				Help:      "Total provider events quarantined as illegal transitions",
			},
			[]string{"from", "to"},
		),
		AmountMismatches: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "amount_mismatches_total",
				Help:      "Total completed sessions whose charged amount disagreed with the order",
			},
		),
		UnmatchedEvents: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "unmatched_events_total",
				Help:      "Total provider events that matched no known order",
			},
		),
		PullVerifications: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "pull_verifications_total",
				Help:      "Total on-demand session verifications",
			},
			[]string{"result"}, // result: applied, unchanged, error
		),

		ReceiptLookups: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "receipt_lookups_total",
				Help:      "Total receipt resolution attempts",
			},
			[]string{"state"}, // state: ready, pending, not_applicable, throttled
		),

		RevenueCollected: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "revenue_collected_cents_total",
				Help:      "Total confirmed revenue in cents",
			},
		),
	}
}
