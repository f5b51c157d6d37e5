package events

import (
	"context"
	"time"

	"github.com/OlehChornii/pet-marketplace-sub000/internal/domain"
)

// Publisher broadcasts order lifecycle changes and operator alerts.
// Publishing is best effort; a lost message never blocks or fails the
// state change it describes.
type Publisher interface {
	// PublishOrderEvent announces a payment status change for an order.
	PublishOrderEvent(ctx context.Context, event OrderEvent) error

	// PublishAlert raises an operator alert for conditions that need a
	// human: amount mismatches, quarantined transitions, unmatched events.
	PublishAlert(ctx context.Context, alert Alert) error

	// Close releases the underlying connection.
	Close()
}

// OrderEvent describes a payment status change.
type OrderEvent struct {
	OrderID       string               `json:"order_id"`
	OwnerID       string               `json:"owner_id"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
	EventID       string               `json:"event_id"`
	AmountCents   int64                `json:"amount_cents"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

// Alert severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert is an operator-facing anomaly notification.
type Alert struct {
	Kind       string    `json:"kind"`
	Severity   string    `json:"severity"`
	OrderID    string    `json:"order_id,omitempty"`
	EventID    string    `json:"event_id,omitempty"`
	Detail     string    `json:"detail"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NoopPublisher discards everything. Used in tests and when messaging
// is not configured.
type NoopPublisher struct{}

// Compile-time check that NoopPublisher implements Publisher.
var _ Publisher = (*NoopPublisher)(nil)

func (NoopPublisher) PublishOrderEvent(ctx context.Context, event OrderEvent) error { return nil }

func (NoopPublisher) PublishAlert(ctx context.Context, alert Alert) error { return nil }

func (NoopPublisher) Close() {}
