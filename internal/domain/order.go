package domain

import (
	"time"
)

// Order-related domain errors.
var (
	ErrOrderNotFound      = &Error{Code: ENOTFOUND, Message: "Order not found"}
	ErrEmptyLineItems     = &Error{Code: EINVALID, Message: "Order must contain at least one line item"}
	ErrNonPositiveAmount  = &Error{Code: EINVALID, Message: "Order total must be positive"}
	ErrSessionAlreadySet  = &Error{Code: ECONFLICT, Message: "Order already has a payment session"}
	ErrIllegalTransition  = &Error{Code: ECONFLICT, Message: "Status transition not allowed"}
	ErrAmountMismatch     = &Error{Code: EPAYMENT, Message: "Processor-reported amount does not match order total"}
	ErrReceiptNotReady    = &Error{Code: ECONFLICT, Message: "Receipt has not been generated yet"}
	ErrReceiptNotEligible = &Error{Code: EPAYMENT, Message: "Receipts exist only for paid orders"}
)

// PaymentStatus tracks the money side of an order. It is governed
// exclusively by the reconciliation engine and only ever moves forward.
type PaymentStatus string

const (
	PaymentUnpaid               PaymentStatus = "unpaid"
	PaymentAwaitingConfirmation PaymentStatus = "awaiting_confirmation"
	PaymentPaid                 PaymentStatus = "paid"
	PaymentFailed               PaymentStatus = "failed"
	PaymentRefunded             PaymentStatus = "refunded"
)

// paymentTransitions is the closed set of legal payment moves. A failed
// order is terminal: retrying payment means opening a new order, because
// provider_session_id is immutable once set.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentUnpaid:               {PaymentAwaitingConfirmation, PaymentFailed},
	PaymentAwaitingConfirmation: {PaymentPaid, PaymentFailed},
	PaymentPaid:                 {PaymentRefunded},
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further payment transitions are possible.
func (s PaymentStatus) Terminal() bool {
	return len(paymentTransitions[s]) == 0
}

// FulfillmentStatus tracks the operational side of an order. It is driven
// by the fulfillment workflow, never by payment reconciliation.
type FulfillmentStatus string

const (
	FulfillmentPending    FulfillmentStatus = "pending"
	FulfillmentProcessing FulfillmentStatus = "processing"
	FulfillmentShipped    FulfillmentStatus = "shipped"
	FulfillmentDelivered  FulfillmentStatus = "delivered"
	FulfillmentCancelled  FulfillmentStatus = "cancelled"
)

var fulfillmentTransitions = map[FulfillmentStatus][]FulfillmentStatus{
	FulfillmentPending:    {FulfillmentProcessing, FulfillmentCancelled},
	FulfillmentProcessing: {FulfillmentShipped, FulfillmentCancelled},
	FulfillmentShipped:    {FulfillmentDelivered},
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s FulfillmentStatus) CanTransitionTo(next FulfillmentStatus) bool {
	for _, allowed := range fulfillmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidFulfillmentStatus reports whether s is a known fulfillment status.
func ValidFulfillmentStatus(s FulfillmentStatus) bool {
	switch s {
	case FulfillmentPending, FulfillmentProcessing, FulfillmentShipped,
		FulfillmentDelivered, FulfillmentCancelled:
		return true
	}
	return false
}

// LineItem is a snapshot of one purchasable subject (a pet listing) taken
// at checkout time. Prices are in the configured currency's minor unit.
type LineItem struct {
	SubjectID   string `json:"subject_id"`
	Name        string `json:"name"`
	UnitCents   int64  `json:"unit_cents"`
	Description string `json:"description,omitempty"`
}

// Order is the durable record of a purchase attempt. Orders are never
// deleted; a failed payment stands as the audit trail of that attempt.
type Order struct {
	ID      string
	OwnerID string

	// LineItems and TotalCents are fixed at creation. TotalCents is never
	// recomputed afterward; a mismatch with the processor-reported amount
	// is an error, not a correction.
	LineItems  []LineItem
	TotalCents int64
	Currency   string

	FulfillmentStatus FulfillmentStatus
	PaymentStatus     PaymentStatus

	// ProviderSessionID is set once, when the hosted payment session is
	// opened, and never reassigned.
	ProviderSessionID string

	// AppliedEventIDs is the idempotency ledger: every provider event (or
	// pull-verification pseudo-event) that has mutated this order.
	AppliedEventIDs []string

	ShippingAddress string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EventApplied reports whether eventID is already in the idempotency ledger.
func (o *Order) EventApplied(eventID string) bool {
	for _, id := range o.AppliedEventIDs {
		if id == eventID {
			return true
		}
	}
	return false
}

// SumLineItems computes an order total from its line items. Each line item
// is a single subject, so the total is a plain sum of unit prices.
func SumLineItems(items []LineItem) int64 {
	var total int64
	for _, it := range items {
		total += it.UnitCents
	}
	return total
}

// Receipt is the processor-generated artifact for a paid order. It is not
// persisted by this core; it is re-resolved on demand.
type Receipt struct {
	OrderID    string
	ReceiptURL string // empty means not yet generated
	CheckedAt  time.Time
}
