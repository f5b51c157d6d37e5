package store

import (
	"context"
	"time"

	"github.com/OlehChornii/pet-marketplace-sub000/internal/domain"
)

// OrderStore is the persistence boundary for orders.
//
// Every payment status mutation goes through a compare-and-swap: the caller
// states the status it read and the status it wants, and the store applies
// the change only if the order is still in the stated status and the event
// id has not been recorded yet. Losing the race is reported, not retried,
// so the caller can re-read and re-decide.
type OrderStore interface {
	// CreateOrder persists a new order in its initial state.
	CreateOrder(ctx context.Context, order *domain.Order) error

	// GetOrder retrieves an order by id.
	// Returns domain.ErrOrderNotFound if no such order exists.
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	// GetOrderBySessionID retrieves the order bound to a provider session.
	// Returns domain.ErrOrderNotFound if no order has that session.
	GetOrderBySessionID(ctx context.Context, sessionID string) (*domain.Order, error)

	// ListOrdersByOwner retrieves an owner's orders, newest first.
	ListOrdersByOwner(ctx context.Context, ownerID string) ([]domain.Order, error)

	// ListStaleAwaiting retrieves up to limit orders that have sat in
	// awaiting_confirmation without an update since the cutoff. Oldest
	// first, so the sweep drains the backlog in arrival order.
	ListStaleAwaiting(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)

	// AttachSession binds a provider session to an order and moves it from
	// unpaid to awaiting_confirmation, recording eventID in the applied
	// ledger. Returns domain.ErrSessionAlreadySet if the order already has
	// a session or has left the unpaid status.
	AttachSession(ctx context.Context, orderID, sessionID, eventID string) error

	// ApplyEvent applies a payment status transition guarded by the status
	// the caller observed and the event ledger. The outcomes:
	//   - ResultApplied: the transition happened and eventID was recorded
	//   - ResultDuplicate: eventID was already in the ledger, nothing changed
	//   - ResultConflict: the order is no longer in params.From
	ApplyEvent(ctx context.Context, params ApplyEventParams) (ApplyResult, error)

	// RecordNoOpEvent appends eventID to the ledger without changing status.
	// Used when an event targets the status the order already holds.
	// Recording an already-recorded id is not an error.
	RecordNoOpEvent(ctx context.Context, orderID, eventID string) error

	// UpdateFulfillment moves the fulfillment status, guarded by the status
	// the caller observed. Returns domain.ErrIllegalTransition on a lost
	// race and domain.ErrOrderNotFound if the order is gone.
	UpdateFulfillment(ctx context.Context, orderID string, from, to domain.FulfillmentStatus) error
}

// ApplyEventParams carries one guarded payment status transition.
type ApplyEventParams struct {
	OrderID string
	EventID string
	From    domain.PaymentStatus
	To      domain.PaymentStatus
}

// ApplyResult is the outcome of an ApplyEvent call.
type ApplyResult int

const (
	// ResultApplied means the transition was performed.
	ResultApplied ApplyResult = iota

	// ResultDuplicate means the event id was already recorded.
	ResultDuplicate

	// ResultConflict means the order left the expected status first.
	ResultConflict
)

// String returns the result name for logging.
func (r ApplyResult) String() string {
	switch r {
	case ResultApplied:
		return "applied"
	case ResultDuplicate:
		return "duplicate"
	case ResultConflict:
		return "conflict"
	default:
		return "unknown"
	}
}
