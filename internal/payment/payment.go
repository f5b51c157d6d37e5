package payment

import (
	"context"

	"github.com/OlehChornii/pet-marketplace-sub000/internal/domain"
)

// Provider defines the interface to the external payment processor.
// Implementations can use Stripe, PayPal, Square, etc.
//
// All calls are synchronous with a fixed timeout and classify failures
// into transient (safe to retry) vs permanent (not); see IsTransient.
// That classification is the seam that keeps the reconciliation engine's
// retry logic decoupled from any particular processor's error taxonomy.
type Provider interface {
	// OpenSession creates a hosted payment session for the given amount.
	// The correlation id (local order id) is round-tripped through session
	// metadata so notifications can be matched back to the order.
	OpenSession(ctx context.Context, params OpenSessionParams) (*Session, error)

	// LookupSession retrieves the current state of a session. Used by the
	// pull verification path when the client returns before any webhook
	// has been delivered.
	LookupSession(ctx context.Context, sessionID string) (*SessionStatus, error)

	// LookupReceipt retrieves the processor-generated receipt artifact for
	// a session, if the processor has produced it yet. A session with no
	// receipt yet is not an error; Ready is false.
	LookupReceipt(ctx context.Context, sessionID string) (*ReceiptLookup, error)

	// VerifyNotification checks the authenticity of a pushed notification
	// against the shared signing secret and decodes it into the neutral
	// event form. This is the trust boundary: an unverified payload must
	// never reach the reconciliation engine.
	VerifyNotification(payload []byte, signature string) (*domain.PaymentEvent, error)
}

// OpenSessionParams contains parameters for creating a hosted session.
type OpenSessionParams struct {
	// AmountCents is the amount in the smallest currency unit.
	AmountCents int64

	// Currency code (ISO 4217 lowercase) - e.g., "usd", "eur"
	Currency string

	// CorrelationID is the local order id, stored as session metadata.
	CorrelationID string

	// LineItems describe what the payer sees on the hosted page.
	LineItems []domain.LineItem

	// SuccessURL and CancelURL are where the processor sends the payer back.
	SuccessURL string
	CancelURL  string
}

// Session is a newly opened hosted payment session.
type Session struct {
	// ID is the processor's session identifier.
	ID string

	// RedirectURL is where the payer completes the charge.
	RedirectURL string
}

// SessionState is the processor-reported lifecycle state of a session.
type SessionState string

const (
	// SessionOpen means the payer has not finished; neither success nor
	// failure has been committed on the processor side.
	SessionOpen SessionState = "open"

	// SessionCompleted means the charge succeeded.
	SessionCompleted SessionState = "completed"

	// SessionExpired means the session lapsed without payment.
	SessionExpired SessionState = "expired"
)

// SessionStatus is the result of a session lookup.
type SessionStatus struct {
	ID    string
	State SessionState

	// AmountCents is the processor-reported charged amount.
	AmountCents int64
}

// ReceiptLookup is the result of a receipt lookup. Receipt generation lags
// payment confirmation on the processor's own schedule.
type ReceiptLookup struct {
	// Ready is true once the processor has generated the artifact.
	Ready bool

	// URL points at the receipt document; empty unless Ready.
	URL string
}
