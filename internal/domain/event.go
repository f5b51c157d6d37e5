package domain

import "time"

// EventKind classifies a provider notification. The set is closed at this
// boundary: anything the decoder does not recognize becomes EventUnknown
// and is recorded as a no-op rather than rejected, so new provider event
// types never break the webhook endpoint.
type EventKind string

const (
	EventSessionCompleted EventKind = "session_completed"
	EventSessionExpired   EventKind = "session_expired"
	EventRefundIssued     EventKind = "refund_issued"
	EventUnknown          EventKind = "unknown"
)

// PaymentEvent is the provider-neutral form of a session-state change,
// decoded from a verified notification or synthesized by pull verification.
type PaymentEvent struct {
	// EventID is the provider's delivery-independent event identifier.
	// Pull verification synthesizes a deterministic one, so push and pull
	// share a single idempotency ledger.
	EventID string

	// ProviderSessionID identifies the hosted session the event describes.
	ProviderSessionID string

	// CorrelationID is the local order id the session was opened with,
	// when the provider's payload round-trips it. Used as a fallback when
	// the payload carries no session reference (e.g. refund events).
	CorrelationID string

	Kind EventKind

	// AmountCents is the processor-reported charged amount for completion
	// events; zero for kinds that carry no amount.
	AmountCents int64

	ReportedAt time.Time
}
