package payment

import (
	"errors"
	"fmt"
)

// Sentinel errors from provider operations.
var (
	// ErrInvalidSignature means a pushed notification failed verification.
	ErrInvalidSignature = errors.New("notification signature verification failed")

	// ErrSessionNotFound means the processor has no session with that id.
	ErrSessionNotFound = errors.New("payment session not found")

	// ErrProviderUnavailable means the processor could not be reached.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
)

// ProviderError wraps a processor failure with a transience classification.
// Transient failures (timeouts, 5xx, rate limits) may be retried; permanent
// failures (bad request, auth, missing resource) may not.
type ProviderError struct {
	// Op is the operation that failed, e.g. "stripe.open_session".
	Op string

	// Transient reports whether a retry of the same call could succeed.
	Transient bool

	// Err is the underlying processor error.
	Err error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err represents a failure worth retrying.
// Unclassified errors are treated as permanent.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return errors.Is(err, ErrProviderUnavailable)
}
