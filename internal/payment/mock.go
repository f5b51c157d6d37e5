package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/OlehChornii/pet-marketplace-sub000/internal/domain"
)

// MockProvider is a mock payment provider for testing.
// Simulates hosted session flows without calling the Stripe API.
type MockProvider struct {
	// OpenSessionFunc allows customizing session creation behavior
	OpenSessionFunc func(ctx context.Context, params OpenSessionParams) (*Session, error)

	// LookupSessionFunc allows customizing session lookup behavior
	LookupSessionFunc func(ctx context.Context, sessionID string) (*SessionStatus, error)

	// LookupReceiptFunc allows customizing receipt lookup behavior
	LookupReceiptFunc func(ctx context.Context, sessionID string) (*ReceiptLookup, error)

	// VerifyNotificationFunc allows customizing notification verification behavior
	VerifyNotificationFunc func(payload []byte, signature string) (*domain.PaymentEvent, error)

	// Sessions stores opened sessions for lookup
	Sessions map[string]*SessionStatus

	// Receipts stores receipt lookups keyed by session id
	Receipts map[string]*ReceiptLookup

	// CallLog tracks method calls for test assertions
	CallLog []string

	mu sync.Mutex
}

// NewMockProvider creates a new mock payment provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Sessions: make(map[string]*SessionStatus),
		Receipts: make(map[string]*ReceiptLookup),
		CallLog:  []string{},
	}
}

// OpenSession creates a mock hosted session.
func (m *MockProvider) OpenSession(ctx context.Context, params OpenSessionParams) (*Session, error) {
	m.mu.Lock()
	m.CallLog = append(m.CallLog, fmt.Sprintf("OpenSession(%d, %s)", params.AmountCents, params.CorrelationID))
	m.mu.Unlock()

	if m.OpenSessionFunc != nil {
		return m.OpenSessionFunc(ctx, params)
	}

	// Default mock behavior: open a session in the open state
	id := "cs_test_" + uuid.New().String()
	m.mu.Lock()
	m.Sessions[id] = &SessionStatus{
		ID:          id,
		State:       SessionOpen,
		AmountCents: params.AmountCents,
	}
	m.mu.Unlock()

	return &Session{
		ID:          id,
		RedirectURL: "https://checkout.example.com/pay/" + id,
	}, nil
}

// LookupSession retrieves a mock session's state.
func (m *MockProvider) LookupSession(ctx context.Context, sessionID string) (*SessionStatus, error) {
	m.mu.Lock()
	m.CallLog = append(m.CallLog, fmt.Sprintf("LookupSession(%s)", sessionID))
	m.mu.Unlock()

	if m.LookupSessionFunc != nil {
		return m.LookupSessionFunc(ctx, sessionID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	status, exists := m.Sessions[sessionID]
	if !exists {
		return nil, &ProviderError{Op: "mock.lookup_session", Err: ErrSessionNotFound}
	}
	copied := *status
	return &copied, nil
}

// LookupReceipt retrieves a mock receipt lookup.
func (m *MockProvider) LookupReceipt(ctx context.Context, sessionID string) (*ReceiptLookup, error) {
	m.mu.Lock()
	m.CallLog = append(m.CallLog, fmt.Sprintf("LookupReceipt(%s)", sessionID))
	m.mu.Unlock()

	if m.LookupReceiptFunc != nil {
		return m.LookupReceiptFunc(ctx, sessionID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.Sessions[sessionID]; !exists {
		return nil, &ProviderError{Op: "mock.lookup_receipt", Err: ErrSessionNotFound}
	}
	if r, exists := m.Receipts[sessionID]; exists {
		copied := *r
		return &copied, nil
	}
	return &ReceiptLookup{Ready: false}, nil
}

// VerifyNotification verifies a mock notification. The default behavior
// accepts the magic signature "valid" and decodes the payload as a
// JSON-encoded domain.PaymentEvent.
func (m *MockProvider) VerifyNotification(payload []byte, signature string) (*domain.PaymentEvent, error) {
	m.mu.Lock()
	m.CallLog = append(m.CallLog, "VerifyNotification")
	m.mu.Unlock()

	if m.VerifyNotificationFunc != nil {
		return m.VerifyNotificationFunc(payload, signature)
	}

	if signature != "valid" {
		return nil, ErrInvalidSignature
	}
	var event domain.PaymentEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, &ProviderError{Op: "mock.verify_notification", Err: err}
	}
	if event.ReportedAt.IsZero() {
		event.ReportedAt = time.Now().UTC()
	}
	return &event, nil
}

// SimulateCompleted marks a mock session completed with the given amount.
// Used in tests to simulate the payer finishing checkout.
func (m *MockProvider) SimulateCompleted(sessionID string, amountCents int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, exists := m.Sessions[sessionID]
	if !exists {
		return ErrSessionNotFound
	}
	status.State = SessionCompleted
	status.AmountCents = amountCents
	return nil
}

// SimulateExpired marks a mock session expired.
// Used in tests to simulate session timeout without payment.
func (m *MockProvider) SimulateExpired(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, exists := m.Sessions[sessionID]
	if !exists {
		return ErrSessionNotFound
	}
	status.State = SessionExpired
	return nil
}

// SimulateReceipt makes a receipt available for a mock session.
func (m *MockProvider) SimulateReceipt(sessionID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.Sessions[sessionID]; !exists {
		return ErrSessionNotFound
	}
	m.Receipts[sessionID] = &ReceiptLookup{Ready: true, URL: url}
	return nil
}
