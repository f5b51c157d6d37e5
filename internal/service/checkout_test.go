package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OlehChornii/pet-marketplace-sub000/internal/domain"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/payment"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/store"
)

func newCheckoutFixture() (CheckoutService, *store.MemoryStore, *payment.MockProvider) {
	memStore := store.NewMemoryStore()
	provider := payment.NewMockProvider()
	svc := NewCheckoutService(memStore, provider, testLogger(), nil,
		"usd", "https://shop.example.com/success", "https://shop.example.com/cancel")
	return svc, memStore, provider
}

func TestOpenSession_CreatesOrderAndSession(t *testing.T) {
	svc, memStore, provider := newCheckoutFixture()
	ctx := context.Background()

	result, err := svc.OpenSession(ctx, OpenSessionParams{
		OwnerID: "owner_1",
		LineItems: []domain.LineItem{
			{SubjectID: "pet_1", Name: "Ragdoll kitten", UnitCents: 95000},
			{SubjectID: "acc_1", Name: "Carrier", UnitCents: 6000},
		},
		ShippingAddress: "12 Alder Way",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.OrderID)
	assert.Contains(t, result.RedirectURL, "https://checkout.example.com/pay/")

	order, err := memStore.GetOrder(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentAwaitingConfirmation, order.PaymentStatus)
	assert.Equal(t, domain.FulfillmentPending, order.FulfillmentStatus)
	assert.Equal(t, int64(101000), order.TotalCents)
	assert.NotEmpty(t, order.ProviderSessionID)
	assert.True(t, order.EventApplied("session_opened:"+order.ProviderSessionID))

	// Amount and correlation id reached the provider
	status, err := provider.LookupSession(ctx, order.ProviderSessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(101000), status.AmountCents)
}

// ledgerCaptureStore records the order handed to CreateOrder before the
// store copies it.
type ledgerCaptureStore struct {
	*store.MemoryStore
	created *domain.Order
}

func (s *ledgerCaptureStore) CreateOrder(ctx context.Context, order *domain.Order) error {
	s.created = order
	return s.MemoryStore.CreateOrder(ctx, order)
}

func TestOpenSession_NewOrderCarriesEmptyLedger(t *testing.T) {
	capture := &ledgerCaptureStore{MemoryStore: store.NewMemoryStore()}
	svc := NewCheckoutService(capture, payment.NewMockProvider(), testLogger(), nil,
		"usd", "https://shop.example.com/success", "https://shop.example.com/cancel")

	_, err := svc.OpenSession(context.Background(), OpenSessionParams{
		OwnerID: "owner_1",
		LineItems: []domain.LineItem{
			{SubjectID: "pet_1", Name: "Ragdoll kitten", UnitCents: 95000},
		},
	})
	require.NoError(t, err)

	// A nil slice would write NULL into the NOT NULL array column.
	require.NotNil(t, capture.created)
	assert.NotNil(t, capture.created.AppliedEventIDs)
	assert.Empty(t, capture.created.AppliedEventIDs)
}

func TestOpenSession_RejectsEmptyLineItems(t *testing.T) {
	svc, _, provider := newCheckoutFixture()

	_, err := svc.OpenSession(context.Background(), OpenSessionParams{
		OwnerID: "owner_1",
	})
	assert.ErrorIs(t, err, domain.ErrEmptyLineItems)
	assert.Empty(t, provider.CallLog)
}

func TestOpenSession_RejectsNonPositiveTotal(t *testing.T) {
	svc, _, _ := newCheckoutFixture()

	_, err := svc.OpenSession(context.Background(), OpenSessionParams{
		OwnerID: "owner_1",
		LineItems: []domain.LineItem{
			{SubjectID: "pet_1", Name: "Voucher", UnitCents: -500},
		},
	})
	assert.ErrorIs(t, err, domain.ErrNonPositiveAmount)
}

func TestOpenSession_ProviderRejectionFailsOrder(t *testing.T) {
	svc, memStore, provider := newCheckoutFixture()
	ctx := context.Background()

	provider.OpenSessionFunc = func(ctx context.Context, params payment.OpenSessionParams) (*payment.Session, error) {
		return nil, &payment.ProviderError{Op: "mock.open_session", Err: errors.New("amount too large")}
	}

	_, err := svc.OpenSession(ctx, OpenSessionParams{
		OwnerID: "owner_1",
		LineItems: []domain.LineItem{
			{SubjectID: "pet_1", Name: "Macaw", UnitCents: 250000},
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderRejected)

	orders, err := memStore.ListOrdersByOwner(ctx, "owner_1")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.PaymentFailed, orders[0].PaymentStatus)
	assert.Empty(t, orders[0].ProviderSessionID)
}

func TestOpenSession_TransientProviderFailure(t *testing.T) {
	svc, memStore, provider := newCheckoutFixture()
	ctx := context.Background()

	provider.OpenSessionFunc = func(ctx context.Context, params payment.OpenSessionParams) (*payment.Session, error) {
		return nil, &payment.ProviderError{Op: "mock.open_session", Transient: true, Err: payment.ErrProviderUnavailable}
	}

	_, err := svc.OpenSession(ctx, OpenSessionParams{
		OwnerID: "owner_1",
		LineItems: []domain.LineItem{
			{SubjectID: "pet_1", Name: "Macaw", UnitCents: 250000},
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderUnavailable)

	// The order is failed, not stuck unpaid; retrying means a new order.
	orders, err := memStore.ListOrdersByOwner(ctx, "owner_1")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.PaymentFailed, orders[0].PaymentStatus)
}
