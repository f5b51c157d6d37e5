package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OlehChornii/pet-marketplace-sub000/internal/domain"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/payment"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/store"
)

func newReceiptFixture(t *testing.T, minInterval time.Duration) (*receiptService, *store.MemoryStore, *payment.MockProvider) {
	t.Helper()
	memStore := store.NewMemoryStore()
	provider := payment.NewMockProvider()
	svc := NewReceiptService(memStore, provider, testLogger(), nil, minInterval).(*receiptService)
	return svc, memStore, provider
}

func paidOrder(t *testing.T, memStore *store.MemoryStore, provider *payment.MockProvider, id string) *domain.Order {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	order := &domain.Order{
		ID:                "ord_" + id,
		OwnerID:           "owner_1",
		LineItems:         []domain.LineItem{{SubjectID: "pet_1", Name: "Bearded dragon", UnitCents: 12000}},
		TotalCents:        12000,
		Currency:          "usd",
		FulfillmentStatus: domain.FulfillmentPending,
		PaymentStatus:     domain.PaymentUnpaid,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, memStore.CreateOrder(ctx, order))

	sess, err := provider.OpenSession(ctx, payment.OpenSessionParams{
		AmountCents: 12000, Currency: "usd", CorrelationID: order.ID,
	})
	require.NoError(t, err)
	require.NoError(t, memStore.AttachSession(ctx, order.ID, sess.ID, "session_opened:"+sess.ID))

	_, err = memStore.ApplyEvent(ctx, store.ApplyEventParams{
		OrderID: order.ID,
		EventID: "evt_paid",
		From:    domain.PaymentAwaitingConfirmation,
		To:      domain.PaymentPaid,
	})
	require.NoError(t, err)

	got, err := memStore.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	return got
}

func TestGetReceipt_NotApplicableBeforePayment(t *testing.T) {
	svc, memStore, _ := newReceiptFixture(t, time.Second)
	ctx := context.Background()

	now := time.Now().UTC()
	order := &domain.Order{
		ID:                "ord_unpaid",
		OwnerID:           "owner_1",
		LineItems:         []domain.LineItem{{SubjectID: "pet_1", Name: "Gecko", UnitCents: 4000}},
		TotalCents:        4000,
		Currency:          "usd",
		FulfillmentStatus: domain.FulfillmentPending,
		PaymentStatus:     domain.PaymentUnpaid,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, memStore.CreateOrder(ctx, order))

	result, err := svc.GetReceipt(ctx, "ord_unpaid")
	require.NoError(t, err)
	assert.Equal(t, ReceiptNotApplicable, result.State)
	assert.Empty(t, result.URL)
}

func TestGetReceipt_PendingUntilProviderGenerates(t *testing.T) {
	svc, memStore, provider := newReceiptFixture(t, time.Second)
	ctx := context.Background()
	order := paidOrder(t, memStore, provider, "1")

	result, err := svc.GetReceipt(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, ReceiptPending, result.State)

	require.NoError(t, provider.SimulateReceipt(order.ProviderSessionID, "https://pay.example.com/receipts/rcpt_1"))

	// Outside the interval the provider is consulted again
	svc.now = func() time.Time { return time.Now().Add(2 * time.Second) }
	result, err = svc.GetReceipt(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, ReceiptReady, result.State)
	assert.Equal(t, "https://pay.example.com/receipts/rcpt_1", result.URL)
}

func TestGetReceipt_MinIntervalThrottlesProviderCalls(t *testing.T) {
	svc, memStore, provider := newReceiptFixture(t, time.Minute)
	ctx := context.Background()
	order := paidOrder(t, memStore, provider, "1")

	_, err := svc.GetReceipt(ctx, order.ID)
	require.NoError(t, err)
	lookups := len(provider.CallLog)

	// Receipt appears upstream, but the window has not passed
	require.NoError(t, provider.SimulateReceipt(order.ProviderSessionID, "https://pay.example.com/receipts/rcpt_1"))

	result, err := svc.GetReceipt(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, ReceiptPending, result.State)
	assert.Len(t, provider.CallLog, lookups, "no provider call inside the interval")
}

func TestGetReceipt_ReadyResultIsCached(t *testing.T) {
	svc, memStore, provider := newReceiptFixture(t, time.Millisecond)
	ctx := context.Background()
	order := paidOrder(t, memStore, provider, "1")
	require.NoError(t, provider.SimulateReceipt(order.ProviderSessionID, "https://pay.example.com/receipts/rcpt_1"))

	result, err := svc.GetReceipt(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, ReceiptReady, result.State)
	lookups := len(provider.CallLog)

	result, err = svc.GetReceipt(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, ReceiptReady, result.State)
	assert.Len(t, provider.CallLog, lookups, "cached receipt needs no provider call")
}

func TestGetReceipt_RefundedOrderKeepsReceipt(t *testing.T) {
	svc, memStore, provider := newReceiptFixture(t, time.Millisecond)
	ctx := context.Background()
	order := paidOrder(t, memStore, provider, "1")
	require.NoError(t, provider.SimulateReceipt(order.ProviderSessionID, "https://pay.example.com/receipts/rcpt_1"))

	_, err := memStore.ApplyEvent(ctx, store.ApplyEventParams{
		OrderID: order.ID,
		EventID: "evt_refund",
		From:    domain.PaymentPaid,
		To:      domain.PaymentRefunded,
	})
	require.NoError(t, err)

	result, err := svc.GetReceipt(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, ReceiptReady, result.State)
}

func TestGetReceipt_CacheEvictsOldestAtLimit(t *testing.T) {
	svc, memStore, provider := newReceiptFixture(t, time.Minute)
	svc.cacheLimit = 2
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"1", "2", "3"} {
		order := paidOrder(t, memStore, provider, id)
		// Distinct timestamps so eviction order is deterministic.
		at := base.Add(time.Duration(i) * time.Second)
		svc.now = func() time.Time { return at }
		_, err := svc.GetReceipt(ctx, order.ID)
		require.NoError(t, err)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Len(t, svc.cache, 2)
	assert.NotContains(t, svc.cache, "ord_1", "oldest entry evicted first")
	assert.Contains(t, svc.cache, "ord_2")
	assert.Contains(t, svc.cache, "ord_3")
}

func TestGetReceipt_OrderNotFound(t *testing.T) {
	svc, _, _ := newReceiptFixture(t, time.Second)

	_, err := svc.GetReceipt(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}
