package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OlehChornii/pet-marketplace-sub000/internal/domain"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/events"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/payment"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/service"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/store"
)

type webhookFixture struct {
	echo     *echo.Echo
	store    *store.MemoryStore
	provider *payment.MockProvider
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	memStore := store.NewMemoryStore()
	provider := payment.NewMockProvider()
	reconcile := service.NewReconcileService(
		memStore, provider, &events.NoopPublisher{}, logger, nil, 2, time.Millisecond)

	e := echo.New()
	e.HTTPErrorHandler = NewHTTPErrorHandler(logger)
	NewWebhookHandler(reconcile).Register(e)

	return &webhookFixture{echo: e, store: memStore, provider: provider}
}

func (f *webhookFixture) seedAwaitingOrder(t *testing.T, orderID, sessionID string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, f.store.CreateOrder(ctx, &domain.Order{
		ID:                orderID,
		OwnerID:           "owner_1",
		LineItems:         []domain.LineItem{{SubjectID: "pet_1", Name: "Budgerigar", UnitCents: 4500}},
		TotalCents:        4500,
		Currency:          "usd",
		FulfillmentStatus: domain.FulfillmentPending,
		PaymentStatus:     domain.PaymentUnpaid,
		CreatedAt:         now,
		UpdatedAt:         now,
	}))
	require.NoError(t, f.store.AttachSession(ctx, orderID, sessionID, "session_opened:"+sessionID))
}

func (f *webhookFixture) post(t *testing.T, event *domain.PaymentEvent, signature string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(string(payload)))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWebhook_CompletedEventReturnsOK(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedAwaitingOrder(t, "ord_1", "cs_1")

	rec := f.post(t, &domain.PaymentEvent{
		EventID:           "evt_1",
		ProviderSessionID: "cs_1",
		Kind:              domain.EventSessionCompleted,
		AmountCents:       4500,
		ReportedAt:        time.Now().UTC(),
	}, "valid")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())

	order, err := f.store.GetOrder(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, order.PaymentStatus)
}

func TestWebhook_MissingSignature(t *testing.T) {
	f := newWebhookFixture(t)

	rec := f.post(t, &domain.PaymentEvent{EventID: "evt_1"}, "")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorBody(t, rec)
	assert.Equal(t, domain.EINVALID, body.Error.Code)
	assert.Contains(t, body.Error.Message, "missing signature")
}

func TestWebhook_ForgedSignature(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedAwaitingOrder(t, "ord_1", "cs_1")

	rec := f.post(t, &domain.PaymentEvent{
		EventID:           "evt_1",
		ProviderSessionID: "cs_1",
		Kind:              domain.EventSessionCompleted,
		AmountCents:       4500,
	}, "forged")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorBody(t, rec)
	assert.Equal(t, domain.EINVALID, body.Error.Code)

	order, err := f.store.GetOrder(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentAwaitingConfirmation, order.PaymentStatus)
}

func TestWebhook_UnmatchedEventConsumed(t *testing.T) {
	f := newWebhookFixture(t)

	rec := f.post(t, &domain.PaymentEvent{
		EventID:           "evt_orphan",
		ProviderSessionID: "cs_unknown",
		Kind:              domain.EventSessionCompleted,
		AmountCents:       4500,
	}, "valid")

	// An event for an unknown session cannot be fixed by redelivery.
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
}

func TestWebhook_RedeliveryConsumed(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedAwaitingOrder(t, "ord_1", "cs_1")

	event := &domain.PaymentEvent{
		EventID:           "evt_1",
		ProviderSessionID: "cs_1",
		Kind:              domain.EventSessionCompleted,
		AmountCents:       4500,
	}
	require.Equal(t, http.StatusOK, f.post(t, event, "valid").Code)
	require.Equal(t, http.StatusOK, f.post(t, event, "valid").Code)

	order, err := f.store.GetOrder(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, order.PaymentStatus)
	assert.Len(t, order.AppliedEventIDs, 2)
}
