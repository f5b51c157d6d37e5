package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/OlehChornii/pet-marketplace-sub000/internal/domain"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/payment"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/store"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/telemetry"
)

// Checkout-specific errors.
var (
	ErrProviderUnavailable = domain.Errorf(domain.EUNAVAILABLE, "", "Payment provider is unavailable, try again later")
	ErrProviderRejected    = domain.Errorf(domain.EPAYMENT, "", "Payment provider rejected the session")
)

// CheckoutService opens hosted payment sessions for new orders.
type CheckoutService interface {
	// OpenSession creates an order and a hosted payment session for it.
	// The order exists in its initial state before the provider is called,
	// so a session the provider opened is never orphaned.
	OpenSession(ctx context.Context, params OpenSessionParams) (*OpenSessionResult, error)
}

// OpenSessionParams contains parameters for starting a checkout.
type OpenSessionParams struct {
	OwnerID         string
	LineItems       []domain.LineItem
	ShippingAddress string
}

// OpenSessionResult identifies the created order and where to send the payer.
type OpenSessionResult struct {
	OrderID     string
	RedirectURL string
}

// checkoutService implements CheckoutService.
type checkoutService struct {
	store    store.OrderStore
	provider payment.Provider
	logger   *slog.Logger
	metrics  *telemetry.BusinessMetrics

	currency   string
	successURL string
	cancelURL  string
}

// NewCheckoutService creates a new CheckoutService instance.
func NewCheckoutService(
	orderStore store.OrderStore,
	provider payment.Provider,
	logger *slog.Logger,
	metrics *telemetry.BusinessMetrics,
	currency, successURL, cancelURL string,
) CheckoutService {
	return &checkoutService{
		store:      orderStore,
		provider:   provider,
		logger:     logger,
		metrics:    metrics,
		currency:   currency,
		successURL: successURL,
		cancelURL:  cancelURL,
	}
}

// OpenSession creates an order and a hosted payment session for it.
func (s *checkoutService) OpenSession(ctx context.Context, params OpenSessionParams) (*OpenSessionResult, error) {
	if len(params.LineItems) == 0 {
		return nil, domain.ErrEmptyLineItems
	}
	total := domain.SumLineItems(params.LineItems)
	if total <= 0 {
		return nil, domain.ErrNonPositiveAmount
	}

	now := time.Now().UTC()
	order := &domain.Order{
		ID:                uuid.New().String(),
		OwnerID:           params.OwnerID,
		LineItems:         params.LineItems,
		TotalCents:        total,
		Currency:          s.currency,
		FulfillmentStatus: domain.FulfillmentPending,
		PaymentStatus:     domain.PaymentUnpaid,
		// Non-nil: the ledger column is NOT NULL and a nil slice writes NULL.
		AppliedEventIDs: []string{},
		ShippingAddress: params.ShippingAddress,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	sess, err := s.provider.OpenSession(ctx, payment.OpenSessionParams{
		AmountCents:   total,
		Currency:      s.currency,
		CorrelationID: order.ID,
		LineItems:     params.LineItems,
		SuccessURL:    s.successURL,
		CancelURL:     s.cancelURL,
	})
	if err != nil {
		return nil, s.failOpen(ctx, order.ID, err)
	}

	// The order was created unpaid a moment ago; losing this race means
	// something else is mutating brand-new orders.
	eventID := "session_opened:" + sess.ID
	if err := s.store.AttachSession(ctx, order.ID, sess.ID, eventID); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.SessionsOpened.WithLabelValues(s.currency).Inc()
	}
	s.logger.Info("checkout session opened",
		"order_id", order.ID,
		"session_id", sess.ID,
		"owner_id", params.OwnerID,
		"total_cents", total)

	return &OpenSessionResult{
		OrderID:     order.ID,
		RedirectURL: sess.RedirectURL,
	}, nil
}

// failOpen marks the order failed after the provider refused to open a
// session, then translates the provider error for the caller.
func (s *checkoutService) failOpen(ctx context.Context, orderID string, cause error) error {
	result, err := s.store.ApplyEvent(ctx, store.ApplyEventParams{
		OrderID: orderID,
		EventID: "session_open_failed:" + orderID,
		From:    domain.PaymentUnpaid,
		To:      domain.PaymentFailed,
	})
	if err != nil {
		s.logger.Error("failed to mark order failed after provider error",
			"order_id", orderID, "error", err, "cause", cause)
	} else if result != store.ResultApplied {
		s.logger.Warn("order left unpaid state during failed session open",
			"order_id", orderID, "result", result.String())
	}

	reason := "provider_rejected"
	wrapped := fmt.Errorf("%w: %v", ErrProviderRejected, cause)
	if payment.IsTransient(cause) || errors.Is(cause, payment.ErrProviderUnavailable) {
		reason = "provider_unavailable"
		wrapped = fmt.Errorf("%w: %v", ErrProviderUnavailable, cause)
	}
	if s.metrics != nil {
		s.metrics.SessionOpenFailed.WithLabelValues(reason).Inc()
		s.metrics.PaymentFailed.WithLabelValues("open_failed").Inc()
	}
	s.logger.Warn("checkout session open failed",
		"order_id", orderID, "reason", reason, "error", cause)
	return wrapped
}
