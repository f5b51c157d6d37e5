package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/OlehChornii/pet-marketplace-sub000/internal/domain"
)

// metadataOrderKey is the session metadata key carrying the local order id.
const metadataOrderKey = "order_id"

// StripeProvider implements Provider using Stripe Checkout.
//
// Sessions are created in payment mode with inline price data, the local
// order id stored both as ClientReferenceID and metadata so that completed
// and refund notifications can be matched back to the order.
type StripeProvider struct {
	webhookSecret string
}

// NewStripeProvider creates a Stripe payment provider. The API key is set
// process-wide; timeout bounds every outbound call and retries are left to
// the caller so transient failures surface as classified errors.
func NewStripeProvider(apiKey, webhookSecret string, timeout time.Duration) *StripeProvider {
	stripe.Key = apiKey
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
	}))
	return &StripeProvider{
		webhookSecret: webhookSecret,
	}
}

// OpenSession creates a hosted checkout session.
func (s *StripeProvider) OpenSession(ctx context.Context, params OpenSessionParams) (*Session, error) {
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(params.LineItems))
	for _, item := range params.LineItems {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(params.Currency),
				UnitAmount: stripe.Int64(item.UnitCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:        stripe.String(item.Name),
					Description: stripe.String(item.Description),
				},
			},
		})
	}

	sessionParams := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:         lineItems,
		SuccessURL:        stripe.String(params.SuccessURL),
		CancelURL:         stripe.String(params.CancelURL),
		ClientReferenceID: stripe.String(params.CorrelationID),
	}
	sessionParams.Context = ctx
	sessionParams.AddMetadata(metadataOrderKey, params.CorrelationID)
	// Propagated to the payment intent so charge-level events carry the
	// order id too.
	sessionParams.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
		Metadata: map[string]string{metadataOrderKey: params.CorrelationID},
	}

	sess, err := checkoutsession.New(sessionParams)
	if err != nil {
		return nil, wrapStripeError("stripe.open_session", err)
	}

	return &Session{
		ID:          sess.ID,
		RedirectURL: sess.URL,
	}, nil
}

// LookupSession retrieves a checkout session's current state.
func (s *StripeProvider) LookupSession(ctx context.Context, sessionID string) (*SessionStatus, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := checkoutsession.Get(sessionID, params)
	if err != nil {
		return nil, wrapStripeError("stripe.lookup_session", err)
	}

	return &SessionStatus{
		ID:          sess.ID,
		State:       mapSessionState(sess),
		AmountCents: sess.AmountTotal,
	}, nil
}

// LookupReceipt retrieves the receipt URL from the charge behind a session.
func (s *StripeProvider) LookupReceipt(ctx context.Context, sessionID string) (*ReceiptLookup, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent.latest_charge")

	sess, err := checkoutsession.Get(sessionID, params)
	if err != nil {
		return nil, wrapStripeError("stripe.lookup_receipt", err)
	}

	if sess.PaymentIntent == nil || sess.PaymentIntent.LatestCharge == nil {
		return &ReceiptLookup{Ready: false}, nil
	}
	charge := sess.PaymentIntent.LatestCharge
	if charge.ReceiptURL == "" {
		return &ReceiptLookup{Ready: false}, nil
	}

	return &ReceiptLookup{
		Ready: true,
		URL:   charge.ReceiptURL,
	}, nil
}

// VerifyNotification authenticates a webhook payload and decodes it into
// the neutral event form. Event types outside the handled set decode to
// EventUnknown so the caller can acknowledge without acting.
func (s *StripeProvider) VerifyNotification(payload []byte, signature string) (*domain.PaymentEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.expired":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, &ProviderError{Op: "stripe.verify_notification", Err: err}
		}
		kind := domain.EventSessionCompleted
		if event.Type == "checkout.session.expired" {
			kind = domain.EventSessionExpired
		}
		return &domain.PaymentEvent{
			EventID:           event.ID,
			ProviderSessionID: sess.ID,
			CorrelationID:     sess.Metadata[metadataOrderKey],
			Kind:              kind,
			AmountCents:       sess.AmountTotal,
			ReportedAt:        time.Unix(event.Created, 0).UTC(),
		}, nil

	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil, &ProviderError{Op: "stripe.verify_notification", Err: err}
		}
		return &domain.PaymentEvent{
			EventID:       event.ID,
			CorrelationID: charge.Metadata[metadataOrderKey],
			Kind:          domain.EventRefundIssued,
			AmountCents:   charge.AmountRefunded,
			ReportedAt:    time.Unix(event.Created, 0).UTC(),
		}, nil

	default:
		return &domain.PaymentEvent{
			EventID:    event.ID,
			Kind:       domain.EventUnknown,
			ReportedAt: time.Unix(event.Created, 0).UTC(),
		}, nil
	}
}

// mapSessionState folds Stripe's two status fields into one lifecycle state.
// A session can report status "complete" while the payment is still
// processing; only a settled payment counts as completed.
func mapSessionState(sess *stripe.CheckoutSession) SessionState {
	switch sess.Status {
	case stripe.CheckoutSessionStatusExpired:
		return SessionExpired
	case stripe.CheckoutSessionStatusComplete:
		if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
			return SessionCompleted
		}
		return SessionOpen
	default:
		return SessionOpen
	}
}

// wrapStripeError classifies a Stripe SDK error into a ProviderError.
func wrapStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == http.StatusNotFound:
			return &ProviderError{Op: op, Err: fmt.Errorf("%w: %s", ErrSessionNotFound, stripeErr.Code)}
		case stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
			stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
			return &ProviderError{Op: op, Transient: true, Err: err}
		default:
			return &ProviderError{Op: op, Err: err}
		}
	}
	// Network-level failure, no HTTP response at all.
	return &ProviderError{Op: op, Transient: true, Err: fmt.Errorf("%w: %v", ErrProviderUnavailable, err)}
}
