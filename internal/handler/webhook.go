package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/OlehChornii/pet-marketplace-sub000/internal/domain"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/payment"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/service"
)

// WebhookHandler receives pushed payment notifications.
//
// Response codes drive the provider's redelivery: 200 consumes the
// delivery, anything else schedules a retry. Processing outcomes that a
// retry cannot improve (duplicates, unmatched events, quarantined
// transitions) are therefore acknowledged with 200; only signature
// failures and infrastructure errors refuse the delivery.
type WebhookHandler struct {
	reconcile service.ReconcileService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(reconcile service.ReconcileService) *WebhookHandler {
	return &WebhookHandler{reconcile: reconcile}
}

// Register mounts the webhook route.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhooks/payment", h.HandleNotification)
}

// HandleNotification handles POST /webhooks/payment.
func (h *WebhookHandler) HandleNotification(c echo.Context) error {
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return domain.Invalid("handler.webhook", "error reading request body")
	}

	signature := c.Request().Header.Get("Stripe-Signature")
	if signature == "" {
		return domain.Invalid("handler.webhook", "missing signature header")
	}

	if err := h.reconcile.HandleNotification(c.Request().Context(), payload, signature); err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			return domain.Errorf(domain.EINVALID, "handler.webhook", "signature verification failed")
		}
		return err
	}

	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}
