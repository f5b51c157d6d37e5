package handler

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/OlehChornii/pet-marketplace-sub000/internal/domain"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/service"
)

// CheckoutHandler exposes the checkout session endpoint.
type CheckoutHandler struct {
	checkout service.CheckoutService
	validate *validator.Validate
}

// NewCheckoutHandler creates a new CheckoutHandler.
func NewCheckoutHandler(checkout service.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		validate: validator.New(),
	}
}

// Register mounts the checkout routes.
func (h *CheckoutHandler) Register(e *echo.Echo) {
	e.POST("/checkout/sessions", h.OpenSession)
}

type openSessionRequest struct {
	OwnerID         string            `json:"owner_id" validate:"required"`
	LineItems       []lineItemRequest `json:"line_items" validate:"required,min=1,dive"`
	ShippingAddress string            `json:"shipping_address" validate:"required"`
}

type lineItemRequest struct {
	SubjectID   string `json:"subject_id" validate:"required"`
	Name        string `json:"name" validate:"required"`
	UnitCents   int64  `json:"unit_cents" validate:"required,gt=0"`
	Description string `json:"description"`
}

type openSessionResponse struct {
	OrderID     string `json:"order_id"`
	RedirectURL string `json:"redirect_url"`
}

// OpenSession handles POST /checkout/sessions.
func (h *CheckoutHandler) OpenSession(c echo.Context) error {
	var req openSessionRequest
	if err := c.Bind(&req); err != nil {
		return domain.Invalid("handler.open_session", "invalid request body")
	}
	if err := h.validate.Struct(&req); err != nil {
		return domain.Invalid("handler.open_session", err.Error())
	}

	items := make([]domain.LineItem, len(req.LineItems))
	for i, item := range req.LineItems {
		items[i] = domain.LineItem{
			SubjectID:   item.SubjectID,
			Name:        item.Name,
			UnitCents:   item.UnitCents,
			Description: item.Description,
		}
	}

	result, err := h.checkout.OpenSession(c.Request().Context(), service.OpenSessionParams{
		OwnerID:         req.OwnerID,
		LineItems:       items,
		ShippingAddress: req.ShippingAddress,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, openSessionResponse{
		OrderID:     result.OrderID,
		RedirectURL: result.RedirectURL,
	})
}
