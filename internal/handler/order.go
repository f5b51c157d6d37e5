package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/OlehChornii/pet-marketplace-sub000/internal/domain"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/service"
)

// OrderHandler exposes order reads, on-demand payment verification,
// receipt resolution, and the fulfillment workflow.
type OrderHandler struct {
	orders    service.OrderService
	reconcile service.ReconcileService
	receipts  service.ReceiptService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orders service.OrderService, reconcile service.ReconcileService, receipts service.ReceiptService) *OrderHandler {
	return &OrderHandler{
		orders:    orders,
		reconcile: reconcile,
		receipts:  receipts,
	}
}

// Register mounts the order routes.
func (h *OrderHandler) Register(e *echo.Echo) {
	e.GET("/orders", h.ListOrders)
	e.GET("/orders/:id", h.GetOrder)
	e.GET("/orders/:id/payment", h.VerifyPayment)
	e.GET("/orders/:id/receipt", h.GetReceipt)
	e.PATCH("/orders/:id/fulfillment", h.UpdateFulfillment)
}

type orderResponse struct {
	ID                string            `json:"id"`
	OwnerID           string            `json:"owner_id"`
	LineItems         []domain.LineItem `json:"line_items"`
	TotalCents        int64             `json:"total_cents"`
	Currency          string            `json:"currency"`
	FulfillmentStatus string            `json:"fulfillment_status"`
	PaymentStatus     string            `json:"payment_status"`
	ShippingAddress   string            `json:"shipping_address"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func toOrderResponse(order *domain.Order) orderResponse {
	return orderResponse{
		ID:                order.ID,
		OwnerID:           order.OwnerID,
		LineItems:         order.LineItems,
		TotalCents:        order.TotalCents,
		Currency:          order.Currency,
		FulfillmentStatus: string(order.FulfillmentStatus),
		PaymentStatus:     string(order.PaymentStatus),
		ShippingAddress:   order.ShippingAddress,
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
	}
}

// GetOrder handles GET /orders/:id.
func (h *OrderHandler) GetOrder(c echo.Context) error {
	order, err := h.orders.GetOrder(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toOrderResponse(order))
}

// ListOrders handles GET /orders?owner_id=.
func (h *OrderHandler) ListOrders(c echo.Context) error {
	ownerID := c.QueryParam("owner_id")
	if ownerID == "" {
		return domain.Invalid("handler.list_orders", "owner_id query parameter is required")
	}

	orders, err := h.orders.ListOrdersByOwner(c.Request().Context(), ownerID)
	if err != nil {
		return err
	}

	resp := make([]orderResponse, len(orders))
	for i := range orders {
		resp[i] = toOrderResponse(&orders[i])
	}
	return c.JSON(http.StatusOK, map[string]any{"orders": resp})
}

// VerifyPayment handles GET /orders/:id/payment. It reconciles against the
// provider before answering, so a client landing on the success page gets
// the settled status even if the webhook has not arrived yet.
func (h *OrderHandler) VerifyPayment(c echo.Context) error {
	order, err := h.reconcile.VerifySession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{
		"order_id":       order.ID,
		"payment_status": string(order.PaymentStatus),
	})
}

type receiptResponse struct {
	OrderID           string    `json:"order_id"`
	State             string    `json:"state"`
	ReceiptURL        string    `json:"receipt_url,omitempty"`
	CheckedAt         time.Time `json:"checked_at"`
	RetryAfterSeconds int64     `json:"retry_after_seconds,omitempty"`
}

// GetReceipt handles GET /orders/:id/receipt.
func (h *OrderHandler) GetReceipt(c echo.Context) error {
	result, err := h.receipts.GetReceipt(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	retryAfter := int64(result.RetryAfter.Round(time.Second) / time.Second)
	if result.State == service.ReceiptPending && retryAfter < 1 {
		retryAfter = 1
	}
	return c.JSON(http.StatusOK, receiptResponse{
		OrderID:           result.OrderID,
		State:             string(result.State),
		ReceiptURL:        result.URL,
		CheckedAt:         result.CheckedAt,
		RetryAfterSeconds: retryAfter,
	})
}

type fulfillmentRequest struct {
	Status string `json:"status"`
}

// UpdateFulfillment handles PATCH /orders/:id/fulfillment.
func (h *OrderHandler) UpdateFulfillment(c echo.Context) error {
	var req fulfillmentRequest
	if err := c.Bind(&req); err != nil {
		return domain.Invalid("handler.update_fulfillment", "invalid request body")
	}
	if req.Status == "" {
		return domain.Invalid("handler.update_fulfillment", "status is required")
	}

	order, err := h.orders.UpdateFulfillment(c.Request().Context(), c.Param("id"), domain.FulfillmentStatus(req.Status))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toOrderResponse(order))
}
