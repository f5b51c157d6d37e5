package service

import (
	"context"
	"log/slog"

	"github.com/OlehChornii/pet-marketplace-sub000/internal/domain"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/store"
)

// OrderService provides read access to orders and the fulfillment workflow.
// Fulfillment moves independently of payment; an operator can start
// processing before the payment webhook lands, and a cancellation never
// touches the payment axis.
type OrderService interface {
	// GetOrder retrieves an order by id.
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	// ListOrdersByOwner retrieves an owner's orders, newest first.
	ListOrdersByOwner(ctx context.Context, ownerID string) ([]domain.Order, error)

	// UpdateFulfillment moves an order's fulfillment status.
	UpdateFulfillment(ctx context.Context, orderID string, to domain.FulfillmentStatus) (*domain.Order, error)
}

// orderService implements OrderService.
type orderService struct {
	store  store.OrderStore
	logger *slog.Logger
}

// NewOrderService creates a new OrderService instance.
func NewOrderService(orderStore store.OrderStore, logger *slog.Logger) OrderService {
	return &orderService{
		store:  orderStore,
		logger: logger,
	}
}

// GetOrder retrieves an order by id.
func (s *orderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.store.GetOrder(ctx, orderID)
}

// ListOrdersByOwner retrieves an owner's orders, newest first.
func (s *orderService) ListOrdersByOwner(ctx context.Context, ownerID string) ([]domain.Order, error) {
	return s.store.ListOrdersByOwner(ctx, ownerID)
}

// UpdateFulfillment moves an order's fulfillment status.
func (s *orderService) UpdateFulfillment(ctx context.Context, orderID string, to domain.FulfillmentStatus) (*domain.Order, error) {
	if !domain.ValidFulfillmentStatus(to) {
		return nil, domain.Invalid("order.update_fulfillment", "unknown fulfillment status")
	}

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.FulfillmentStatus.CanTransitionTo(to) {
		return nil, domain.ErrIllegalTransition
	}

	if err := s.store.UpdateFulfillment(ctx, orderID, order.FulfillmentStatus, to); err != nil {
		return nil, err
	}

	s.logger.Info("fulfillment status updated",
		"order_id", orderID,
		"from", order.FulfillmentStatus,
		"to", to)

	return s.store.GetOrder(ctx, orderID)
}
