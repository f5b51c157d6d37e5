package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/OlehChornii/pet-marketplace-sub000/internal/domain"
)

// MemoryStore implements OrderStore in memory.
// Used for tests and local development without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	orders   map[string]*domain.Order
	sessions map[string]string // provider session id -> order id
}

// Compile-time check that MemoryStore implements OrderStore.
var _ OrderStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory order store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]*domain.Order),
		sessions: make(map[string]string),
	}
}

// CreateOrder persists a new order.
func (s *MemoryStore) CreateOrder(ctx context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.ID]; exists {
		return domain.Conflict("store.create_order", "order id already exists")
	}
	s.orders[order.ID] = copyOrder(order)
	return nil
}

// GetOrder retrieves an order by id.
func (s *MemoryStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, exists := s.orders[orderID]
	if !exists {
		return nil, domain.ErrOrderNotFound
	}
	return copyOrder(order), nil
}

// GetOrderBySessionID retrieves the order bound to a provider session.
func (s *MemoryStore) GetOrderBySessionID(ctx context.Context, sessionID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	orderID, exists := s.sessions[sessionID]
	if !exists {
		return nil, domain.ErrOrderNotFound
	}
	return copyOrder(s.orders[orderID]), nil
}

// ListOrdersByOwner retrieves an owner's orders, newest first.
func (s *MemoryStore) ListOrdersByOwner(ctx context.Context, ownerID string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var orders []domain.Order
	for _, order := range s.orders {
		if order.OwnerID == ownerID {
			orders = append(orders, *copyOrder(order))
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

// ListStaleAwaiting retrieves orders stuck in awaiting_confirmation.
func (s *MemoryStore) ListStaleAwaiting(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var orders []domain.Order
	for _, order := range s.orders {
		if order.PaymentStatus == domain.PaymentAwaitingConfirmation && order.UpdatedAt.Before(cutoff) {
			orders = append(orders, *copyOrder(order))
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].UpdatedAt.Before(orders[j].UpdatedAt)
	})
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

// AttachSession binds a session id and moves unpaid to awaiting_confirmation.
func (s *MemoryStore) AttachSession(ctx context.Context, orderID, sessionID, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, exists := s.orders[orderID]
	if !exists {
		return domain.ErrOrderNotFound
	}
	if order.PaymentStatus != domain.PaymentUnpaid || order.ProviderSessionID != "" {
		return domain.ErrSessionAlreadySet
	}
	order.ProviderSessionID = sessionID
	order.PaymentStatus = domain.PaymentAwaitingConfirmation
	order.AppliedEventIDs = append(order.AppliedEventIDs, eventID)
	order.UpdatedAt = time.Now().UTC()
	s.sessions[sessionID] = orderID
	return nil
}

// ApplyEvent performs a guarded payment status transition.
func (s *MemoryStore) ApplyEvent(ctx context.Context, params ApplyEventParams) (ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, exists := s.orders[params.OrderID]
	if !exists {
		return 0, domain.ErrOrderNotFound
	}
	if order.EventApplied(params.EventID) {
		return ResultDuplicate, nil
	}
	if order.PaymentStatus != params.From {
		return ResultConflict, nil
	}
	order.PaymentStatus = params.To
	order.AppliedEventIDs = append(order.AppliedEventIDs, params.EventID)
	order.UpdatedAt = time.Now().UTC()
	return ResultApplied, nil
}

// RecordNoOpEvent appends an event id to the ledger without a transition.
func (s *MemoryStore) RecordNoOpEvent(ctx context.Context, orderID, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, exists := s.orders[orderID]
	if !exists {
		return domain.ErrOrderNotFound
	}
	if order.EventApplied(eventID) {
		return nil
	}
	order.AppliedEventIDs = append(order.AppliedEventIDs, eventID)
	order.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateFulfillment performs a guarded fulfillment status transition.
func (s *MemoryStore) UpdateFulfillment(ctx context.Context, orderID string, from, to domain.FulfillmentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, exists := s.orders[orderID]
	if !exists {
		return domain.ErrOrderNotFound
	}
	if order.FulfillmentStatus != from {
		return domain.ErrIllegalTransition
	}
	order.FulfillmentStatus = to
	order.UpdatedAt = time.Now().UTC()
	return nil
}

func copyOrder(order *domain.Order) *domain.Order {
	copied := *order
	copied.LineItems = append([]domain.LineItem(nil), order.LineItems...)
	copied.AppliedEventIDs = append([]string(nil), order.AppliedEventIDs...)
	return &copied
}
