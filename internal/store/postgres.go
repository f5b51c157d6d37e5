package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/OlehChornii/pet-marketplace-sub000/internal/domain"
)

// PostgresStore implements OrderStore using PostgreSQL.
//
// CAS guards are expressed as conditions on single UPDATE statements so
// every transition is atomic without explicit row locks. A zero-row update
// is followed by a re-read to classify what won the race.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Compile-time check that PostgresStore implements OrderStore.
var _ OrderStore = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgreSQL-backed order store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const orderColumns = `id, owner_id, line_items, total_cents, currency,
	fulfillment_status, payment_status, provider_session_id,
	applied_event_ids, shipping_address, created_at, updated_at`

// CreateOrder persists a new order.
func (s *PostgresStore) CreateOrder(ctx context.Context, order *domain.Order) error {
	items, err := json.Marshal(order.LineItems)
	if err != nil {
		return domain.Internal(err, "store.create_order", "failed to create order")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO orders (id, owner_id, line_items, total_cents, currency,
			fulfillment_status, payment_status, applied_event_ids,
			shipping_address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		order.ID, order.OwnerID, items, order.TotalCents, order.Currency,
		order.FulfillmentStatus, order.PaymentStatus, textArray(order.AppliedEventIDs),
		order.ShippingAddress, order.CreatedAt)
	if err != nil {
		return domain.Internal(err, "store.create_order", "failed to create order")
	}
	return nil
}

// GetOrder retrieves an order by id.
func (s *PostgresStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	return scanOrder(row)
}

// GetOrderBySessionID retrieves the order bound to a provider session.
func (s *PostgresStore) GetOrderBySessionID(ctx context.Context, sessionID string) (*domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE provider_session_id = $1`, sessionID)
	return scanOrder(row)
}

// ListOrdersByOwner retrieves an owner's orders, newest first.
func (s *PostgresStore) ListOrdersByOwner(ctx context.Context, ownerID string) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, domain.Internal(err, "store.list_orders", "failed to list orders")
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, "store.list_orders", "failed to list orders")
	}
	return orders, nil
}

// ListStaleAwaiting retrieves orders stuck in awaiting_confirmation.
func (s *PostgresStore) ListStaleAwaiting(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		WHERE payment_status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`,
		domain.PaymentAwaitingConfirmation, cutoff, limit)
	if err != nil {
		return nil, domain.Internal(err, "store.list_stale_awaiting", "failed to list stale orders")
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, "store.list_stale_awaiting", "failed to list stale orders")
	}
	return orders, nil
}

// AttachSession binds a session id and moves unpaid to awaiting_confirmation.
func (s *PostgresStore) AttachSession(ctx context.Context, orderID, sessionID, eventID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET provider_session_id = $2,
			payment_status = $3,
			applied_event_ids = applied_event_ids || $4,
			updated_at = now()
		WHERE id = $1
			AND payment_status = $5
			AND provider_session_id IS NULL`,
		orderID, sessionID, domain.PaymentAwaitingConfirmation,
		[]string{eventID}, domain.PaymentUnpaid)
	if err != nil {
		return domain.Internal(err, "store.attach_session", "failed to attach session")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return err
	}
	return domain.ErrSessionAlreadySet
}

// ApplyEvent performs a guarded payment status transition. The ledger check
// and the status guard share one UPDATE, so duplicate delivery and racing
// transitions are both resolved without a transaction.
func (s *PostgresStore) ApplyEvent(ctx context.Context, params ApplyEventParams) (ApplyResult, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET payment_status = $3,
			applied_event_ids = applied_event_ids || $2,
			updated_at = now()
		WHERE id = $1
			AND payment_status = $4
			AND NOT (applied_event_ids @> $2)`,
		params.OrderID, []string{params.EventID}, params.To, params.From)
	if err != nil {
		return 0, domain.Internal(err, "store.apply_event", "failed to apply event")
	}
	if tag.RowsAffected() == 1 {
		return ResultApplied, nil
	}

	order, err := s.GetOrder(ctx, params.OrderID)
	if err != nil {
		return 0, err
	}
	if order.EventApplied(params.EventID) {
		return ResultDuplicate, nil
	}
	return ResultConflict, nil
}

// RecordNoOpEvent appends an event id to the ledger without a transition.
func (s *PostgresStore) RecordNoOpEvent(ctx context.Context, orderID, eventID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET applied_event_ids = applied_event_ids || $2,
			updated_at = now()
		WHERE id = $1
			AND NOT (applied_event_ids @> $2)`,
		orderID, []string{eventID})
	if err != nil {
		return domain.Internal(err, "store.record_noop_event", "failed to record event")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Either the order is gone or the id is already recorded.
	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return err
	}
	return nil
}

// UpdateFulfillment performs a guarded fulfillment status transition.
func (s *PostgresStore) UpdateFulfillment(ctx context.Context, orderID string, from, to domain.FulfillmentStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET fulfillment_status = $3,
			updated_at = now()
		WHERE id = $1
			AND fulfillment_status = $2`,
		orderID, from, to)
	if err != nil {
		return domain.Internal(err, "store.update_fulfillment", "failed to update fulfillment")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return err
	}
	return domain.ErrIllegalTransition
}

// textArray coalesces nil to an empty slice. pgx encodes a nil []string as
// SQL NULL, which the NOT NULL applied_event_ids column rejects.
func textArray(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order     domain.Order
		items     []byte
		sessionID *string
	)
	err := row.Scan(
		&order.ID, &order.OwnerID, &items, &order.TotalCents, &order.Currency,
		&order.FulfillmentStatus, &order.PaymentStatus, &sessionID,
		&order.AppliedEventIDs, &order.ShippingAddress,
		&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, domain.Internal(err, "store.scan_order", "failed to scan order")
	}
	if sessionID != nil {
		order.ProviderSessionID = *sessionID
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &order.LineItems); err != nil {
			return nil, domain.Internal(fmt.Errorf("decode line items: %w", err), "store.scan_order", "failed to scan order")
		}
	}
	return &order, nil
}
