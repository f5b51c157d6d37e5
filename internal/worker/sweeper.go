package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/OlehChornii/pet-marketplace-sub000/internal/domain"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/service"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/store"
)

// Config holds sweeper configuration
type Config struct {
	// WorkerID uniquely identifies this sweeper instance
	WorkerID string

	// PollInterval is how often to look for stale orders
	PollInterval time.Duration

	// MinAge is how long an order must sit in awaiting_confirmation
	// before the sweep pulls its session. Keeps the sweep from racing
	// webhooks that are merely seconds behind.
	MinAge time.Duration

	// BatchSize caps the orders verified per sweep
	BatchSize int
}

// Sweeper is the safety net behind the push and pull paths: it finds
// orders that have waited too long for a session outcome and verifies
// them against the provider. An order both the webhook and the client
// missed still converges, just later.
type Sweeper struct {
	config    Config
	store     store.OrderStore
	reconcile service.ReconcileService
	logger    *slog.Logger
}

// NewSweeper creates a new reconciliation sweeper
func NewSweeper(
	orderStore store.OrderStore,
	reconcile service.ReconcileService,
	config Config,
	logger *slog.Logger,
) *Sweeper {
	// Set defaults
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("sweeper-%s", uuid.New().String()[:8])
	}
	if config.PollInterval == 0 {
		config.PollInterval = time.Minute
	}
	if config.MinAge == 0 {
		config.MinAge = 15 * time.Minute
	}
	if config.BatchSize == 0 {
		config.BatchSize = 50
	}

	return &Sweeper{
		config:    config,
		store:     orderStore,
		reconcile: reconcile,
		logger:    logger,
	}
}

// Start runs sweep cycles until the context is cancelled
func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.Info("sweeper starting",
		"worker_id", s.config.WorkerID,
		"poll_interval", s.config.PollInterval,
		"min_age", s.config.MinAge,
		"batch_size", s.config.BatchSize,
	)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopping", "worker_id", s.config.WorkerID)
			return ctx.Err()
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.logger.Error("sweep cycle failed", "worker_id", s.config.WorkerID, "error", err)
			}
		}
	}
}

// sweep runs one cycle: list stale orders, verify each. A failing order
// is logged and skipped; the next cycle picks it up again.
func (s *Sweeper) sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.config.MinAge)
	orders, err := s.store.ListStaleAwaiting(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		return nil
	}

	s.logger.Info("sweeping stale orders", "count", len(orders))
	for i := range orders {
		order := &orders[i]
		refreshed, err := s.reconcile.VerifySession(ctx, order.ID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("sweep verification failed",
				"order_id", order.ID, "error", err)
			continue
		}
		if refreshed.PaymentStatus != domain.PaymentAwaitingConfirmation {
			s.logger.Info("sweep settled order",
				"order_id", order.ID,
				"payment_status", refreshed.PaymentStatus)
		}
	}
	return nil
}
