package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/OlehChornii/pet-marketplace-sub000/internal/domain"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/payment"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/store"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/telemetry"
)

// ReceiptState classifies a receipt resolution outcome.
type ReceiptState string

const (
	// ReceiptReady means the receipt URL is available.
	ReceiptReady ReceiptState = "ready"

	// ReceiptPending means the order is paid but the provider has not
	// generated the receipt artifact yet.
	ReceiptPending ReceiptState = "pending"

	// ReceiptNotApplicable means the order's payment status does not and
	// will not produce a receipt.
	ReceiptNotApplicable ReceiptState = "not_applicable"
)

// ReceiptResult is the outcome of a receipt resolution.
type ReceiptResult struct {
	OrderID   string
	State     ReceiptState
	URL       string
	CheckedAt time.Time

	// RetryAfter hints when a pending lookup is worth repeating.
	// Zero unless State is ReceiptPending.
	RetryAfter time.Duration
}

// ReceiptService resolves processor-generated receipts for paid orders.
//
// Receipt generation lags payment confirmation, so resolution polls the
// provider. A per-order minimum interval keeps impatient clients from
// turning into a provider hammering loop: within the interval the last
// answer is returned without a provider call. A resolved URL is cached
// for good; receipts do not change once generated.
type ReceiptService interface {
	// GetReceipt resolves the receipt for an order.
	GetReceipt(ctx context.Context, orderID string) (*ReceiptResult, error)
}

type receiptEntry struct {
	url       string
	checkedAt time.Time
}

// receiptCacheLimit bounds the in-process cache; the oldest entry is
// evicted first. An evicted receipt just costs one more provider lookup.
const receiptCacheLimit = 4096

// receiptService implements ReceiptService.
type receiptService struct {
	store       store.OrderStore
	provider    payment.Provider
	logger      *slog.Logger
	metrics     *telemetry.BusinessMetrics
	minInterval time.Duration

	// now is swappable for tests.
	now func() time.Time

	mu         sync.Mutex
	cache      map[string]receiptEntry
	cacheLimit int
}

// NewReceiptService creates a new ReceiptService instance.
func NewReceiptService(
	orderStore store.OrderStore,
	provider payment.Provider,
	logger *slog.Logger,
	metrics *telemetry.BusinessMetrics,
	minInterval time.Duration,
) ReceiptService {
	return &receiptService{
		store:       orderStore,
		provider:    provider,
		logger:      logger,
		metrics:     metrics,
		minInterval: minInterval,
		now:         time.Now,
		cache:       make(map[string]receiptEntry),
		cacheLimit:  receiptCacheLimit,
	}
}

// GetReceipt resolves the receipt for an order.
func (s *receiptService) GetReceipt(ctx context.Context, orderID string) (*ReceiptResult, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// Refunded orders keep their receipt; everything short of paid has
	// nothing to show and never will under the current status.
	if order.PaymentStatus != domain.PaymentPaid && order.PaymentStatus != domain.PaymentRefunded {
		s.recordLookup("not_applicable")
		return &ReceiptResult{
			OrderID:   orderID,
			State:     ReceiptNotApplicable,
			CheckedAt: s.now().UTC(),
		}, nil
	}

	s.mu.Lock()
	entry, cached := s.cache[orderID]
	s.mu.Unlock()

	if cached && entry.url != "" {
		s.recordLookup("ready")
		return &ReceiptResult{
			OrderID:   orderID,
			State:     ReceiptReady,
			URL:       entry.url,
			CheckedAt: entry.checkedAt,
		}, nil
	}

	now := s.now().UTC()
	if cached && now.Sub(entry.checkedAt) < s.minInterval {
		s.recordLookup("throttled")
		return &ReceiptResult{
			OrderID:    orderID,
			State:      ReceiptPending,
			CheckedAt:  entry.checkedAt,
			RetryAfter: s.minInterval - now.Sub(entry.checkedAt),
		}, nil
	}

	lookup, err := s.provider.LookupReceipt(ctx, order.ProviderSessionID)
	if err != nil {
		if payment.IsTransient(err) {
			return nil, ErrProviderUnavailable
		}
		return nil, domain.WrapError(err, domain.EINTERNAL, "receipt.get", "receipt lookup failed")
	}

	s.mu.Lock()
	if _, exists := s.cache[orderID]; !exists && len(s.cache) >= s.cacheLimit {
		s.evictOldestLocked()
	}
	if lookup.Ready {
		s.cache[orderID] = receiptEntry{url: lookup.URL, checkedAt: now}
	} else {
		s.cache[orderID] = receiptEntry{checkedAt: now}
	}
	s.mu.Unlock()

	if !lookup.Ready {
		s.logger.Debug("receipt not generated yet", "order_id", orderID)
		s.recordLookup("pending")
		return &ReceiptResult{
			OrderID:    orderID,
			State:      ReceiptPending,
			CheckedAt:  now,
			RetryAfter: s.minInterval,
		}, nil
	}

	s.logger.Info("receipt resolved", "order_id", orderID)
	s.recordLookup("ready")
	return &ReceiptResult{
		OrderID:   orderID,
		State:     ReceiptReady,
		URL:       lookup.URL,
		CheckedAt: now,
	}, nil
}

// evictOldestLocked removes the entry with the oldest checkedAt.
// Caller holds s.mu.
func (s *receiptService) evictOldestLocked() {
	var (
		oldestID string
		oldestAt time.Time
	)
	for id, entry := range s.cache {
		if oldestID == "" || entry.checkedAt.Before(oldestAt) {
			oldestID = id
			oldestAt = entry.checkedAt
		}
	}
	if oldestID != "" {
		delete(s.cache, oldestID)
	}
}

func (s *receiptService) recordLookup(state string) {
	if s.metrics != nil {
		s.metrics.ReceiptLookups.WithLabelValues(state).Inc()
	}
}
