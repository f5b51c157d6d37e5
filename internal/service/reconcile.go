package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/OlehChornii/pet-marketplace-sub000/internal/domain"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/events"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/payment"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/store"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/telemetry"
)

// ReconcileService converges order payment status with the provider's view
// of the session. Two paths feed it: pushed notifications (webhooks, at
// least once, any order) and on-demand pulls (the client asking "where is
// my order"). Both funnel into one apply path guarded by the applied-event
// ledger, so the outcome is the same regardless of which path reports first
// or how many times it reports.
type ReconcileService interface {
	// HandleNotification processes one pushed provider notification.
	// A nil return means the notification is consumed and must be
	// acknowledged, including events that were duplicates, matched no
	// order, or were quarantined as illegal. Only signature failures and
	// infrastructure errors propagate, so the provider retries exactly
	// the deliveries that can still change something.
	HandleNotification(ctx context.Context, payload []byte, signature string) error

	// VerifySession checks the provider's current view of an order's
	// session and applies any missed outcome, returning the refreshed
	// order. Orders without a session or already in a settled status are
	// returned as-is without a provider call.
	VerifySession(ctx context.Context, orderID string) (*domain.Order, error)
}

// reconcileService implements ReconcileService.
type reconcileService struct {
	store     store.OrderStore
	provider  payment.Provider
	publisher events.Publisher
	logger    *slog.Logger
	metrics   *telemetry.BusinessMetrics

	maxRetries uint64
	retryBase  time.Duration

	// orderLocks serializes apply decisions per order within this process.
	// The store's CAS guards still hold across processes; the lock just
	// keeps local races from burning conflict retries. Entries are
	// reference counted and dropped once no caller holds or waits on them.
	mu         sync.Mutex
	orderLocks map[string]*orderLock
}

type orderLock struct {
	sync.Mutex
	refs int
}

// NewReconcileService creates a new ReconcileService instance.
func NewReconcileService(
	orderStore store.OrderStore,
	provider payment.Provider,
	publisher events.Publisher,
	logger *slog.Logger,
	metrics *telemetry.BusinessMetrics,
	maxRetries uint64,
	retryBase time.Duration,
) ReconcileService {
	return &reconcileService{
		store:      orderStore,
		provider:   provider,
		publisher:  publisher,
		logger:     logger,
		metrics:    metrics,
		maxRetries: maxRetries,
		retryBase:  retryBase,
		orderLocks: make(map[string]*orderLock),
	}
}

// HandleNotification processes one pushed provider notification.
func (s *reconcileService) HandleNotification(ctx context.Context, payload []byte, signature string) error {
	event, err := s.provider.VerifyNotification(payload, signature)
	if err != nil {
		if s.metrics != nil {
			s.metrics.WebhookFailed.WithLabelValues("bad_signature").Inc()
		}
		return err
	}

	start := time.Now()
	if s.metrics != nil {
		s.metrics.WebhookReceived.WithLabelValues(string(event.Kind)).Inc()
		defer func() {
			s.metrics.WebhookLatency.WithLabelValues(string(event.Kind)).Observe(time.Since(start).Seconds())
		}()
	}

	if event.Kind == domain.EventUnknown {
		// Unhandled types never transition, but when one references a known
		// order its id still goes into the ledger so redelivery collapses.
		order, err := s.resolveOrder(ctx, event)
		switch {
		case err == nil:
			if err := s.store.RecordNoOpEvent(ctx, order.ID, event.EventID); err != nil {
				return err
			}
		case !domain.IsCode(err, domain.ENOTFOUND):
			return err
		}
		s.logger.Debug("ignoring unhandled notification type", "event_id", event.EventID)
		s.recordProcessed(event.Kind, "noop")
		return nil
	}

	order, err := s.resolveOrder(ctx, event)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			// No order to apply to. Acknowledge so the provider stops
			// redelivering, but leave a trail for operators.
			s.logger.Warn("notification matched no order",
				"event_id", event.EventID,
				"session_id", event.ProviderSessionID,
				"kind", event.Kind)
			if s.metrics != nil {
				s.metrics.UnmatchedEvents.Inc()
			}
			s.alert(ctx, events.Alert{
				Kind:       "unmatched_event",
				Severity:   events.SeverityWarning,
				EventID:    event.EventID,
				Detail:     fmt.Sprintf("no order for session %q", event.ProviderSessionID),
				OccurredAt: time.Now().UTC(),
			})
			s.recordProcessed(event.Kind, "unmatched")
			return nil
		}
		if s.metrics != nil {
			s.metrics.WebhookFailed.WithLabelValues("store_error").Inc()
		}
		return err
	}

	return s.applyEvent(ctx, order.ID, event)
}

// VerifySession checks the provider's view of an order's session.
func (s *reconcileService) VerifySession(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// Nothing to verify: no session yet, or the status is already past
	// the point where the session outcome matters.
	if order.ProviderSessionID == "" || order.PaymentStatus != domain.PaymentAwaitingConfirmation {
		s.recordPull("unchanged")
		return order, nil
	}

	status, err := s.lookupSession(ctx, order.ProviderSessionID)
	if err != nil {
		s.recordPull("error")
		if payment.IsTransient(err) {
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return nil, domain.WrapError(err, domain.EINTERNAL, "reconcile.verify_session", "session lookup failed")
	}

	if status.State == payment.SessionOpen {
		s.recordPull("unchanged")
		return order, nil
	}

	// Synthesize a deterministic event id so pulling twice, or pulling
	// after the webhook already landed, collapses in the ledger.
	event := &domain.PaymentEvent{
		EventID:           fmt.Sprintf("pull:%s:%s", status.ID, status.State),
		ProviderSessionID: status.ID,
		CorrelationID:     order.ID,
		Kind:              kindForState(status.State),
		AmountCents:       status.AmountCents,
		ReportedAt:        time.Now().UTC(),
	}
	if err := s.applyEvent(ctx, order.ID, event); err != nil {
		return nil, err
	}
	s.recordPull("applied")

	return s.store.GetOrder(ctx, orderID)
}

// resolveOrder finds the order a notification refers to, by session id
// first and local order id second. Refund events carry no session id.
func (s *reconcileService) resolveOrder(ctx context.Context, event *domain.PaymentEvent) (*domain.Order, error) {
	if event.ProviderSessionID != "" {
		order, err := s.store.GetOrderBySessionID(ctx, event.ProviderSessionID)
		if err == nil || !domain.IsCode(err, domain.ENOTFOUND) {
			return order, err
		}
	}
	if event.CorrelationID != "" {
		return s.store.GetOrder(ctx, event.CorrelationID)
	}
	return nil, domain.ErrOrderNotFound
}

// applyEvent is the single apply path shared by push and pull. It decides
// the target status, checks the ledger and the transition table, and
// performs the guarded store update. Returning nil means the event is
// settled: applied, recorded as a no-op, already known, or quarantined.
func (s *reconcileService) applyEvent(ctx context.Context, orderID string, event *domain.PaymentEvent) error {
	unlock := s.lockOrder(orderID)
	defer unlock()

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	if order.EventApplied(event.EventID) {
		s.logger.Debug("event already applied", "order_id", orderID, "event_id", event.EventID)
		if s.metrics != nil {
			s.metrics.DuplicateEvents.Inc()
		}
		s.recordProcessed(event.Kind, "duplicate")
		return nil
	}

	target, mismatch := s.decideTarget(order, event)

	if order.PaymentStatus == target {
		// The other path got here first with a different event id.
		// Record the id so redelivery stays silent.
		if err := s.store.RecordNoOpEvent(ctx, orderID, event.EventID); err != nil {
			return err
		}
		s.recordProcessed(event.Kind, "noop")
		return nil
	}

	if !order.PaymentStatus.CanTransitionTo(target) {
		s.quarantine(ctx, order, event, target)
		return nil
	}

	result, err := s.store.ApplyEvent(ctx, store.ApplyEventParams{
		OrderID: orderID,
		EventID: event.EventID,
		From:    order.PaymentStatus,
		To:      target,
	})
	if err != nil {
		return err
	}
	switch result {
	case store.ResultDuplicate:
		if s.metrics != nil {
			s.metrics.DuplicateEvents.Inc()
		}
		s.recordProcessed(event.Kind, "duplicate")
		return nil
	case store.ResultConflict:
		// Another process moved the order between our read and the CAS.
		// The event is still unrecorded; let the provider redeliver and
		// hit the fresh state.
		s.logger.Warn("apply lost status race",
			"order_id", orderID, "event_id", event.EventID,
			"read_status", order.PaymentStatus, "target", target)
		return domain.Errorf(domain.ECONFLICT, "reconcile.apply_event", "order status changed concurrently")
	}

	s.afterApply(ctx, order, event, target, mismatch)
	s.recordProcessed(event.Kind, "applied")
	return nil
}

// decideTarget maps an event to the payment status it should produce.
// A completed session whose charged amount disagrees with the order total
// is treated as a failure, never as a success for the wrong amount.
func (s *reconcileService) decideTarget(order *domain.Order, event *domain.PaymentEvent) (domain.PaymentStatus, bool) {
	switch event.Kind {
	case domain.EventSessionCompleted:
		if event.AmountCents != order.TotalCents {
			return domain.PaymentFailed, true
		}
		return domain.PaymentPaid, false
	case domain.EventSessionExpired:
		return domain.PaymentFailed, false
	case domain.EventRefundIssued:
		return domain.PaymentRefunded, false
	default:
		return order.PaymentStatus, false
	}
}

// quarantine handles an event whose transition the state machine forbids:
// keep the order as it is, leave the event id unrecorded, tell operators,
// and let the caller acknowledge.
func (s *reconcileService) quarantine(ctx context.Context, order *domain.Order, event *domain.PaymentEvent, target domain.PaymentStatus) {
	s.logger.Warn("quarantined illegal transition",
		"order_id", order.ID,
		"event_id", event.EventID,
		"kind", event.Kind,
		"from", order.PaymentStatus,
		"to", target)
	if s.metrics != nil {
		s.metrics.IllegalTransitions.WithLabelValues(string(order.PaymentStatus), string(target)).Inc()
	}
	s.alert(ctx, events.Alert{
		Kind:       "illegal_transition",
		Severity:   events.SeverityWarning,
		OrderID:    order.ID,
		EventID:    event.EventID,
		Detail:     fmt.Sprintf("event %s would move %s to %s", event.Kind, order.PaymentStatus, target),
		OccurredAt: time.Now().UTC(),
	})
	s.recordProcessed(event.Kind, "quarantined")
}

// afterApply emits the metrics, events, and alerts for a committed
// transition. All of it is best effort; the transition already happened.
func (s *reconcileService) afterApply(ctx context.Context, order *domain.Order, event *domain.PaymentEvent, target domain.PaymentStatus, mismatch bool) {
	s.logger.Info("payment status updated",
		"order_id", order.ID,
		"event_id", event.EventID,
		"from", order.PaymentStatus,
		"to", target,
		"amount_cents", event.AmountCents)

	if s.metrics != nil {
		switch target {
		case domain.PaymentPaid:
			s.metrics.PaymentSucceeded.Inc()
			s.metrics.RevenueCollected.Add(float64(order.TotalCents))
		case domain.PaymentRefunded:
			s.metrics.RefundsIssued.Inc()
		case domain.PaymentFailed:
			reason := "session_expired"
			if mismatch {
				reason = "amount_mismatch"
			}
			s.metrics.PaymentFailed.WithLabelValues(reason).Inc()
		}
		if mismatch {
			s.metrics.AmountMismatches.Inc()
		}
	}

	if mismatch {
		s.logger.Error("charged amount disagrees with order total",
			"order_id", order.ID,
			"event_id", event.EventID,
			"order_cents", order.TotalCents,
			"charged_cents", event.AmountCents)
		s.alert(ctx, events.Alert{
			Kind:       "amount_mismatch",
			Severity:   events.SeverityCritical,
			OrderID:    order.ID,
			EventID:    event.EventID,
			Detail:     fmt.Sprintf("order total %d, charged %d", order.TotalCents, event.AmountCents),
			OccurredAt: time.Now().UTC(),
		})
	}

	if err := s.publisher.PublishOrderEvent(ctx, events.OrderEvent{
		OrderID:       order.ID,
		OwnerID:       order.OwnerID,
		PaymentStatus: target,
		EventID:       event.EventID,
		AmountCents:   event.AmountCents,
		OccurredAt:    time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("order event publish failed", "order_id", order.ID, "error", err)
	}
}

// lookupSession queries the provider with bounded exponential backoff on
// transient failures.
func (s *reconcileService) lookupSession(ctx context.Context, sessionID string) (*payment.SessionStatus, error) {
	var status *payment.SessionStatus
	backoff := retry.WithMaxRetries(s.maxRetries, retry.NewExponential(s.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		st, err := s.provider.LookupSession(ctx, sessionID)
		if err != nil {
			if payment.IsTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		status = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

func (s *reconcileService) lockOrder(orderID string) func() {
	s.mu.Lock()
	lock, ok := s.orderLocks[orderID]
	if !ok {
		lock = &orderLock{}
		s.orderLocks[orderID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.Lock()
	return func() {
		lock.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.orderLocks, orderID)
		}
		s.mu.Unlock()
	}
}

func (s *reconcileService) alert(ctx context.Context, alert events.Alert) {
	if err := s.publisher.PublishAlert(ctx, alert); err != nil {
		s.logger.Warn("alert publish failed", "kind", alert.Kind, "error", err)
	}
}

func (s *reconcileService) recordProcessed(kind domain.EventKind, result string) {
	if s.metrics != nil {
		s.metrics.WebhookProcessed.WithLabelValues(string(kind), result).Inc()
	}
}

func (s *reconcileService) recordPull(result string) {
	if s.metrics != nil {
		s.metrics.PullVerifications.WithLabelValues(result).Inc()
	}
}

func kindForState(state payment.SessionState) domain.EventKind {
	if state == payment.SessionCompleted {
		return domain.EventSessionCompleted
	}
	return domain.EventSessionExpired
}
