package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/OlehChornii/pet-marketplace-sub000/internal/domain"
)

// NATSPublisher implements Publisher over a NATS connection.
//
// Subjects follow <prefix>.payment.<status> for order events, so consumers
// can subscribe to a single status (orders.payment.paid) or everything
// (orders.payment.>). Alerts go to <prefix>.alerts.
type NATSPublisher struct {
	conn          *nats.Conn
	subjectPrefix string
	logger        *slog.Logger
}

// Compile-time check that NATSPublisher implements Publisher.
var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher connects to NATS and returns a publisher.
func NewNATSPublisher(url, subjectPrefix string, logger *slog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("pet-marketplace-payments"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, domain.WrapError(err, domain.EUNAVAILABLE, "events.connect", "failed to connect to NATS")
	}
	return &NATSPublisher{
		conn:          conn,
		subjectPrefix: subjectPrefix,
		logger:        logger,
	}, nil
}

// PublishOrderEvent announces a payment status change.
func (p *NATSPublisher) PublishOrderEvent(ctx context.Context, event OrderEvent) error {
	subject := fmt.Sprintf("%s.payment.%s", p.subjectPrefix, event.PaymentStatus)
	return p.publish(subject, event)
}

// PublishAlert raises an operator alert.
func (p *NATSPublisher) PublishAlert(ctx context.Context, alert Alert) error {
	subject := p.subjectPrefix + ".alerts"
	return p.publish(subject, alert)
}

func (p *NATSPublisher) publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.Internal(err, "events.publish", "failed to encode event")
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("event publish failed", "subject", subject, "error", err)
		return domain.WrapError(err, domain.EUNAVAILABLE, "events.publish", "failed to publish event")
	}
	return nil
}

// Close drains in-flight messages and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("nats drain failed", "error", err)
		p.conn.Close()
	}
}
