// Package notify publishes routing notifications to AMQP.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

//go:generate mockgen -destination=mocks/mock_publisher.go -package=mocks github.com/mattjoyce/threadgate/internal/notify Publisher

// Publisher sends envelopes under a routing key.
type Publisher interface {
	Publish(ctx context.Context, key string, msg Envelope) error
	Close() error
}

type amqpPublisher struct {
	conn     *amqp091.Connection
	exchange string
	log      *slog.Logger
}

// Dial connects to url and declares exchange as a durable topic exchange.
func Dial(url, exchange string, logger *slog.Logger) (Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	return &amqpPublisher{conn: conn, exchange: exchange, log: logger}, nil
}

func (p *amqpPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if msg.Meta.ID == "" {
		msg.Meta.ID = uuid.NewString()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	err = ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     msg.Meta.ID,
		CorrelationId: msg.Meta.CorrelationID,
		Type:          msg.Meta.Type,
		Timestamp:     msg.Meta.Time,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	p.log.Debug("published", "exchange", p.exchange, "key", key, "message_id", msg.Meta.ID)
	return nil
}

func (p *amqpPublisher) Close() error {
	return p.conn.Close()
}

// Notifier turns domain events into envelopes.
type Notifier struct {
	pub        Publisher
	routingKey string
	producer   string
	log        *slog.Logger
	now        func() time.Time
}

func NewNotifier(pub Publisher, routingKey, producer string, logger *slog.Logger) *Notifier {
	return &Notifier{
		pub:        pub,
		routingKey: routingKey,
		producer:   producer,
		log:        logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ThreadRouted publishes a ThreadRoutedV1. correlationID is optional.
func (n *Notifier) ThreadRouted(ctx context.Context, ev ThreadRoutedV1, correlationID string) error {
	env := Envelope{
		Meta: Meta{
			ID:            uuid.NewString(),
			CorrelationID: correlationID,
			Producer:      n.producer,
			Time:          n.now(),
			Type:          "thread.routed.v1",
		},
		Data: ev,
	}
	if err := n.pub.Publish(ctx, n.routingKey, env); err != nil {
		n.log.Error("routing notification failed", "thread_id", ev.ThreadID, "operator_id", ev.OperatorID, "error", err)
		return err
	}
	return nil
}

// Close releases the underlying publisher.
func (n *Notifier) Close() error {
	return n.pub.Close()
}
