package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/xaenox/replydesk/internal/models"
	"go.uber.org/zap"
)

const producer = "replydesk"

// EventMeta describes a published assignment event.
type EventMeta struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Time     time.Time `json:"time"`
	Producer string    `json:"producer"`
}

type Envelope struct {
	Meta EventMeta           `json:"meta"`
	Data models.Notification `json:"data"`
}

// RoutingKey returns the topic for a notification kind, e.g. assignments.blocked.v1.
func RoutingKey(kind models.NotificationKind) string {
	return "assignments." + string(kind) + ".v1"
}

// NewEnvelope wraps n in an event envelope with a fresh id.
func NewEnvelope(n models.Notification) Envelope {
	at := n.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return Envelope{
		Meta: EventMeta{
			ID:       uuid.NewString(),
			Type:     RoutingKey(n.Kind),
			Time:     at,
			Producer: producer,
		},
		Data: n,
	}
}

// AMQPPublisher publishes assignment events to a RabbitMQ topic exchange so
// other services (dashboards, audit, the web inbox) can follow claims.
type AMQPPublisher struct {
	conn     *amqp091.Connection
	exchange string
	log      *zap.Logger
}

func NewAMQPPublisher(url, exchange string, logger *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %q: %w", exchange, err)
	}

	return &AMQPPublisher{conn: conn, exchange: exchange, log: logger}, nil
}

func (p *AMQPPublisher) Notify(ctx context.Context, n models.Notification) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	env := NewEnvelope(n)
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	key := RoutingKey(n.Kind)
	err = ch.PublishWithContext(ctx, p.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     env.Meta.ID,
			CorrelationId: n.ThreadID,
			Timestamp:     env.Meta.Time,
			Body:          body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}

	p.log.Debug("published assignment event",
		zap.String("key", key),
		zap.String("exchange", p.exchange))
	return nil
}

func (p *AMQPPublisher) Close() error {
	return p.conn.Close()
}
