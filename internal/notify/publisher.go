// Package notify moves outbox rows to the message broker. The email service
// consumes the queue; nothing here renders or sends mail.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/safar/order-lifecycle/internal/config"
	"github.com/safar/order-lifecycle/internal/models"
)

type Publisher interface {
	Publish(ctx context.Context, n models.Notification) error
}

// Message is the body published for each notification.
type Message struct {
	ID             string                  `json:"id"`
	Kind           models.NotificationKind `json:"kind"`
	RecipientEmail string                  `json:"recipient_email"`
	Payload        json.RawMessage         `json:"payload"`
	CreatedAt      time.Time               `json:"created_at"`
}

func RoutingKey(kind models.NotificationKind) string {
	return "notification." + string(kind)
}

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type AMQPPublisher struct {
	conn *amqp.Connection
	ch   channel
	cfg  config.RabbitMQConfig
}

// DialAMQP connects to the broker and declares the exchange and queues.
func DialAMQP(cfg config.RabbitMQConfig) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	p := &AMQPPublisher{conn: conn, ch: ch, cfg: cfg}
	if err := p.setup(); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) setup() error {
	dlx := p.cfg.DeadLetterQueue + "_exchange"
	if err := p.ch.ExchangeDeclare(dlx, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead letter exchange: %w", err)
	}
	if _, err := p.ch.QueueDeclare(p.cfg.DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead letter queue: %w", err)
	}
	if err := p.ch.QueueBind(p.cfg.DeadLetterQueue, p.cfg.DeadLetterQueue, dlx, false, nil); err != nil {
		return fmt.Errorf("bind dead letter queue: %w", err)
	}

	if err := p.ch.ExchangeDeclare(p.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	_, err := p.ch.QueueDeclare(p.cfg.Queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    dlx,
		"x-dead-letter-routing-key": p.cfg.DeadLetterQueue,
	})
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := p.ch.QueueBind(p.cfg.Queue, "notification.#", p.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, n models.Notification) error {
	body, err := json.Marshal(Message{
		ID:             n.ID.String(),
		Kind:           n.Kind,
		RecipientEmail: n.RecipientEmail,
		Payload:        n.Payload,
		CreatedAt:      n.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		ContentType:  "application/json",
		MessageId:    n.ID.String(),
		Type:         string(n.Kind),
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, p.cfg.Exchange, RoutingKey(n.Kind), false, false, msg); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func (p *AMQPPublisher) Close() {
	if c, ok := p.ch.(*amqp.Channel); ok && c != nil {
		_ = c.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
