package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safar/order-lifecycle/internal/config"
	"github.com/safar/order-lifecycle/internal/models"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	exchanges map[string]string
	queues    map[string]amqp.Table
	bindings  []string
	published []published
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{exchanges: map[string]string{}, queues: map[string]amqp.Table{}}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	f.exchanges[name] = kind
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	f.queues[name] = args
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	f.bindings = append(f.bindings, exchange+"->"+name+"@"+key)
	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func testRabbitConfig() config.RabbitMQConfig {
	return config.RabbitMQConfig{
		Exchange:        "notifications_exchange",
		Queue:           "notifications_queue",
		DeadLetterQueue: "notifications_dead_letter",
	}
}

func TestSetupDeclaresTopology(t *testing.T) {
	ch := newFakeChannel()
	p := &AMQPPublisher{ch: ch, cfg: testRabbitConfig()}
	require.NoError(t, p.setup())

	assert.Equal(t, "topic", ch.exchanges["notifications_exchange"])
	assert.Equal(t, "direct", ch.exchanges["notifications_dead_letter_exchange"])
	assert.Equal(t, "notifications_dead_letter_exchange", ch.queues["notifications_queue"]["x-dead-letter-exchange"])
	assert.Contains(t, ch.bindings, "notifications_exchange->notifications_queue@notification.#")
}

func TestPublish(t *testing.T) {
	ch := newFakeChannel()
	p := &AMQPPublisher{ch: ch, cfg: testRabbitConfig()}

	n := models.Notification{
		ID:             uuid.New(),
		Kind:           models.NotificationRefundStatus,
		RecipientEmail: "ana@example.com",
		Payload:        json.RawMessage(`{"new_status":"approved"}`),
		CreatedAt:      time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.Publish(context.Background(), n))

	require.Len(t, ch.published, 1)
	got := ch.published[0]
	assert.Equal(t, "notifications_exchange", got.exchange)
	assert.Equal(t, "notification.refund_status", got.key)
	assert.Equal(t, n.ID.String(), got.msg.MessageId)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)

	var body Message
	require.NoError(t, json.Unmarshal(got.msg.Body, &body))
	assert.Equal(t, "ana@example.com", body.RecipientEmail)
	assert.JSONEq(t, `{"new_status":"approved"}`, string(body.Payload))
}
