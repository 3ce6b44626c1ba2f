package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"dm-service/internal/models"
	"dm-service/internal/rabbitmq"
)

// AMQPBridge relays envelopes between instances through a topic exchange.
// Publish sends to the exchange with the topic as routing key; Run feeds
// everything the instance's private queue receives into the local Hub,
// including this instance's own publishes.
type AMQPBridge struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	queue    string
	hub      *Hub
	log      *zap.Logger
	mu       sync.Mutex
}

// NewAMQPBridge connects, declares the exchange and binds an exclusive
// auto-delete queue to every routing key.
func NewAMQPBridge(amqpURL, exchange string, hub *Hub, log *zap.Logger) (*AMQPBridge, error) {
	conn, ch, err := rabbitmq.Dial(amqpURL, exchange)
	if err != nil {
		return nil, fmt.Errorf("amqp bridge: %w", err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp bridge: declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "#", exchange, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp bridge: bind queue: %w", err)
	}

	log.Info("amqp bridge connected", zap.String("exchange", exchange), zap.String("queue", q.Name))
	return &AMQPBridge{conn: conn, ch: ch, exchange: exchange, queue: q.Name, hub: hub, log: log}, nil
}

// Publish sends env to the exchange. Delivery is transient.
func (b *AMQPBridge) Publish(ctx context.Context, env models.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch.PublishWithContext(ctx, b.exchange, env.Topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// Run consumes the instance queue until ctx is done or the channel closes.
func (b *AMQPBridge) Run(ctx context.Context) error {
	deliveries, err := b.ch.ConsumeWithContext(ctx, b.queue, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp bridge: consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("amqp bridge: delivery channel closed")
			}
			b.handle(ctx, d.Body)
		}
	}
}

func (b *AMQPBridge) handle(ctx context.Context, body []byte) {
	var env models.Envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Topic == "" {
		b.log.Warn("amqp bridge: dropping malformed envelope", zap.Error(err))
		return
	}
	_ = b.hub.Publish(ctx, env)
}

// Close shuts the channel and connection.
func (b *AMQPBridge) Close() error {
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
