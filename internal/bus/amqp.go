package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

const exchangeName = "mafiad.rooms"

// AMQPBus publishes room updates to a RabbitMQ topic exchange, routing key
// room.<roomId>. Each subscriber gets its own auto-deleted queue, so every
// instance sees every publication for the rooms it cares about.
type AMQPBus struct {
	conn *amqp.Connection

	mu      sync.Mutex
	pubChan *amqp.Channel
}

func NewAMQPBus(url string) (*AMQPBus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchangeName, "topic", false, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPBus{conn: conn, pubChan: ch}, nil
}

func routingKey(roomID string) string { return "room." + roomID }

func (b *AMQPBus) Publish(ctx context.Context, pub Publication) error {
	raw, err := json.Marshal(pub)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pubChan.PublishWithContext(ctx, exchangeName, routingKey(pub.RoomID), false, false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        raw,
		})
}

func (b *AMQPBus) Subscribe(ctx context.Context, roomID string) (<-chan Publication, func(), error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, nil, err
	}
	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, nil, err
	}
	if err := ch.QueueBind(queue.Name, routingKey(roomID), exchangeName, false, nil); err != nil {
		_ = ch.Close()
		return nil, nil, err
	}
	deliveries, err := ch.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, nil, err
	}

	out := make(chan Publication, 16)
	go func() {
		defer close(out)
		for {
			select {
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var pub Publication
				if err := json.Unmarshal(d.Body, &pub); err != nil {
					continue
				}
				select {
				case out <- pub:
				default:
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	cancel := func() { _ = ch.Close() }
	return out, cancel, nil
}

func (b *AMQPBus) Close() error {
	return b.conn.Close()
}
