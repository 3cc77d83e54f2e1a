// Package events publishes order lifecycle events to the message
// broker for downstream fulfillment.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"boutique/pkg/domain"
)

// RoutingKeyOrderCompleted routes completed payment sessions.
const RoutingKeyOrderCompleted = "order.completed"

// Publisher publishes JSON order events on a durable topic exchange.
type Publisher struct {
	mu       sync.Mutex
	url      string
	exchange string
	conn     *amqp.Connection
	channel  *amqp.Channel
}

// NewPublisher dials the broker and declares the exchange. The
// exchange defaults to "boutique.orders".
func NewPublisher(url, exchange string) (*Publisher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("amqp url required")
	}
	if exchange == "" {
		exchange = "boutique.orders"
	}
	p := &Publisher{url: url, exchange: exchange}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	p.conn = conn
	p.channel = channel
	return nil
}

// PublishOrderCompleted publishes the event with a fresh idempotency
// key and returns the key. Consumers deduplicate on MessageId.
func (p *Publisher) PublishOrderCompleted(ctx context.Context, event domain.OrderEvent) (string, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	body, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("encode order event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx, p.exchange, RoutingKeyOrderCompleted, false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
	if err != nil {
		return "", fmt.Errorf("publish order event: %w", err)
	}
	return event.ID, nil
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	if p.channel != nil {
		errs = append(errs, p.channel.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
