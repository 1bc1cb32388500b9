// Package amqp publishes portal events and mail requests to RabbitMQ so the
// surrounding portal services (notification, mailing delivery, audit) can
// react to onboarding progress.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"

	"github.com/neomorfeo/onboardiq/internal/domain"
)

// Compile-time checks.
var (
	_ domain.EventPublisher = (*Publisher)(nil)
	_ domain.MailSender     = (*Publisher)(nil)
)

const (
	// DefaultExchange is the topic exchange portal events are published to.
	DefaultExchange = "onboardiq.portal"

	mailRoutingKey = "mail.send"
)

// Publisher publishes JSON messages on a topic exchange. Events use their
// kind as routing key; mails go out under a fixed mail routing key.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// Dial connects to the broker, declares the exchange, and returns a ready
// publisher. The exchange is durable so messages survive broker restarts.
func Dial(url, exchange string) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing amqp broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening amqp channel: %w", err)
	}

	if err := channel.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring exchange %s: %w", exchange, err)
	}

	return &Publisher{conn: conn, channel: channel, exchange: exchange}, nil
}

// Close closes the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return fmt.Errorf("closing amqp channel: %w", err)
	}
	return p.conn.Close()
}

// Publish emits a portal event, routed by its kind.
func (p *Publisher) Publish(ctx context.Context, event domain.PortalEvent) error {
	return p.publish(ctx, event.Kind, event)
}

// Send hands a rendered mail request to the delivery service's queue.
func (p *Publisher) Send(ctx context.Context, mail domain.Mail) error {
	return p.publish(ctx, mailRoutingKey, mail)
}

func (p *Publisher) publish(_ context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:     "application/json",
		ContentEncoding: "utf-8",
		DeliveryMode:    amqp.Persistent,
		Body:            body,
	}

	// streadway/amqp has no context-aware publish; the channel mutex keeps
	// concurrent publishers from interleaving frames.
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.channel.Publish(p.exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("publishing to %s/%s: %w", p.exchange, routingKey, err)
	}
	return nil
}
