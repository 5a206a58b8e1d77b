// Package rabbitmq is the alternative queue transport. Each logical queue is a
// durable classic queue on the default exchange; retryable failures are
// returned to the queue with Nack(requeue).
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/weather-imaging-service/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Connection wraps one AMQP connection shared by publishers and consumers.
type Connection struct {
	conn   *amqp.Connection
	logger *slog.Logger
}

// Dial connects to the broker at url.
func Dial(url string, logger *slog.Logger) (*Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%w: rabbitmq dial: %w", domain.ErrTransport, err)
	}
	return &Connection{conn: conn, logger: logger}, nil
}

func (c *Connection) Close() error {
	return c.conn.Close()
}

// CheckReadiness fails once the connection has been closed by either side.
func (c *Connection) CheckReadiness(_ context.Context) error {
	if c.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

// declareQueue creates the queue if absent. Redeclaring with identical
// arguments is a no-op on the broker.
func declareQueue(ch *amqp.Channel, name string) error {
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("%w: declare queue %s: %w", domain.ErrTransport, name, err)
	}
	return nil
}

// Publisher publishes envelopes to one queue.
// It implements pipeline.Publisher.
type Publisher struct {
	conn    *Connection
	queue   string
	timeout time.Duration

	// amqp channels are not safe for concurrent publishing.
	mu sync.Mutex
	ch *amqp.Channel
}

// NewPublisher returns a publisher for queue. The channel and queue are set up
// on first Publish.
func (c *Connection) NewPublisher(queue string, timeout time.Duration) *Publisher {
	return &Publisher{conn: c, queue: queue, timeout: timeout}
}

// Publish sends a persistent message and waits for the broker to confirm it.
func (p *Publisher) Publish(ctx context.Context, key, body string) error {
	return p.PublishBatch(ctx, []domain.Message{{Key: key, Body: body}})
}

// PublishBatch sends every message, then waits until the broker has
// confirmed all of them. A nack or a missing confirm fails the batch.
func (p *Publisher) PublishBatch(ctx context.Context, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}
	now := domain.Now()
	confirms := make([]confirmation, 0, len(msgs))
	for _, m := range msgs {
		conf, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", p.queue, false, false, newPublishing(m.Key, m.Body, now))
		if err != nil {
			p.reset()
			return fmt.Errorf("%w: publish to %s: %w", domain.ErrTransport, p.queue, err)
		}
		confirms = append(confirms, conf)
	}
	if err := awaitConfirms(ctx, confirms); err != nil {
		p.reset()
		return fmt.Errorf("%w: publish to %s: %w", domain.ErrTransport, p.queue, err)
	}
	return nil
}

// confirmation is the part of amqp.DeferredConfirmation used here.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

func awaitConfirms(ctx context.Context, confirms []confirmation) error {
	for i, c := range confirms {
		acked, err := c.WaitContext(ctx)
		if err != nil {
			return fmt.Errorf("confirm %d of %d: %w", i+1, len(confirms), err)
		}
		if !acked {
			return fmt.Errorf("broker nacked message %d of %d", i+1, len(confirms))
		}
	}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	return err
}

// channel returns the open channel, reopening it after a failure. Caller holds mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	ch, err := p.conn.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: open channel: %w", domain.ErrTransport, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%w: enable publisher confirms: %w", domain.ErrTransport, err)
	}
	if err := declareQueue(ch, p.queue); err != nil {
		_ = ch.Close()
		return nil, err
	}
	p.ch = ch
	return ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
}

func newPublishing(key, body string, at time.Time) amqp.Publishing {
	return amqp.Publishing{
		ContentType:   "text/plain",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: key,
		Timestamp:     at,
		Body:          []byte(body),
	}
}

// Consumer receives deliveries from one queue on its own channel with a
// prefetch of one.
// It implements pipeline.Source.
type Consumer struct {
	ch         *amqp.Channel
	queue      string
	deliveries <-chan amqp.Delivery
}

// NewConsumer declares the queue and starts consuming with manual acks.
func (c *Connection) NewConsumer(queue string) (*Consumer, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: open channel: %w", domain.ErrTransport, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%w: set prefetch: %w", domain.ErrTransport, err)
	}
	if err := declareQueue(ch, queue); err != nil {
		_ = ch.Close()
		return nil, err
	}
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%w: consume %s: %w", domain.ErrTransport, queue, err)
	}
	return &Consumer{ch: ch, queue: queue, deliveries: deliveries}, nil
}

// Fetch blocks until the next delivery arrives or ctx is done. Once the
// channel or connection is gone it returns domain.ErrSourceClosed; the
// consumer does not reconnect.
func (c *Consumer) Fetch(ctx context.Context) (domain.Delivery, error) {
	select {
	case <-ctx.Done():
		return domain.Delivery{}, ctx.Err()
	case d, ok := <-c.deliveries:
		if !ok {
			return domain.Delivery{}, fmt.Errorf("%w: deliveries channel for %s closed", domain.ErrSourceClosed, c.queue)
		}
		return mapDelivery(c.queue, d), nil
	}
}

func (c *Consumer) Close() error {
	return c.ch.Close()
}

func mapDelivery(queue string, d amqp.Delivery) domain.Delivery {
	return domain.Delivery{
		ID:          fmt.Sprintf("%s/%d", queue, d.DeliveryTag),
		Key:         d.CorrelationId,
		Body:        string(d.Body),
		Queue:       queue,
		Timestamp:   d.Timestamp,
		Redelivered: d.Redelivered,
		Ack: func(context.Context) error {
			return d.Ack(false)
		},
		Requeue: func(context.Context) error {
			return d.Nack(false, true)
		},
	}
}
