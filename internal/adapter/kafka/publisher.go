package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/couchcryptid/weather-imaging-service/internal/config"
	"github.com/couchcryptid/weather-imaging-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// batchTimeout bounds how long a synchronous write waits for more messages
// before flushing. kafka-go defaults to a full second.
const batchTimeout = 10 * time.Millisecond

// Publisher produces envelopes to one Kafka topic.
// It implements pipeline.Publisher.
type Publisher struct {
	writer     *kafkago.Writer
	brokers    []string
	topic      string
	partitions int
	timeout    time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	ensured bool
}

// NewPublisher creates a Kafka producer for the given topic.
func NewPublisher(cfg *config.Config, topic string, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           batchTimeout,
	}
	return &Publisher{
		writer:     w,
		brokers:    cfg.KafkaBrokers,
		topic:      topic,
		partitions: cfg.KafkaPartitions,
		timeout:    cfg.QueueTimeout,
		logger:     logger,
	}
}

// Publish writes one message. The topic is created on first use.
func (p *Publisher) Publish(ctx context.Context, key, body string) error {
	return p.PublishBatch(ctx, []domain.Message{{Key: key, Body: body}})
}

// PublishBatch writes msgs in a single WriteMessages call.
func (p *Publisher) PublishBatch(ctx context.Context, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.EnsureTopic(ctx); err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, newMessages(msgs, domain.Now())...); err != nil {
		return fmt.Errorf("%w: publish %d messages to %s: %w", domain.ErrTransport, len(msgs), p.topic, err)
	}
	p.logger.Debug("kafka messages written", "topic", p.topic, "count", len(msgs))
	return nil
}

// EnsureTopic creates the topic if it does not exist. Concurrent creators
// racing on the same topic both succeed.
func (p *Publisher) EnsureTopic(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ensured {
		return nil
	}
	if err := createTopic(ctx, p.brokers, kafkago.TopicConfig{
		Topic:             p.topic,
		NumPartitions:     p.partitions,
		ReplicationFactor: 1,
	}); err != nil {
		return fmt.Errorf("%w: create topic %s: %w", domain.ErrTransport, p.topic, err)
	}
	p.ensured = true
	p.logger.Debug("kafka topic ready", "topic", p.topic)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// CreateTopic creates topic with the configured partition count if it does
// not exist yet.
func CreateTopic(ctx context.Context, cfg *config.Config, topic string) error {
	err := createTopic(ctx, cfg.KafkaBrokers, kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     cfg.KafkaPartitions,
		ReplicationFactor: 1,
	})
	if err != nil {
		return fmt.Errorf("%w: create topic %s: %w", domain.ErrTransport, topic, err)
	}
	return nil
}

// CheckBrokers succeeds as soon as one broker accepts a connection.
func CheckBrokers(ctx context.Context, brokers []string) error {
	var lastErr error
	for _, broker := range brokers {
		conn, err := kafkago.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return nil
	}
	return fmt.Errorf("no kafka broker reachable: %w", lastErr)
}

func newMessages(msgs []domain.Message, at time.Time) []kafkago.Message {
	out := make([]kafkago.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, newMessage(m.Key, m.Body, at))
	}
	return out
}

func newMessage(key, body string, at time.Time) kafkago.Message {
	msg := kafkago.Message{
		Value: []byte(body),
		Time:  at,
		Headers: []kafkago.Header{
			{Key: "published_at", Value: []byte(at.Format(time.RFC3339))},
		},
	}
	if key != "" {
		msg.Key = []byte(key)
	}
	return msg
}

func createTopic(ctx context.Context, brokers []string, topic kafkago.TopicConfig) error {
	if len(brokers) == 0 {
		return errors.New("no brokers configured")
	}
	conn, err := kafkago.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	ctrl, err := kafkago.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return err
	}
	defer ctrl.Close()

	if err := ctrl.CreateTopics(topic); err != nil && !errors.Is(err, kafkago.TopicAlreadyExists) {
		return err
	}
	return nil
}
