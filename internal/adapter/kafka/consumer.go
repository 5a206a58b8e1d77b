package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/weather-imaging-service/internal/config"
	"github.com/couchcryptid/weather-imaging-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Consumer reads one topic as a member of the configured consumer group.
// Offsets are committed only through Delivery.Ack.
// It implements pipeline.Source.
type Consumer struct {
	reader *kafkago.Reader
	logger *slog.Logger
}

// NewConsumer creates a group reader for topic. Each consumer loop gets its
// own Consumer so partitions are spread across loops and commits stay ordered
// within a partition.
func NewConsumer(cfg *config.Config, topic string, logger *slog.Logger) *Consumer {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.KafkaGroupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{reader: r, logger: logger}
}

// Fetch blocks until the next message arrives or ctx is done.
func (c *Consumer) Fetch(ctx context.Context) (domain.Delivery, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return domain.Delivery{}, err
	}
	return mapMessageToDelivery(msg, c.reader.CommitMessages), nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

type commitFunc func(ctx context.Context, msgs ...kafkago.Message) error

func mapMessageToDelivery(msg kafkago.Message, commit commitFunc) domain.Delivery {
	return domain.Delivery{
		ID:        fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset),
		Key:       string(msg.Key),
		Body:      string(msg.Value),
		Queue:     msg.Topic,
		Timestamp: msg.Time,
		Ack: func(ctx context.Context) error {
			return commit(ctx, msg)
		},
	}
}
