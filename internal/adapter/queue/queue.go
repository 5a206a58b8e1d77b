// Package queue selects the configured broker and hands out publishers and
// consumers for the pipeline's logical queues.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/couchcryptid/weather-imaging-service/internal/adapter/kafka"
	"github.com/couchcryptid/weather-imaging-service/internal/adapter/rabbitmq"
	"github.com/couchcryptid/weather-imaging-service/internal/config"
	"github.com/couchcryptid/weather-imaging-service/internal/pipeline"
)

// Transport owns every broker client it creates and closes them together.
type Transport struct {
	cfg     *config.Config
	logger  *slog.Logger
	rabbit  *rabbitmq.Connection
	closers []io.Closer
}

// Open connects to the broker named by QUEUE_BACKEND. Kafka clients connect
// lazily; RabbitMQ dials immediately.
func Open(cfg *config.Config, logger *slog.Logger) (*Transport, error) {
	t := &Transport{cfg: cfg, logger: logger.With("backend", cfg.QueueBackend)}
	switch cfg.QueueBackend {
	case config.BackendKafka:
	case config.BackendRabbitMQ:
		conn, err := rabbitmq.Dial(cfg.RabbitMQURL, logger)
		if err != nil {
			return nil, err
		}
		t.rabbit = conn
	default:
		return nil, fmt.Errorf("unsupported queue backend %q", cfg.QueueBackend)
	}
	return t, nil
}

// Publisher returns a publisher for the named queue.
func (t *Transport) Publisher(name string) pipeline.Publisher {
	if t.rabbit != nil {
		p := t.rabbit.NewPublisher(name, t.cfg.QueueTimeout)
		t.closers = append(t.closers, p)
		return p
	}
	p := kafka.NewPublisher(t.cfg, name, t.logger)
	t.closers = append(t.closers, p)
	return p
}

// Consumers returns n independent consumers of the named queue.
func (t *Transport) Consumers(name string, n int) ([]pipeline.Source, error) {
	sources := make([]pipeline.Source, 0, n)
	for range n {
		if t.rabbit != nil {
			c, err := t.rabbit.NewConsumer(name)
			if err != nil {
				return nil, err
			}
			t.closers = append(t.closers, c)
			sources = append(sources, c)
			continue
		}
		c := kafka.NewConsumer(t.cfg, name, t.logger)
		t.closers = append(t.closers, c)
		sources = append(sources, c)
	}
	return sources, nil
}

// EnsureQueues creates the named queues up front. Kafka consumers need their
// topic to exist before joining the group; RabbitMQ consumers declare their
// own queue.
func (t *Transport) EnsureQueues(ctx context.Context, names ...string) error {
	if t.rabbit != nil {
		return nil
	}
	for _, name := range names {
		if err := kafka.CreateTopic(ctx, t.cfg, name); err != nil {
			return err
		}
	}
	return nil
}

// CheckReadiness reports whether the broker is reachable.
func (t *Transport) CheckReadiness(ctx context.Context) error {
	if t.rabbit != nil {
		return t.rabbit.CheckReadiness(ctx)
	}
	return kafka.CheckBrokers(ctx, t.cfg.KafkaBrokers)
}

// Close closes every client in reverse creation order, then the connection.
func (t *Transport) Close() error {
	var errs []error
	for i := len(t.closers) - 1; i >= 0; i-- {
		if err := t.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if t.rabbit != nil {
		if err := t.rabbit.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
