package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/weather-imaging-service/internal/domain"
	"github.com/couchcryptid/weather-imaging-service/internal/observability"
)

// Publisher enqueues encoded envelopes. PublishBatch returns only after every
// message is accepted by the broker; on error some may have been.
type Publisher interface {
	Publish(ctx context.Context, key, body string) error
	PublishBatch(ctx context.Context, msgs []domain.Message) error
}

// Source yields deliveries from one queue. Fetch blocks until a message
// arrives or ctx is done.
type Source interface {
	Fetch(ctx context.Context) (domain.Delivery, error)
}

// Handler processes one message body. Errors for which domain.IsTerminal is
// true drop the message; any other error schedules a redelivery.
type Handler interface {
	Handle(ctx context.Context, body string) error
}

// FeedSource downloads the raw weather feed.
type FeedSource interface {
	FetchFeed(ctx context.Context) ([]byte, error)
}

// PhotoSource writes one base photo into w.
type PhotoSource interface {
	FetchPhoto(ctx context.Context, w io.Writer) error
}

// Renderer draws a station onto the photo read from src and writes a PNG to dst.
type Renderer interface {
	Render(dst io.Writer, src io.Reader, st domain.WeatherStation) error
}

// ArtifactStore is the object store holding rendered artifacts.
type ArtifactStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	List(ctx context.Context, prefix string) ([]domain.ObjectInfo, error)
	Open(ctx context.Context, key string) (io.ReadCloser, domain.ObjectInfo, error)
}

// LinkSigner issues time-limited read URLs.
type LinkSigner interface {
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Worker runs one consumer loop per source against a single queue and hands
// every delivery to the handler. A delivery is acknowledged only after the
// handler succeeds or fails terminally.
type Worker struct {
	queue          string
	sources        []Source
	handler        Handler
	processTimeout time.Duration
	logger         *slog.Logger
	metrics        *observability.Metrics
	running        atomic.Int32
}

// NewWorker creates a Worker. Each source is consumed by its own goroutine.
func NewWorker(queue string, sources []Source, h Handler, processTimeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Worker {
	return &Worker{
		queue:          queue,
		sources:        sources,
		handler:        h,
		processTimeout: processTimeout,
		logger:         logger.With("queue", queue),
		metrics:        metrics,
	}
}

// CheckReadiness returns nil while every consumer loop is running.
func (w *Worker) CheckReadiness(_ context.Context) error {
	if n := int(w.running.Load()); n < len(w.sources) {
		return fmt.Errorf("%s: %d of %d consumers running", w.queue, n, len(w.sources))
	}
	return nil
}

// Run consumes until the context is cancelled. If any source reports
// domain.ErrSourceClosed the remaining loops are stopped and Run returns that
// error, so the process can exit and be restarted with fresh connections.
func (w *Worker) Run(ctx context.Context) error {
	if len(w.sources) == 0 {
		return errors.New("worker has no sources")
	}
	w.logger.Info("worker started", "consumers", len(w.sources))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make([]error, len(w.sources))
	var wg sync.WaitGroup
	for i, src := range w.sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.consume(ctx, src, i); err != nil {
				errs[i] = err
				cancel()
			}
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		w.logger.Error("worker stopped", "error", err)
		return fmt.Errorf("%s: %w", w.queue, err)
	}
	w.logger.Info("worker stopped", "reason", ctx.Err())
	return nil
}

func (w *Worker) consume(ctx context.Context, src Source, id int) error {
	w.running.Add(1)
	w.metrics.WorkerRunning.WithLabelValues(w.queue).Inc()
	defer func() {
		w.running.Add(-1)
		w.metrics.WorkerRunning.WithLabelValues(w.queue).Dec()
	}()

	backoff := initialBackoff
	for ctx.Err() == nil {
		d, err := src.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, domain.ErrSourceClosed) {
				return err
			}
			w.logger.Error("fetch failed", "consumer", id, "error", err)
			if !backoffOrStop(ctx, &backoff) {
				return nil
			}
			continue
		}

		w.metrics.MessagesConsumed.WithLabelValues(w.queue).Inc()
		if !w.deliver(ctx, d, &backoff) {
			return nil
		}
	}
	return nil
}

// deliver runs the handler until the delivery is settled. Returns false if
// the worker should stop, leaving the delivery unacknowledged for the
// transport to hand out again.
func (w *Worker) deliver(ctx context.Context, d domain.Delivery, backoff *time.Duration) bool {
	for {
		err := w.handle(ctx, d)
		switch {
		case err == nil:
			w.ack(ctx, d)
			w.metrics.MessagesAcked.WithLabelValues(w.queue).Inc()
			*backoff = initialBackoff
			return true
		case domain.IsTerminal(err):
			w.logger.Warn("dropping message", "delivery", d.ID, "error", err)
			w.ack(ctx, d)
			w.metrics.MessagesDropped.WithLabelValues(w.queue).Inc()
			return true
		}

		if ctx.Err() != nil {
			return false
		}
		w.metrics.MessagesRetried.WithLabelValues(w.queue).Inc()
		w.logger.Warn("handler failed, will retry",
			"delivery", d.ID, "redelivered", d.Redelivered, "backoff", *backoff, "error", err)
		if !backoffOrStop(ctx, backoff) {
			return false
		}

		if d.Requeue != nil {
			if err := d.Requeue(ctx); err != nil {
				w.logger.Warn("requeue failed", "delivery", d.ID, "error", err)
			}
			return true
		}
		// The transport cannot redeliver a single message; retry in place.
	}
}

func (w *Worker) handle(ctx context.Context, d domain.Delivery) error {
	ctx, cancel := context.WithTimeout(ctx, w.processTimeout)
	defer cancel()
	return w.handler.Handle(ctx, d.Body)
}

func (w *Worker) ack(ctx context.Context, d domain.Delivery) {
	if d.Ack == nil {
		return
	}
	if err := d.Ack(ctx); err != nil {
		w.logger.Warn("ack failed", "delivery", d.ID, "error", err)
	}
}

// backoffOrStop sleeps with the current backoff and advances it. Returns
// false if the context ended first.
func backoffOrStop(ctx context.Context, backoff *time.Duration) bool {
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// wrapErr wraps err with sentinel unless it already carries it.
func wrapErr(sentinel error, op string, err error) error {
	if errors.Is(err, sentinel) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", sentinel, op, err)
}
