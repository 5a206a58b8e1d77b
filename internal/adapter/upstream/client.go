// Package upstream fetches the two external inputs of the pipeline: the
// Buienradar weather feed and the stock photo used as the card background.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/weather-imaging-service/internal/config"
	"github.com/couchcryptid/weather-imaging-service/internal/domain"
	"github.com/couchcryptid/weather-imaging-service/internal/observability"
	"github.com/sony/gobreaker"
)

const (
	sourceFeed  = "feed"
	sourcePhoto = "photo"

	maxFeedBytes  = 16 << 20
	maxPhotoBytes = 32 << 20
)

// client is the shared GET machinery behind FeedClient and PhotoClient.
type client struct {
	source     string
	url        string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	backoff    backoffConfig
	metrics    *observability.Metrics
	logger     *slog.Logger
}

func newClient(source, url string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) client {
	return client{
		source:     source,
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    newBreaker(source),
		backoff:    defaultBackoff,
		metrics:    metrics,
		logger:     logger,
	}
}

// get copies at most limit bytes of the response body into w. Every failure
// wraps domain.ErrUpstreamUnavailable.
func (c *client) get(ctx context.Context, w io.Writer, limit int64) (int64, error) {
	start := time.Now()
	n, err := c.fetch(ctx, w, limit)
	c.metrics.UpstreamDuration.WithLabelValues(c.source).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.UpstreamRequests.WithLabelValues(c.source, "error").Inc()
		c.logger.Warn("upstream request failed", "source", c.source, "url", c.url, "error", err)
		return n, fmt.Errorf("%w: %s: %w", domain.ErrUpstreamUnavailable, c.source, err)
	}
	c.metrics.UpstreamRequests.WithLabelValues(c.source, "success").Inc()
	return n, nil
}

func (c *client) fetch(ctx context.Context, w io.Writer, limit int64) (int64, error) {
	resp, err := doWithResilience(ctx, c.httpClient, c.breaker, c.backoff, c.url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return n, fmt.Errorf("read body: %w", err)
	}
	if n > limit {
		return n, fmt.Errorf("response exceeds %d bytes", limit)
	}
	return n, nil
}

// FeedClient downloads the raw feed document.
// It implements pipeline.FeedSource.
type FeedClient struct {
	client
}

// NewFeedClient creates a client for FEED_URL.
func NewFeedClient(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *FeedClient {
	return &FeedClient{newClient(sourceFeed, cfg.FeedURL, cfg.UpstreamTimeout, metrics, logger)}
}

// FetchFeed returns the feed body verbatim.
func (c *FeedClient) FetchFeed(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := c.get(ctx, &buf, maxFeedBytes); err != nil {
		return nil, err
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("%w: feed: empty body", domain.ErrUpstreamUnavailable)
	}
	return buf.Bytes(), nil
}

// PhotoClient downloads one random base photo per call.
// It implements pipeline.PhotoSource.
type PhotoClient struct {
	client
}

// NewPhotoClient creates a client for PHOTO_URL.
func NewPhotoClient(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *PhotoClient {
	return &PhotoClient{newClient(sourcePhoto, cfg.PhotoURL, cfg.UpstreamTimeout, metrics, logger)}
}

// FetchPhoto streams the photo bytes into w.
func (c *PhotoClient) FetchPhoto(ctx context.Context, w io.Writer) error {
	n, err := c.get(ctx, w, maxPhotoBytes)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: photo: empty body", domain.ErrUpstreamUnavailable)
	}
	return nil
}
