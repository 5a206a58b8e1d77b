package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/weather-imaging-service/internal/domain"
	"github.com/couchcryptid/weather-imaging-service/internal/envelope"
	"github.com/couchcryptid/weather-imaging-service/internal/observability"
)

// Submission is what a caller gets back for an accepted job.
type Submission struct {
	JobID     string
	StatusURL string
}

// Submitter accepts jobs: it downloads the feed once, mints a job id and
// enqueues the raw document for fan-out.
type Submitter struct {
	feed      FeedSource
	publisher Publisher
	baseURL   string
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewSubmitter creates a Submitter. Status URLs are built from baseURL.
func NewSubmitter(feed FeedSource, publisher Publisher, baseURL string, logger *slog.Logger, metrics *observability.Metrics) *Submitter {
	return &Submitter{
		feed:      feed,
		publisher: publisher,
		baseURL:   baseURL,
		logger:    logger,
		metrics:   metrics,
	}
}

// Submit starts a new job. Nothing is published when the feed cannot be
// fetched.
func (s *Submitter) Submit(ctx context.Context) (Submission, error) {
	raw, err := s.feed.FetchFeed(ctx)
	if err != nil {
		s.metrics.SubmitFailures.WithLabelValues("upstream").Inc()
		return Submission{}, wrapErr(domain.ErrUpstreamUnavailable, "fetch feed", err)
	}

	jobID := domain.NewJobID()
	body := envelope.Encode(domain.WeatherJobEnvelope{
		JobID:             jobID,
		RawWeatherPayload: string(raw),
	})
	if err := s.publisher.Publish(ctx, jobID, body); err != nil {
		s.metrics.SubmitFailures.WithLabelValues("transport").Inc()
		return Submission{}, wrapErr(domain.ErrTransport, "enqueue job", err)
	}

	s.metrics.JobsSubmitted.Inc()
	s.logger.Info("job submitted", "job_id", jobID, "feed_bytes", len(raw))
	return Submission{
		JobID:     jobID,
		StatusURL: domain.StatusURL(s.baseURL, jobID),
	}, nil
}
