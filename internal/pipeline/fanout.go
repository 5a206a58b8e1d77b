package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/couchcryptid/weather-imaging-service/internal/domain"
	"github.com/couchcryptid/weather-imaging-service/internal/envelope"
	"github.com/couchcryptid/weather-imaging-service/internal/observability"
)

// FanOut handles weather-jobs deliveries: it splits the raw feed into one
// render envelope per station.
type FanOut struct {
	publisher Publisher
	queue     string
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewFanOut creates the stage-one handler. queue names the render queue the
// publisher writes to and only labels metrics.
func NewFanOut(publisher Publisher, queue string, logger *slog.Logger, metrics *observability.Metrics) *FanOut {
	return &FanOut{publisher: publisher, queue: queue, logger: logger, metrics: metrics}
}

// Handle decodes a job envelope and publishes its stations in feed order as
// one batch. A publish failure fails the job; the redelivered job publishes
// every station again.
func (f *FanOut) Handle(ctx context.Context, body string) error {
	env, err := envelope.DecodeJob(body)
	if err != nil {
		return err
	}

	stations, err := domain.ParseStations([]byte(env.RawWeatherPayload))
	if errors.Is(err, domain.ErrEmptyPayload) {
		f.logger.Warn("feed has no station measurements", "job_id", env.JobID)
		return err
	}
	if err != nil {
		return err
	}

	msgs := make([]domain.Message, 0, len(stations))
	for i := range stations {
		st := stations[i]
		msgs = append(msgs, domain.Message{
			Key:  st.ID,
			Body: envelope.Encode(domain.StationRenderEnvelope{JobID: env.JobID, Station: &st}),
		})
	}
	if err := f.publisher.PublishBatch(ctx, msgs); err != nil {
		return wrapErr(domain.ErrTransport, "publish stations", err)
	}
	f.metrics.EnvelopesPublished.WithLabelValues(f.queue).Add(float64(len(msgs)))

	f.logger.Info("job fanned out", "job_id", env.JobID, "stations", len(stations))
	return nil
}
