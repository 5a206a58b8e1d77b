package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/couchcryptid/weather-imaging-service/internal/domain"
	"github.com/couchcryptid/weather-imaging-service/internal/envelope"
	"github.com/couchcryptid/weather-imaging-service/internal/observability"
)

const pngContentType = "image/png"

// RenderStage handles image-processing-jobs deliveries: one station in, one
// PNG artifact out.
type RenderStage struct {
	photos   PhotoSource
	renderer Renderer
	store    ArtifactStore
	tempDir  string
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewRenderStage creates the stage-two handler. Scratch files go to tempDir,
// or the OS default when empty.
func NewRenderStage(photos PhotoSource, renderer Renderer, store ArtifactStore, tempDir string, logger *slog.Logger, metrics *observability.Metrics) *RenderStage {
	return &RenderStage{
		photos:   photos,
		renderer: renderer,
		store:    store,
		tempDir:  tempDir,
		logger:   logger,
		metrics:  metrics,
	}
}

// Handle renders and uploads one station. Each successful call writes a new
// artifact, so a redelivered message produces a second one. Stored artifacts
// are never replaced: if the key is taken (a duplicate within the same
// second) the upload fails and the retry lands under a later timestamp.
func (r *RenderStage) Handle(ctx context.Context, body string) error {
	env, err := envelope.DecodeStation(body)
	if err != nil {
		return err
	}
	if strings.TrimSpace(env.JobID) == "" || env.Station.IsEmpty() {
		return fmt.Errorf("%w: job %q has no station data", domain.ErrInvalidEnvelope, env.JobID)
	}
	st := *env.Station

	photo, err := r.tempFile("photo-*")
	if err != nil {
		return err
	}
	defer r.remove(photo)

	if err := r.photos.FetchPhoto(ctx, photo); err != nil {
		return wrapErr(domain.ErrUpstreamUnavailable, "fetch photo", err)
	}
	if _, err := photo.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind photo: %w", err)
	}

	card, err := r.tempFile("card-*.png")
	if err != nil {
		return err
	}
	defer r.remove(card)

	start := time.Now()
	if err := r.renderer.Render(card, photo, st); err != nil {
		return fmt.Errorf("render station %q: %w", st.Name, err)
	}
	r.metrics.RenderDuration.Observe(time.Since(start).Seconds())

	size, err := card.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("size card: %w", err)
	}
	if _, err := card.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind card: %w", err)
	}

	key := domain.ArtifactKey(env.JobID, st.KeyName(), domain.Now())
	if err := r.store.Put(ctx, key, card, size, pngContentType); err != nil {
		return wrapErr(domain.ErrUpload, "upload "+key, err)
	}

	r.metrics.ArtifactsUploaded.Inc()
	r.logger.Info("artifact stored", "job_id", env.JobID, "station", st.Name, "key", key, "bytes", size)
	return nil
}

func (r *RenderStage) tempFile(pattern string) (*os.File, error) {
	f, err := os.CreateTemp(r.tempDir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return f, nil
}

func (r *RenderStage) remove(f *os.File) {
	_ = f.Close()
	if err := os.Remove(f.Name()); err != nil && !os.IsNotExist(err) {
		r.logger.Warn("remove temp file failed", "path", f.Name(), "error", err)
	}
}
