//go:build integration

package integration_test

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/couchcryptid/weather-imaging-service/internal/adapter/kafka"
	"github.com/couchcryptid/weather-imaging-service/internal/adapter/objectstore"
	"github.com/couchcryptid/weather-imaging-service/internal/adapter/upstream"
	"github.com/couchcryptid/weather-imaging-service/internal/config"
	"github.com/couchcryptid/weather-imaging-service/internal/domain"
	"github.com/couchcryptid/weather-imaging-service/internal/envelope"
	"github.com/couchcryptid/weather-imaging-service/internal/observability"
	"github.com/couchcryptid/weather-imaging-service/internal/pipeline"
	"github.com/couchcryptid/weather-imaging-service/internal/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
)

const feedFixture = `{
  "actual": {
    "stationmeasurements": [
      {"$id": "1", "stationname": "Meetstation Amsterdam", "feeltemperature": 8.5, "groundtemperature": 6.0},
      {"$id": "2", "stationname": "Meetstation Rotterdam", "feeltemperature": "7,2", "groundtemperature": "5,5"},
      {"$id": "3", "stationname": "Meetstation Den Helder", "feeltemperature": 6.1}
    ]
  }
}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	ctr, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("weather-imaging-test"))
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start kafka container")

	brokers, err := ctr.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func startMinio(ctx context.Context, t *testing.T) (endpoint, user, password string) {
	t.Helper()
	ctr, err := tcminio.Run(ctx, "minio/minio:RELEASE.2024-01-16T16-07-38Z")
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start minio container")

	endpoint, err = ctr.ConnectionString(ctx)
	require.NoError(t, err)
	return endpoint, ctr.Username, ctr.Password
}

// startUpstream serves the feed fixture and a small JPEG in place of the real
// feed and photo services.
func startUpstream(t *testing.T) (feedURL, photoURL string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 800, 400))
	for y := range 400 {
		for x := range 800 {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: 60, B: uint8(y % 256), A: 255})
		}
	}
	var photo bytes.Buffer
	require.NoError(t, jpeg.Encode(&photo, img, nil))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /feed", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, feedFixture)
	})
	mux.HandleFunc("GET /photo", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(photo.Bytes())
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL + "/feed", srv.URL + "/photo"
}

type harness struct {
	cfg       *config.Config
	store     *objectstore.Store
	submitter *pipeline.Submitter
	status    *pipeline.StatusService
	jobs      *kafka.Publisher
}

// newHarness wires both worker stages against real Kafka and MinIO and runs
// them until the test ends.
func newHarness(ctx context.Context, t *testing.T) *harness {
	t.Helper()
	broker := startKafka(ctx, t)
	endpoint, user, password := startMinio(ctx, t)
	feedURL, photoURL := startUpstream(t)

	cfg := &config.Config{
		QueueBackend:         config.BackendKafka,
		WeatherJobsQueue:     "weather-jobs",
		ImageJobsQueue:       "image-processing-jobs",
		KafkaBrokers:         []string{broker},
		KafkaGroupID:         fmt.Sprintf("test-%d", time.Now().UnixNano()),
		KafkaPartitions:      2,
		ObjectStoreEndpoint:  endpoint,
		ObjectStoreAccessKey: user,
		ObjectStoreSecretKey: password,
		ObjectStoreRegion:    "us-east-1",
		ArtifactBucket:       "weather-images",
		FeedURL:              feedURL,
		PhotoURL:             photoURL,
		UpstreamTimeout:      5 * time.Second,
		QueueTimeout:         10 * time.Second,
		StoreTimeout:         10 * time.Second,
		ProcessTimeout:       30 * time.Second,
		WorkerConcurrency:    2,
		TempDir:              t.TempDir(),
		PublicBaseURL:        "http://localhost:8080",
	}
	logger := discardLogger()
	metrics := observability.NewMetricsForTesting()

	for _, topic := range []string{cfg.WeatherJobsQueue, cfg.ImageJobsQueue} {
		require.NoError(t, kafka.CreateTopic(ctx, cfg, topic))
	}

	store, err := objectstore.New(cfg, logger)
	require.NoError(t, err)
	require.NoError(t, store.EnsureBucket(ctx))

	renderer, err := render.New()
	require.NoError(t, err)

	jobs := kafka.NewPublisher(cfg, cfg.WeatherJobsQueue, logger)
	images := kafka.NewPublisher(cfg, cfg.ImageJobsQueue, logger)
	t.Cleanup(func() {
		_ = jobs.Close()
		_ = images.Close()
	})

	fanOut := pipeline.NewFanOut(images, cfg.ImageJobsQueue, logger, metrics)
	stage := pipeline.NewRenderStage(upstream.NewPhotoClient(cfg, metrics, logger), renderer, store, cfg.TempDir, logger, metrics)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{}, 2)
	for queue, h := range map[string]pipeline.Handler{cfg.WeatherJobsQueue: fanOut, cfg.ImageJobsQueue: stage} {
		sources := make([]pipeline.Source, 0, cfg.WorkerConcurrency)
		for range cfg.WorkerConcurrency {
			c := kafka.NewConsumer(cfg, queue, logger)
			t.Cleanup(func() { _ = c.Close() })
			sources = append(sources, c)
		}
		w := pipeline.NewWorker(queue, sources, h, cfg.ProcessTimeout, logger, metrics)
		go func() {
			_ = w.Run(runCtx)
			done <- struct{}{}
		}()
	}
	t.Cleanup(func() {
		cancel()
		<-done
		<-done
	})

	return &harness{
		cfg:       cfg,
		store:     store,
		submitter: pipeline.NewSubmitter(upstream.NewFeedClient(cfg, metrics, logger), jobs, cfg.PublicBaseURL, logger, metrics),
		status:    pipeline.NewStatusService(store, store, logger, metrics),
		jobs:      jobs,
	}
}

func (h *harness) waitReady(ctx context.Context, t *testing.T, jobID string, want int) domain.JobStatus {
	t.Helper()
	var st domain.JobStatus
	require.Eventually(t, func() bool {
		got, err := h.status.GetStatus(ctx, jobID)
		if err != nil {
			return false
		}
		st = got
		return st.State == domain.JobReady && len(st.Links) >= want
	}, 90*time.Second, 500*time.Millisecond, "job %s never produced %d artifacts", jobID, want)
	return st
}

// TestJobEndToEnd submits a job and follows it through both queues into the
// bucket, then downloads every signed link.
func TestJobEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	h := newHarness(ctx, t)

	sub, err := h.submitter.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/status/"+sub.JobID, sub.StatusURL)

	st := h.waitReady(ctx, t, sub.JobID, 3)
	require.Len(t, st.Links, 3)

	keyPattern := regexp.MustCompile(`^` + regexp.QuoteMeta(sub.JobID) +
		`/station-Meetstation-(Amsterdam|Rotterdam|Den-Helder)-\d{14}\.png$`)
	for _, l := range st.Links {
		assert.Regexp(t, keyPattern, l.Key)
		assert.WithinDuration(t, time.Now().Add(domain.LinkValidity), l.ExpiresAt, time.Minute)

		resp, err := http.Get(l.URL)
		require.NoError(t, err)
		img, err := png.Decode(resp.Body)
		resp.Body.Close()
		require.NoError(t, err, "signed link %s", l.URL)
		assert.Equal(t, 800, img.Bounds().Dx())
		assert.Equal(t, 400, img.Bounds().Dy())
	}

	rc, info, err := h.status.FirstArtifact(ctx, sub.JobID)
	require.NoError(t, err)
	defer rc.Close()
	assert.True(t, strings.HasPrefix(info.Key, sub.JobID+"/"))

	other, err := h.status.GetStatus(ctx, domain.NewJobID())
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, other.State)
}

// TestPoisonJobIsDropped verifies that an undecodable job message and a job
// with an empty feed are dropped and the worker keeps processing the jobs
// behind them.
func TestPoisonJobIsDropped(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	h := newHarness(ctx, t)

	require.NoError(t, h.jobs.Publish(ctx, "poison", "not-json{{{"))
	empty := envelope.Encode(domain.WeatherJobEnvelope{JobID: domain.NewJobID(), RawWeatherPayload: `{"actual":{}}`})
	require.NoError(t, h.jobs.Publish(ctx, "empty", empty))

	sub, err := h.submitter.Submit(ctx)
	require.NoError(t, err)

	st := h.waitReady(ctx, t, sub.JobID, 3)
	assert.Len(t, st.Links, 3)
}
