// Command worker runs both pipeline stages: fan-out of weather-jobs into
// per-station render messages, and rendering of image-processing-jobs into
// stored PNG artifacts.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/couchcryptid/weather-imaging-service/internal/adapter/httpadapter"
	"github.com/couchcryptid/weather-imaging-service/internal/adapter/objectstore"
	"github.com/couchcryptid/weather-imaging-service/internal/adapter/queue"
	"github.com/couchcryptid/weather-imaging-service/internal/adapter/upstream"
	"github.com/couchcryptid/weather-imaging-service/internal/config"
	"github.com/couchcryptid/weather-imaging-service/internal/observability"
	"github.com/couchcryptid/weather-imaging-service/internal/pipeline"
	"github.com/couchcryptid/weather-imaging-service/internal/render"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport, err := queue.Open(cfg, logger)
	if err != nil {
		logger.Error("failed to open queue transport", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := transport.Close(); err != nil {
			logger.Error("queue transport close error", "error", err)
		}
	}()

	if err := transport.EnsureQueues(ctx, cfg.WeatherJobsQueue, cfg.ImageJobsQueue); err != nil {
		logger.Error("failed to create queues", "error", err)
		os.Exit(1)
	}

	store, err := objectstore.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create object store client", "error", err)
		os.Exit(1)
	}
	renderer, err := render.New()
	if err != nil {
		logger.Error("failed to load renderer", "error", err)
		os.Exit(1)
	}

	fanOut := pipeline.NewFanOut(transport.Publisher(cfg.ImageJobsQueue), cfg.ImageJobsQueue, logger, metrics)
	stage := pipeline.NewRenderStage(upstream.NewPhotoClient(cfg, metrics, logger), renderer, store, cfg.TempDir, logger, metrics)

	jobSources, err := transport.Consumers(cfg.WeatherJobsQueue, cfg.WorkerConcurrency)
	if err != nil {
		logger.Error("failed to start consumers", "queue", cfg.WeatherJobsQueue, "error", err)
		os.Exit(1)
	}
	imageSources, err := transport.Consumers(cfg.ImageJobsQueue, cfg.WorkerConcurrency)
	if err != nil {
		logger.Error("failed to start consumers", "queue", cfg.ImageJobsQueue, "error", err)
		os.Exit(1)
	}

	workers := []*pipeline.Worker{
		pipeline.NewWorker(cfg.WeatherJobsQueue, jobSources, fanOut, cfg.ProcessTimeout, logger, metrics),
		pipeline.NewWorker(cfg.ImageJobsQueue, imageSources, stage, cfg.ProcessTimeout, logger, metrics),
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Checks{workers[0], workers[1], transport}, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start consumers. A worker that stops on its own takes the process down
	// so it is restarted with fresh broker connections.
	var (
		wg     sync.WaitGroup
		failed atomic.Bool
	)
	for _, w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				logger.Error("worker error", "error", err)
				failed.Store(true)
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("workers did not stop before shutdown timeout")
	}

	if failed.Load() {
		// os.Exit skips deferred calls.
		if err := transport.Close(); err != nil {
			logger.Error("queue transport close error", "error", err)
		}
		logger.Error("shutdown after worker failure")
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
