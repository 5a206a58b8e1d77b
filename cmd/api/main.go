// Command api serves the job API: submit, status and legacy image fetch. With
// SUBMIT_INTERVAL set it also submits jobs on a schedule.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	apihttp "github.com/couchcryptid/weather-imaging-service/internal/adapter/http"
	"github.com/couchcryptid/weather-imaging-service/internal/adapter/httpadapter"
	"github.com/couchcryptid/weather-imaging-service/internal/adapter/objectstore"
	"github.com/couchcryptid/weather-imaging-service/internal/adapter/queue"
	"github.com/couchcryptid/weather-imaging-service/internal/adapter/upstream"
	"github.com/couchcryptid/weather-imaging-service/internal/config"
	"github.com/couchcryptid/weather-imaging-service/internal/observability"
	"github.com/couchcryptid/weather-imaging-service/internal/pipeline"
	"github.com/couchcryptid/weather-imaging-service/internal/scheduler"
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

	if cfg.APIKey == "" {
		logger.Warn("API_KEY not set, job routes are unauthenticated")
	}
	if !cfg.Signing() {
		logger.Warn("object store credentials not set, status polls cannot issue links")
	}

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

	store, err := objectstore.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create object store client", "error", err)
		os.Exit(1)
	}

	submitter := pipeline.NewSubmitter(
		upstream.NewFeedClient(cfg, metrics, logger),
		transport.Publisher(cfg.WeatherJobsQueue),
		cfg.PublicBaseURL,
		logger,
		metrics,
	)
	status := pipeline.NewStatusService(store, store, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Checks{store, transport}, logger)
	apihttp.NewAPI(submitter, status, cfg.APIKey, logger).Register(srv)

	sched := scheduler.New(submitter, cfg.SubmitInterval, cfg.ProcessTimeout, logger)
	if err := sched.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
