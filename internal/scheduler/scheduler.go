// Package scheduler submits a job automatically on a fixed interval.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/weather-imaging-service/internal/pipeline"
	"github.com/go-co-op/gocron"
)

// Submitter starts one job.
type Submitter interface {
	Submit(ctx context.Context) (pipeline.Submission, error)
}

// Scheduler periodically submits a job as if a client had called the API.
type Scheduler struct {
	scheduler *gocron.Scheduler
	submitter Submitter
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger
}

// New creates a Scheduler. A zero interval disables it.
func New(submitter Submitter, interval, timeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		submitter: submitter,
		interval:  interval,
		timeout:   timeout,
		logger:    logger,
	}
}

// Start schedules the job and starts the scheduler in the background. The
// first submission happens one interval after Start.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		s.logger.Info("scheduled submission disabled")
		return nil
	}

	if _, err := s.scheduler.Every(s.interval).WaitForSchedule().SingletonMode().Do(s.runOnce); err != nil {
		return err
	}
	s.scheduler.StartAsync()
	s.logger.Info("scheduled submission enabled", "interval", s.interval)
	return nil
}

// Stop stops the scheduler and cancels any future runs.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	sub, err := s.submitter.Submit(ctx)
	if err != nil {
		s.logger.Error("scheduled submission failed", "error", err)
		return
	}
	s.logger.Info("scheduled submission", "job_id", sub.JobID, "status_url", sub.StatusURL)
}
