// Package schedule runs the periodic jobs: nightly materialization, the
// hourly retry sweep and the daily cleanup.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Jobs holds the work the scheduler triggers. A nil job is skipped.
type Jobs struct {
	Materialize func(ctx context.Context) error
	RetrySweep  func(ctx context.Context) error
	Cleanup     func(ctx context.Context) error
}

// Config holds the cron specs and the per-job timeout.
type Config struct {
	MaterializeSpec string
	RetrySweepSpec  string
	CleanupSpec     string
	JobTimeout      time.Duration
}

// Scheduler wraps the cron engine driving the periodic jobs.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// New registers the jobs under their cron specs. Specs are evaluated in
// server local time, so "0 4 * * *" means 4 AM wherever the daemon runs.
func New(cfg Config, jobs Jobs, logger *zap.Logger) (*Scheduler, error) {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}

	engine := cron.New(cron.WithLocation(time.Local))

	add := func(name, spec string, run func(ctx context.Context) error) error {
		if run == nil {
			return nil
		}
		_, err := engine.AddFunc(spec, func() {
			logger.Info("cron job triggered", zap.String("job", name))
			ctx, cancel := context.WithTimeout(context.Background(), cfg.JobTimeout)
			defer cancel()
			if err := run(ctx); err != nil {
				logger.Error("cron job failed",
					zap.String("job", name),
					zap.Error(err))
				return
			}
			logger.Info("cron job complete", zap.String("job", name))
		})
		if err != nil {
			return fmt.Errorf("failed to add %s job: %w", name, err)
		}
		return nil
	}

	if err := add("materialize", cfg.MaterializeSpec, jobs.Materialize); err != nil {
		return nil, err
	}
	if err := add("retry_sweep", cfg.RetrySweepSpec, jobs.RetrySweep); err != nil {
		return nil, err
	}
	if err := add("cleanup", cfg.CleanupSpec, jobs.Cleanup); err != nil {
		return nil, err
	}

	return &Scheduler{cron: engine, logger: logger}, nil
}

// Start begins triggering jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop stops triggering new jobs and waits for running ones to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}
