/**
 * @description
 * Cron scheduler setup for the payout scan and the payment sweeps.
 */
package app

import (
	"context"

	"github.com/kamalraji/plan-it-together-sub016/internal/config"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *zap.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *zap.Logger, cfg config.Config) *Scheduler {
	logger = logger.With(zap.String("component", "scheduler"))
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	schedules := []struct {
		name     string
		schedule string
		run      func()
	}{
		{"payout", s.config.PayoutScanSchedule, s.jobs.RunPayouts},
		{"requires-action expiry", s.config.ActionExpirySchedule, s.jobs.ExpireRequiresAction},
		{"stale processing", s.config.StaleProcessingSchedule, s.jobs.RecheckProcessing},
	}

	for _, job := range schedules {
		if _, err := s.cron.AddFunc(job.schedule, job.run); err != nil {
			s.logger.Error("failed to schedule job", zap.String("job", job.name), zap.String("schedule", job.schedule), zap.Error(err))
			continue
		}
		s.logger.Info("scheduled job", zap.String("job", job.name), zap.String("schedule", job.schedule))
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
