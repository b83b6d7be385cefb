/**
 * @description
 * Scheduled job implementations for the payment engine.
 */
package app

import (
	"context"
	"time"

	"github.com/kamalraji/plan-it-together-sub016/internal/config"
	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
	"go.uber.org/zap"
)

// PayoutRunner runs one payout scan.
type PayoutRunner interface {
	RunOnce(ctx context.Context) (domain.PayoutRunResult, error)
}

// PaymentSweeper moves payments that stopped hearing from the processor.
type PaymentSweeper interface {
	ExpireStaleActions(ctx context.Context) (int, error)
	RecheckStaleProcessing(ctx context.Context) (int, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	payouts  PayoutRunner
	payments PaymentSweeper
	logger   *zap.Logger
	config   config.Config
}

// NewJobs creates a new Jobs runner.
func NewJobs(payouts PayoutRunner, payments PaymentSweeper, logger *zap.Logger, cfg config.Config) *Jobs {
	return &Jobs{
		payouts:  payouts,
		payments: payments,
		logger:   logger.With(zap.String("component", "jobs")),
		config:   cfg,
	}
}

func (j *Jobs) jobContext() (context.Context, context.CancelFunc) {
	timeout := j.config.JobTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return context.WithTimeout(context.Background(), timeout)
}

// RunPayouts scans vendors with due payouts.
func (j *Jobs) RunPayouts() {
	j.logger.Info("starting payout job")
	ctx, cancel := j.jobContext()
	defer cancel()

	result, err := j.payouts.RunOnce(ctx)
	if err != nil {
		j.logger.Error("payout job failed", zap.Error(err))
		return
	}

	j.logger.Info("payout job finished",
		zap.Int("vendors", result.Vendors),
		zap.Int("attempted", result.Attempted),
		zap.Int("accepted", result.Accepted),
		zap.Int("failed", result.Failed),
		zap.Int("held", result.Held),
		zap.Int("deferred", result.Deferred),
	)
}

// ExpireRequiresAction fails payments whose authentication window has passed.
func (j *Jobs) ExpireRequiresAction() {
	j.logger.Info("starting requires-action expiry job")
	ctx, cancel := j.jobContext()
	defer cancel()

	expired, err := j.payments.ExpireStaleActions(ctx)
	if err != nil {
		j.logger.Error("requires-action expiry job failed", zap.Int("expired", expired), zap.Error(err))
		return
	}

	j.logger.Info("requires-action expiry job finished", zap.Int("expired", expired))
}

// RecheckProcessing asks the processor about payments stuck in PROCESSING.
func (j *Jobs) RecheckProcessing() {
	j.logger.Info("starting stale processing job")
	ctx, cancel := j.jobContext()
	defer cancel()

	advanced, err := j.payments.RecheckStaleProcessing(ctx)
	if err != nil {
		j.logger.Error("stale processing job failed", zap.Int("advanced", advanced), zap.Error(err))
		return
	}

	j.logger.Info("stale processing job finished", zap.Int("advanced", advanced))
}
