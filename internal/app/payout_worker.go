package app

import (
	"context"

	"go.uber.org/zap"
)

// PayoutSignal wakes the payout worker. Notify never blocks; signals raised while a run is
// pending collapse into that run.
type PayoutSignal struct {
	ch chan struct{}
}

func NewPayoutSignal() *PayoutSignal {
	return &PayoutSignal{ch: make(chan struct{}, 1)}
}

func (s *PayoutSignal) Notify() {
	if s == nil {
		return
	}
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

func (s *PayoutSignal) C() <-chan struct{} {
	return s.ch
}

// PayoutWorker runs the payout scheduler whenever it is signalled.
type PayoutWorker struct {
	scheduler *PayoutScheduler
	signal    *PayoutSignal
	logger    *zap.Logger
}

func NewPayoutWorker(scheduler *PayoutScheduler, signal *PayoutSignal, logger *zap.Logger) *PayoutWorker {
	return &PayoutWorker{
		scheduler: scheduler,
		signal:    signal,
		logger:    logger.With(zap.String("component", "payout_worker")),
	}
}

// Run blocks until ctx is cancelled.
func (w *PayoutWorker) Run(ctx context.Context) {
	w.logger.Info("payout worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("payout worker stopped")
			return
		case <-w.signal.C():
			result, err := w.scheduler.RunOnce(ctx)
			if err != nil {
				w.logger.Error("signalled payout run failed", zap.Error(err))
				continue
			}
			if result.Attempted > 0 || result.Held > 0 {
				w.logger.Info("signalled payout run finished",
					zap.Int("vendors", result.Vendors),
					zap.Int("attempted", result.Attempted),
					zap.Int("held", result.Held),
				)
			}
		}
	}
}
