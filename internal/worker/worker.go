package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tpotp2p/internal/settlement"
)

// Worker drives the periodic settlement sweep: expiring overdue orders and
// retrying interrupted escrow releases. All actual transition logic lives in
// the controller; the worker only supplies the clock.
type Worker struct {
	Controller *settlement.Controller
	Interval   time.Duration
	Logger     *zap.Logger
}

func (w *Worker) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := w.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := w.Controller.Sweep(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
