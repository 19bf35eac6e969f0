package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cashplace/escrow/internal/escrow"
)

// Sweeper runs one expiry pass.
type Sweeper interface {
	Sweep(ctx context.Context) escrow.SweepReport
}

// StartSweeperWorker runs a sweep every interval until ctx is done. The
// returned channel is closed after the last pass has finished.
func StartSweeperWorker(ctx context.Context, sweeper Sweeper, interval time.Duration, logger *zap.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		logger.Info("sweeper started", zap.Duration("interval", interval))
		for {
			select {
			case <-ctx.Done():
				logger.Info("sweeper stopped")
				return
			case <-ticker.C:
				report := sweeper.Sweep(ctx)
				if len(report.Removed) > 0 || len(report.Advanced) > 0 || len(report.Failures) > 0 {
					logger.Info("sweep pass",
						zap.Int("visited", report.Visited),
						zap.Int("advanced", len(report.Advanced)),
						zap.Int("removed", len(report.Removed)),
						zap.Int("busy", len(report.Busy)),
						zap.Int("failed", len(report.Failures)))
				}
			}
		}
	}()
	return done
}
