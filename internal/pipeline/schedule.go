package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Every calls run immediately and then once per interval until ctx is done.
// A failed run is logged and the schedule continues. Runs never overlap.
func Every(ctx context.Context, interval time.Duration, logger *zap.Logger, run func(context.Context) error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := run(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("scheduled run failed", zap.Duration("interval", interval), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
