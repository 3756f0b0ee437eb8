package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunSweeper removes expired entries every interval until ctx is done.
func RunSweeper(ctx context.Context, s Store, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	log := zap.L().With(zap.String("component", "cache_sweeper"))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				log.Warn("cache sweep failed", zap.Error(err))
				continue
			}
			log.Info("cache sweep complete", zap.Int("removed", n))
		}
	}
}
