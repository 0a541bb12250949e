package hold

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically evicts expired leases from a Registry. It runs for
// the process lifetime under the application errgroup; holds are advisory,
// so losing them all on restart is acceptable.
type Sweeper struct {
	registry Registry
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(registry Registry, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	return &Sweeper{
		registry: registry,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("hold sweeper started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("hold sweeper stopped")
			return ctx.Err()
		case now := <-ticker.C:
			if n := s.registry.SweepExpired(ctx, now); n > 0 {
				s.logger.Info("expired holds evicted", "count", n)
			}
		}
	}
}
