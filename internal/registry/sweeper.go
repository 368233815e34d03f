package registry

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically removes registry rows for streams with no activity
// beyond the configured timeout. It is stateless: each tick independently
// scans the registry.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
}

// NewSweeper creates a sweeper for one registry.
func NewSweeper(registry *Registry, interval, timeout time.Duration) *Sweeper {
	return &Sweeper{registry: registry, interval: interval, timeout: timeout}
}

// Start begins periodic sweeping. Runs until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("[Sweeper] Starting registry sweeper",
		"interval", s.interval,
		"timeout", s.timeout,
	)

	for {
		select {
		case <-ticker.C:
			if removed := s.registry.Sweep(s.timeout); removed > 0 {
				slog.Info("[Sweeper] Swept inactive stream entries", "removed", removed)
			}
		case <-ctx.Done():
			slog.Info("[Sweeper] Stopping (context cancelled)")
			return nil
		}
	}
}
