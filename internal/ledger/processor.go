package ledger

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Monitor periodically sweeps PENDING orders through the fill engine,
// standing in for quote-driven triggers.
type Monitor struct {
	service  *Service
	interval time.Duration
}

// NewMonitor creates a monitor sweeping at the given interval.
func NewMonitor(service *Service, interval time.Duration) *Monitor {
	return &Monitor{service: service, interval: interval}
}

// Start runs the sweep loop until the context is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	logger := log.With().Str("component", "order_monitor").Logger()
	logger.Info().Dur("interval", m.interval).Msg("starting order monitor")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down order monitor")
			return
		case <-ticker.C:
			filled, err := m.service.SweepPending(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("fill sweep failed")
				continue
			}
			if filled > 0 {
				logger.Info().Int("filled", filled).Msg("fill sweep completed")
			}
		}
	}
}
