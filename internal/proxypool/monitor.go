package proxypool

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Monitor runs a health sweep over the stored proxies on a fixed interval
type Monitor struct {
	manager  *Manager
	interval time.Duration
}

// NewMonitor creates a Monitor. A zero interval defaults to 15 minutes.
func NewMonitor(manager *Manager, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Monitor{manager: manager, interval: interval}
}

// Run sweeps immediately, then on every tick until ctx is done
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.WithField("interval", m.interval.String()).Info("proxy monitor started")

	m.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info("proxy monitor stopped")
			return nil
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Monitor) sweep(ctx context.Context) {
	if _, err := m.manager.CheckStored(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Error("proxy health sweep failed")
	}
}
