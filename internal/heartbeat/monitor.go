// Package heartbeat recovers background work that stopped reporting
// progress, such as uploads orphaned by a crashed worker.
package heartbeat

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultInterval is how often the monitor sweeps
	DefaultInterval = time.Minute

	// DefaultStaleAfter is how long in-flight work may go without progress
	DefaultStaleAfter = 30 * time.Minute
)

// Reaper resolves work whose last progress predates before and returns how
// many entities it touched
type Reaper interface {
	ReapStale(ctx context.Context, before time.Time) (int, error)
}

// Monitor periodically runs each reaper
type Monitor struct {
	reapers    map[string]Reaper
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

// NewMonitor creates a new heartbeat monitor. Zero durations select the
// defaults.
func NewMonitor(interval, staleAfter time.Duration, reapers map[string]Reaper) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}

	return &Monitor{
		reapers:    reapers,
		interval:   interval,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Run sweeps until ctx is done
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.WithFields(log.Fields{
		"interval":    m.interval.String(),
		"stale_after": m.staleAfter.String(),
	}).Info("heartbeat monitor started")

	for {
		select {
		case <-ctx.Done():
			log.Info("heartbeat monitor stopped")
			return nil
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs every reaper once and returns the number of entities reaped
func (m *Monitor) Sweep(ctx context.Context) int {
	before := m.now().Add(-m.staleAfter).UTC()

	total := 0
	for name, r := range m.reapers {
		count, err := r.ReapStale(ctx, before)
		if err != nil {
			log.WithError(err).WithField("reaper", name).Error("error reaping stale work")
			continue
		}
		if count > 0 {
			log.WithFields(log.Fields{"reaper": name, "count": count}).Warn("reaped stale work")
		}
		total += count
	}
	return total
}
