package carbon

import (
	"context"
	"log"
	"time"

	"github.com/c12/router/contracts"
)

// Refresher keeps a monitor's reading warm on a fixed interval so requests
// rarely pay for a refresh themselves, and logs tier transitions for
// operators watching the grid.
type Refresher struct {
	monitor  *Monitor
	interval time.Duration
	lastTier contracts.CarbonTier
}

// NewRefresher creates a refresher. interval can be zero to reuse the
// monitor's TTL, which keeps the cache warm without redundant fetches.
func NewRefresher(m *Monitor, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = m.opts.TTL
	}
	return &Refresher{monitor: m, interval: interval}
}

// Run blocks until ctx is cancelled. The first observation happens
// immediately so the monitor is warm before traffic arrives.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.observe(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Printf("INFO: Carbon refresher stopped")
			return
		case <-ticker.C:
			r.observe(ctx)
		}
	}
}

func (r *Refresher) observe(ctx context.Context) {
	reading := r.monitor.Current(ctx)
	switch {
	case r.lastTier == "":
		log.Printf("INFO: Carbon tier %s (%.0f gCO2/kWh, source %s)",
			reading.Tier, reading.ValueGCO2PerKWh, reading.Source)
	case reading.Tier != r.lastTier:
		log.Printf("INFO: Carbon tier %s -> %s (%.0f gCO2/kWh, source %s)",
			r.lastTier, reading.Tier, reading.ValueGCO2PerKWh, reading.Source)
	}
	r.lastTier = reading.Tier
}
