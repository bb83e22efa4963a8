package carbon

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/c12/router/contracts"
)

const (
	// DefaultTTL is how long a reading is served without refreshing.
	// Grid intensity moves on the scale of hours, not seconds.
	DefaultTTL = 30 * time.Minute

	// DefaultValue is the conservative intensity assumed when no data has
	// ever been fetched. It sits at the high-tier boundary so the engine
	// routes frugally until real data arrives.
	DefaultValue = 300.0

	// DefaultFetchTimeout bounds a single provider attempt.
	DefaultFetchTimeout = 10 * time.Second

	// DefaultFetchAttempts is how many provider attempts one refresh makes.
	DefaultFetchAttempts = 2

	// DefaultRetryCooldown is the pause after a failed refresh before the
	// provider is tried again.
	DefaultRetryCooldown = time.Minute

	retryBackoff = 500 * time.Millisecond
)

// Options configure a Monitor. Zero values fall back to the defaults above.
type Options struct {
	TTL           time.Duration
	FetchTimeout  time.Duration
	FetchAttempts int
	RetryCooldown time.Duration
	DefaultValue  float64
	Thresholds    Thresholds
	Zone          string
	Alarm         *StalenessAlarm
}

// Monitor caches the current carbon reading and refreshes it through a
// provider. Current never fails: when the provider is down it degrades to
// the last-known reading, or to a conservative default before the first
// successful fetch.
type Monitor struct {
	provider Provider
	opts     Options
	flight   singleflight.Group

	mu          sync.RWMutex
	current     *contracts.CarbonReading
	fetchedAt   time.Time
	lastFailure time.Time
}

// NewMonitor validates options and builds a monitor. No fetch happens here;
// the first Current call (or a Refresher) triggers it.
func NewMonitor(provider Provider, opts Options) (*Monitor, error) {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.FetchAttempts <= 0 {
		opts.FetchAttempts = DefaultFetchAttempts
	}
	if opts.RetryCooldown <= 0 {
		opts.RetryCooldown = DefaultRetryCooldown
	}
	if opts.DefaultValue <= 0 {
		opts.DefaultValue = DefaultValue
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds
	}
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid carbon thresholds: %w", err)
	}
	if opts.DefaultValue < opts.Thresholds.High {
		return nil, fmt.Errorf("default intensity %v must be at least the high threshold %v",
			opts.DefaultValue, opts.Thresholds.High)
	}
	return &Monitor{provider: provider, opts: opts}, nil
}

// Thresholds returns the tier partition the monitor stamps readings with.
func (m *Monitor) Thresholds() Thresholds {
	return m.opts.Thresholds
}

// Current returns the reading to route with. Within the TTL it serves the
// cached reading unchanged. When stale it refreshes through the provider;
// concurrent callers share one refresh. On provider trouble the caller gets
// the last-known reading marked as cached, never an error.
func (m *Monitor) Current(ctx context.Context) contracts.CarbonReading {
	m.mu.RLock()
	cur := m.current
	age := time.Since(m.fetchedAt)
	sinceFailure := time.Since(m.lastFailure)
	m.mu.RUnlock()

	if cur != nil && age < m.opts.TTL {
		return *cur
	}
	if sinceFailure < m.opts.RetryCooldown {
		return m.degraded()
	}

	ch := m.flight.DoChan("refresh", m.refresh)
	select {
	case <-ctx.Done():
		// The caller detaches; the in-flight refresh keeps going for
		// everyone else.
		return m.degraded()
	case res := <-ch:
		return res.Val.(contracts.CarbonReading)
	}
}

// Snapshot returns the last-known reading and when it was fetched, without
// triggering a refresh. Before the first fetch it returns the default
// reading and a zero time.
func (m *Monitor) Snapshot() (contracts.CarbonReading, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return m.defaultReading(), time.Time{}
	}
	return *m.current, m.fetchedAt
}

// Seed primes the monitor with a persisted reading, typically loaded from
// the carbon store at startup. Newer data already in the monitor wins.
func (m *Monitor) Seed(r contracts.CarbonReading, fetchedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchedAt.After(fetchedAt) {
		return
	}
	m.current = &r
	m.fetchedAt = fetchedAt
}

// refresh runs inside the singleflight group. It always returns a reading:
// live on success, degraded otherwise. The error slot stays nil so every
// waiter receives a usable value.
func (m *Monitor) refresh() (interface{}, error) {
	var lastErr error
	for attempt := 1; attempt <= m.opts.FetchAttempts; attempt++ {
		fetchCtx, cancel := context.WithTimeout(context.Background(), m.opts.FetchTimeout)
		reading, err := m.provider.Fetch(fetchCtx)
		cancel()

		if err == nil {
			reading = Live(reading, m.opts.Thresholds, m.opts.Zone)

			m.mu.Lock()
			m.current = &reading
			m.fetchedAt = time.Now()
			m.mu.Unlock()

			if m.opts.Alarm != nil {
				m.opts.Alarm.Feed()
			}
			log.Printf("DEBUG: Carbon refresh: %.0f gCO2/kWh (%s, zone %s)",
				reading.ValueGCO2PerKWh, reading.Tier, reading.Zone)
			return reading, nil
		}

		lastErr = err
		log.Printf("WARN: Carbon fetch attempt %d/%d failed: %v", attempt, m.opts.FetchAttempts, err)
		if attempt < m.opts.FetchAttempts {
			time.Sleep(retryBackoff * time.Duration(attempt))
		}
	}

	// All attempts failed. Keep serving the last-known reading, marked
	// as cached so callers can see the degradation, and start the cooldown
	// before the provider is tried again. A reading that was never live
	// keeps its source: default stays default.
	m.mu.Lock()
	if m.current != nil {
		stale := *m.current
		if stale.Source == contracts.SourceLive {
			stale.Source = contracts.SourceCached
		}
		m.current = &stale
	} else {
		def := m.defaultReading()
		m.current = &def
	}
	m.lastFailure = time.Now()
	degraded := *m.current
	m.mu.Unlock()

	log.Printf("WARN: Carbon refresh failed, serving %s reading: %v", degraded.Source, lastErr)
	return degraded, nil
}

// degraded snapshots the current reading for callers that cannot wait for a
// refresh. The copy is marked cached; the stored reading is left alone.
func (m *Monitor) degraded() contracts.CarbonReading {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return m.defaultReading()
	}
	r := *m.current
	if r.Source == contracts.SourceLive {
		r.Source = contracts.SourceCached
	}
	return r
}

func (m *Monitor) defaultReading() contracts.CarbonReading {
	return contracts.CarbonReading{
		ValueGCO2PerKWh: m.opts.DefaultValue,
		Tier:            m.opts.Thresholds.TierFor(m.opts.DefaultValue),
		ObservedAt:      time.Now().UTC(),
		Source:          contracts.SourceDefault,
		Zone:            m.opts.Zone,
	}
}
