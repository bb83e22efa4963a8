package carbon

import (
	"log"
	"sync"
	"time"
)

// StalenessAlarm trips when no live carbon reading has arrived for too long.
// The health endpoint reports a tripped alarm as degraded operation.
//
// Invariants:
//   - Feed must be called on every successful live fetch
//   - A trip stays visible until live data resumes; the next Feed clears it
//   - The callback runs once per trip
//   - Safe for concurrent use
type StalenessAlarm struct {
	timeout time.Duration
	onStale func()

	mu      sync.Mutex
	timer   *time.Timer
	tripped bool
	stopped bool
	lastFed time.Time
}

// NewStalenessAlarm arms an alarm that trips after timeout without a Feed.
// onStale may be nil; a trip is always logged.
func NewStalenessAlarm(timeout time.Duration, onStale func()) *StalenessAlarm {
	a := &StalenessAlarm{
		timeout: timeout,
		onStale: onStale,
		lastFed: time.Now(),
	}
	a.timer = time.AfterFunc(timeout, a.trip)
	return a
}

func (a *StalenessAlarm) trip() {
	a.mu.Lock()
	if a.stopped || a.tripped {
		a.mu.Unlock()
		return
	}
	a.tripped = true
	sinceFed := time.Since(a.lastFed)
	cb := a.onStale
	a.mu.Unlock()

	log.Printf("WARN: Carbon data stale: no live reading for %s (limit %s)",
		sinceFed.Round(time.Second), a.timeout)
	if cb != nil {
		cb()
	}
}

// Feed records a live reading: the window restarts and any standing trip is
// cleared, since fresh data is the recovery signal.
func (a *StalenessAlarm) Feed() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	if a.tripped {
		a.tripped = false
		log.Printf("INFO: Carbon data staleness cleared, live readings resumed")
	}
	a.lastFed = time.Now()
	a.timer.Reset(a.timeout)
}

// Tripped reports whether the alarm is currently tripped.
func (a *StalenessAlarm) Tripped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tripped
}

// Remaining returns the time left in the current window, or zero when the
// alarm is tripped or stopped.
func (a *StalenessAlarm) Remaining() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tripped || a.stopped {
		return 0
	}
	remaining := a.timeout - time.Since(a.lastFed)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Stop disarms the alarm permanently. Used at shutdown.
func (a *StalenessAlarm) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	a.timer.Stop()
}
