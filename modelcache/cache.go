// Package modelcache keeps a bounded set of models resident and hands out
// refcounted borrows on them.
//
// The pinned model is loaded eagerly and never evicted; at most capacity
// non-pinned models are resident alongside it. Loads are single-flight per
// model id, detached from caller contexts, and bounded by the descriptor's
// load timeout. Eviction picks the least recently used idle entry and never
// touches an entry with outstanding borrows.
package modelcache

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c12/router/backend"
	"github.com/c12/router/contracts"
	"github.com/c12/router/metrics"
)

// DefaultCapacity is the non-pinned residency bound. Edge boxes fit one
// large model next to the pinned fallback.
const DefaultCapacity = 1

// State is the lifecycle phase of a cache entry. An id without an entry is
// absent.
type State string

const (
	StateLoading  State = "loading"
	StateReady    State = "ready"
	StateEvicting State = "evicting"
)

// Loader acquires a runner for a descriptor. Loads run on a background
// context: a caller abandoning its wait must not cancel work other callers
// share.
type Loader interface {
	Load(ctx context.Context, desc contracts.ModelDescriptor) (backend.Runner, error)
}

// entry tracks one model id through loading, residency and eviction.
// All fields are guarded by Cache.mu except done, which is written once
// before close, and loadErr, which is written before done is closed.
type entry struct {
	modelID  string
	state    State
	runner   backend.Runner
	lastUsed time.Time
	borrows  int

	// done is closed when the current phase finishes: for Loading when the
	// flight resolves, for Evicting when the runner is closed and the slot
	// is free. Replaced on each phase transition.
	done chan struct{}

	// loadErr is the flight's failure, readable after done is closed.
	loadErr error
}

// Cache is the bounded model registry.
type Cache struct {
	loader   Loader
	registry map[string]contracts.ModelDescriptor
	pinnedID string
	capacity int
	probe    ResourceProbe
	sink     metrics.Sink

	mu      sync.Mutex
	entries map[string]*entry
	waitCh  chan struct{} // closed and replaced whenever residency changes

	loads     int64
	hits      int64
	evictions int64
	failures  int64
}

// New validates the registry and builds an empty cache. Exactly one
// descriptor must be pinned. probe may be nil to skip memory checks; sink
// may be nil to drop metrics.
func New(loader Loader, models []contracts.ModelDescriptor, capacity int, probe ResourceProbe, sink metrics.Sink) (*Cache, error) {
	if loader == nil {
		return nil, fmt.Errorf("loader is required")
	}
	if capacity < 0 {
		return nil, fmt.Errorf("capacity must not be negative, got %d", capacity)
	}
	if sink == nil {
		sink = metrics.Nop{}
	}

	registry := make(map[string]contracts.ModelDescriptor, len(models))
	pinned := ""
	for _, m := range models {
		if m.ID == "" {
			return nil, fmt.Errorf("model descriptor with empty id")
		}
		if _, dup := registry[m.ID]; dup {
			return nil, fmt.Errorf("duplicate model id %s", m.ID)
		}
		if m.Pinned {
			if pinned != "" {
				return nil, fmt.Errorf("models %s and %s are both pinned, want exactly one", pinned, m.ID)
			}
			pinned = m.ID
		}
		registry[m.ID] = m
	}
	if pinned == "" {
		return nil, fmt.Errorf("exactly one pinned model is required")
	}

	return &Cache{
		loader:   loader,
		registry: registry,
		pinnedID: pinned,
		capacity: capacity,
		probe:    probe,
		sink:     sink,
		entries:  make(map[string]*entry),
	}, nil
}

// Warm eagerly loads the pinned model. The pinned model is the universal
// fallback, so callers treat a failure here as fatal.
func (c *Cache) Warm(ctx context.Context) error {
	h, err := c.GetOrLoad(ctx, c.pinnedID)
	if err != nil {
		return err
	}
	h.Release()
	return nil
}

// PinnedID returns the id of the pinned model.
func (c *Cache) PinnedID() string {
	return c.pinnedID
}

// Descriptor looks up a registry entry by id.
func (c *Cache) Descriptor(modelID string) (contracts.ModelDescriptor, bool) {
	desc, ok := c.registry[modelID]
	return desc, ok
}

// GetOrLoad returns a borrowed handle on a ready model, loading it first if
// needed. Concurrent callers for the same id share one load; a caller whose
// context ends while waiting detaches without cancelling the load. Errors
// are always *LoadError. The caller must Release the handle.
func (c *Cache) GetOrLoad(ctx context.Context, modelID string) (*Handle, error) {
	desc, ok := c.registry[modelID]
	if !ok {
		return nil, &LoadError{ModelID: modelID, Cause: ErrUnknownModel}
	}

	for {
		c.mu.Lock()
		if e, exists := c.entries[modelID]; exists {
			switch e.state {
			case StateReady:
				e.borrows++
				e.lastUsed = time.Now()
				c.mu.Unlock()
				atomic.AddInt64(&c.hits, 1)
				return &Handle{cache: c, entry: e}, nil

			case StateLoading, StateEvicting:
				done := e.done
				c.mu.Unlock()
				select {
				case <-ctx.Done():
					return nil, &LoadError{ModelID: modelID, Cause: ctx.Err()}
				case <-done:
				}
				if e.loadErr != nil {
					return nil, &LoadError{ModelID: modelID, Cause: e.loadErr}
				}
				continue
			}
		}

		// Absent. Pinned loads bypass admission: the fallback must never
		// queue behind capacity.
		if !desc.Pinned {
			wait, err := c.admitLocked()
			if err != nil {
				c.mu.Unlock()
				return nil, &LoadError{ModelID: modelID, Cause: err}
			}
			if wait != nil {
				c.mu.Unlock()
				select {
				case <-ctx.Done():
					return nil, &LoadError{ModelID: modelID, Cause: ctx.Err()}
				case <-wait:
				}
				continue
			}
		}

		e := &entry{
			modelID: modelID,
			state:   StateLoading,
			done:    make(chan struct{}),
		}
		c.entries[modelID] = e
		c.mu.Unlock()

		go c.load(e, desc)

		select {
		case <-ctx.Done():
			// Detach; the flight keeps going for other waiters.
			return nil, &LoadError{ModelID: modelID, Cause: ctx.Err()}
		case <-e.done:
		}
		if e.loadErr != nil {
			return nil, &LoadError{ModelID: modelID, Cause: e.loadErr}
		}
	}
}

// admitLocked enforces the non-pinned residency bound. It returns (nil, nil)
// when a load slot is free, a channel to wait on before retrying when the
// cache is full, or an error when admission can never succeed.
// Called with c.mu held.
func (c *Cache) admitLocked() (<-chan struct{}, error) {
	if c.capacity == 0 {
		return nil, fmt.Errorf("%w: non-pinned capacity is zero", ErrResourcesExhausted)
	}

	resident := 0
	for _, e := range c.entries {
		if e.modelID != c.pinnedID {
			resident++
		}
	}
	if resident < c.capacity {
		return nil, nil
	}

	// Full: evict the least recently used idle entry. Borrowed and
	// in-transition entries are not candidates.
	var victim *entry
	for _, e := range c.entries {
		if e.modelID == c.pinnedID || e.state != StateReady || e.borrows > 0 {
			continue
		}
		if victim == nil || e.lastUsed.Before(victim.lastUsed) {
			victim = e
		}
	}
	if victim == nil {
		// Everything is borrowed or in flight. Wait for residency to change.
		return c.waitChLocked(), nil
	}

	c.evictLocked(victim)
	return victim.done, nil
}

// evictLocked transitions a Ready idle entry to Evicting and finishes the
// eviction off-lock. Called with c.mu held.
func (c *Cache) evictLocked(e *entry) {
	e.state = StateEvicting
	e.done = make(chan struct{})
	runner := e.runner
	log.Printf("INFO: Evicting model %s (idle since %s)",
		e.modelID, e.lastUsed.Format(time.RFC3339))

	go func() {
		if err := runner.Close(); err != nil {
			log.Printf("WARN: Failed to close runner for %s: %v", e.modelID, err)
		}
		c.mu.Lock()
		delete(c.entries, e.modelID)
		close(e.done)
		c.notifyLocked()
		c.mu.Unlock()
		atomic.AddInt64(&c.evictions, 1)
	}()
}

// load runs the single-flight load for a Loading entry. It uses a background
// context bounded by the descriptor's load timeout, so an abandoned wait
// never cancels the flight.
func (c *Cache) load(e *entry, desc contracts.ModelDescriptor) {
	atomic.AddInt64(&c.loads, 1)
	ctx, cancel := context.WithTimeout(context.Background(), desc.LoadTimeout())
	defer cancel()

	var runner backend.Runner
	err := c.checkResources(ctx, desc)
	if err == nil {
		start := time.Now()
		runner, err = c.loader.Load(ctx, desc)
		if err == nil {
			c.sink.ObserveLoadLatency(desc.ID, time.Since(start))
			log.Printf("INFO: Model %s ready in %dms", desc.ID, time.Since(start).Milliseconds())
		}
	}

	c.mu.Lock()
	if err != nil {
		// Loading resolves back to absent: the next request starts a
		// fresh flight instead of inheriting a poisoned entry.
		e.loadErr = err
		delete(c.entries, e.modelID)
	} else {
		e.runner = runner
		e.state = StateReady
		e.lastUsed = time.Now()
	}
	close(e.done)
	c.notifyLocked()
	c.mu.Unlock()

	if err != nil {
		atomic.AddInt64(&c.failures, 1)
		c.sink.CountLoadFailure(desc.ID)
		log.Printf("WARN: Model %s load failed: %v", desc.ID, err)
	}
}

// checkResources applies the descriptor's memory floor. Probe errors allow
// the load: a broken probe must not take models offline. Pinned loads are
// never blocked.
func (c *Cache) checkResources(ctx context.Context, desc contracts.ModelDescriptor) error {
	if c.probe == nil || desc.Pinned || desc.MinFreeMemMB <= 0 {
		return nil
	}
	avail, err := c.probe.AvailableMB(ctx)
	if err != nil {
		log.Printf("WARN: Resource probe failed, allowing load of %s: %v", desc.ID, err)
		return nil
	}
	if avail < desc.MinFreeMemMB {
		return fmt.Errorf("%w: %d MB available, %d MB required for %s",
			ErrResourcesExhausted, avail, desc.MinFreeMemMB, desc.ID)
	}
	return nil
}

func (c *Cache) waitChLocked() <-chan struct{} {
	if c.waitCh == nil {
		c.waitCh = make(chan struct{})
	}
	return c.waitCh
}

// notifyLocked wakes every goroutine blocked on residency changes.
// Called with c.mu held.
func (c *Cache) notifyLocked() {
	if c.waitCh != nil {
		close(c.waitCh)
		c.waitCh = nil
	}
}

// Resident lists the ids of Ready models, sorted.
func (c *Cache) Resident() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.entries))
	for id, e := range c.entries {
		if e.state == StateReady {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Stats returns cache counters for the stats endpoint.
func (c *Cache) Stats() map[string]interface{} {
	return map[string]interface{}{
		"loads":     atomic.LoadInt64(&c.loads),
		"hits":      atomic.LoadInt64(&c.hits),
		"evictions": atomic.LoadInt64(&c.evictions),
		"failures":  atomic.LoadInt64(&c.failures),
		"resident":  c.Resident(),
	}
}
