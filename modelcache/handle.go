package modelcache

import (
	"sync"
	"time"

	"github.com/c12/router/backend"
)

// Handle is a borrowed reference to a ready model. While any handle on an
// entry is unreleased the entry cannot be evicted. Release is idempotent and
// must be called when the caller is done with the runner; using the runner
// after Release is a bug.
type Handle struct {
	cache *Cache
	entry *entry
	once  sync.Once
}

// ModelID returns the id of the borrowed model.
func (h *Handle) ModelID() string {
	return h.entry.modelID
}

// Runner returns the loaded model.
func (h *Handle) Runner() backend.Runner {
	return h.entry.runner
}

// Release returns the borrow. When the last borrow is released the entry
// becomes an eviction candidate again.
func (h *Handle) Release() {
	h.once.Do(func() {
		c := h.cache
		c.mu.Lock()
		h.entry.borrows--
		h.entry.lastUsed = time.Now()
		if h.entry.borrows == 0 {
			c.notifyLocked()
		}
		c.mu.Unlock()
	})
}
