// Package shutdown coordinates ordered cleanup at process exit.
package shutdown

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// DefaultTimeout leaves a 5s buffer before the Kubernetes SIGKILL at 30s.
const DefaultTimeout = 25 * time.Second

// Coordinator collects named cleanup steps while the process starts up, then
// runs them in reverse registration order once the signal context is
// cancelled. Reverse order tears dependencies down before the things they
// depend on: the HTTP server stops before the engine's Redis client closes.
type Coordinator struct {
	timeout time.Duration

	mu    sync.Mutex
	steps []step
}

type step struct {
	name string
	fn   func(context.Context) error
}

// NewCoordinator creates a coordinator. timeout can be zero for the default.
func NewCoordinator(timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{timeout: timeout}
}

// Register adds a cleanup step. Steps registered later run earlier.
func (c *Coordinator) Register(name string, fn func(context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, step{name: name, fn: fn})
}

// WaitAndRun blocks until ctx is cancelled, then runs every registered step
// under a shared timeout. All steps run even when earlier ones fail; the
// returned error aggregates the failures.
func (c *Coordinator) WaitAndRun(ctx context.Context) error {
	<-ctx.Done()

	c.mu.Lock()
	steps := make([]step, len(c.steps))
	copy(steps, c.steps)
	c.mu.Unlock()

	log.Printf("INFO: Shutdown signal received, running %d cleanup steps", len(steps))

	cleanupCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		log.Printf("INFO: Stopping %s", s.name)
		if err := s.fn(cleanupCtx); err != nil {
			log.Printf("ERROR: Failed to stop %s: %v", s.name, err)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}

	if cleanupCtx.Err() == context.DeadlineExceeded {
		log.Printf("ERROR: Shutdown timeout exceeded (%v)", c.timeout)
		errs = append(errs, fmt.Errorf("shutdown timeout exceeded: %w", cleanupCtx.Err()))
	}

	if len(errs) == 0 {
		log.Printf("INFO: Graceful shutdown completed")
		return nil
	}
	return fmt.Errorf("shutdown errors: %v", errs)
}
