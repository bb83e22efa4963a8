package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/c12/router/contracts"
)

// MockBackend simulates model loading and generation. It backs development
// mode when no Ollama host is configured, and tests that need deterministic
// runners or scripted failures.
type MockBackend struct {
	// LoadDelay simulates cold-load latency.
	LoadDelay time.Duration

	mu        sync.Mutex
	failLoads map[string]error
	failGens  map[string]error
	loads     map[string]int
}

// NewMockBackend creates a mock with no delay and no scripted failures.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		failLoads: make(map[string]error),
		failGens:  make(map[string]error),
		loads:     make(map[string]int),
	}
}

// FailLoads makes every Load for the given model id return err.
// Pass a nil err to clear the failure.
func (b *MockBackend) FailLoads(modelID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failLoads, modelID)
		return
	}
	b.failLoads[modelID] = err
}

// FailGenerations makes runners created for the given model id fail every
// Generate call with err. Pass a nil err to clear.
func (b *MockBackend) FailGenerations(modelID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failGens, modelID)
		return
	}
	b.failGens[modelID] = err
}

// LoadCount reports how many Load calls the model has seen.
func (b *MockBackend) LoadCount(modelID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loads[modelID]
}

// Load returns a deterministic runner after the configured delay.
func (b *MockBackend) Load(ctx context.Context, desc contracts.ModelDescriptor) (Runner, error) {
	b.mu.Lock()
	b.loads[desc.ID]++
	failErr := b.failLoads[desc.ID]
	genErr := b.failGens[desc.ID]
	b.mu.Unlock()

	if b.LoadDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.LoadDelay):
		}
	}
	if failErr != nil {
		return nil, failErr
	}
	return &MockRunner{Desc: desc, GenerateErr: genErr}, nil
}

// MockRunner echoes prompts back with a model prefix.
type MockRunner struct {
	Desc contracts.ModelDescriptor

	// GenerateErr, when set, fails every Generate call.
	GenerateErr error

	mu            sync.Mutex
	closed        bool
	lastMaxLength int
}

func (r *MockRunner) ModelID() string {
	return r.Desc.ID
}

func (r *MockRunner) Generate(ctx context.Context, prompt string, maxLength int) (Result, error) {
	r.mu.Lock()
	r.lastMaxLength = maxLength
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if r.GenerateErr != nil {
		return Result{}, r.GenerateErr
	}

	text := fmt.Sprintf("[%s] %s", r.Desc.ID, summarize(prompt))
	return Result{
		Text:             text,
		PromptTokens:     len(strings.Fields(prompt)),
		CompletionTokens: len(strings.Fields(text)),
		TotalDurationMs:  1,
	}, nil
}

func (r *MockRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("runner for %s already closed", r.Desc.ID)
	}
	r.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (r *MockRunner) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// LastMaxLength reports the maxLength of the most recent Generate call.
func (r *MockRunner) LastMaxLength() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastMaxLength
}

func summarize(prompt string) string {
	const max = 48
	prompt = strings.TrimSpace(prompt)
	if len(prompt) <= max {
		return prompt
	}
	return prompt[:max] + "..."
}
