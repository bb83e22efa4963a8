package backend

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/c12/router/contracts"
)

// OllamaBackend loads and runs models through a local Ollama server.
type OllamaBackend struct {
	host   string
	client *api.Client
}

// NewOllamaBackend creates a backend for the given host URL.
func NewOllamaBackend(host string) (*OllamaBackend, error) {
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama host %s: %w", host, err)
	}
	return &OllamaBackend{host: host, client: api.NewClient(u, http.DefaultClient)}, nil
}

// Ping checks the Ollama server is reachable.
func (b *OllamaBackend) Ping(ctx context.Context) error {
	return b.client.Heartbeat(ctx)
}

// Load makes the model resident. An empty generate forces Ollama to pull the
// weights into memory, so missing models surface here as load failures
// instead of first-request failures.
func (b *OllamaBackend) Load(ctx context.Context, desc contracts.ModelDescriptor) (Runner, error) {
	req := &api.GenerateRequest{
		Model: desc.BackendName,
		// Residency is governed by the cache, not by Ollama's idle timer.
		KeepAlive: &api.Duration{Duration: -1},
	}
	start := time.Now()
	err := b.client.Generate(ctx, req, func(api.GenerateResponse) error { return nil })
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", desc.BackendName, err)
	}
	log.Printf("INFO: Ollama loaded %s in %dms", desc.BackendName, time.Since(start).Milliseconds())
	return &ollamaRunner{client: b.client, desc: desc}, nil
}

// ollamaRunner serves generations for one resident model.
type ollamaRunner struct {
	client *api.Client
	desc   contracts.ModelDescriptor
}

func (r *ollamaRunner) ModelID() string {
	return r.desc.ID
}

func (r *ollamaRunner) Generate(ctx context.Context, prompt string, maxLength int) (Result, error) {
	start := time.Now()
	req := &api.GenerateRequest{
		Model:     r.desc.BackendName,
		Prompt:    prompt,
		Stream:    boolPtr(false),
		KeepAlive: &api.Duration{Duration: -1},
		Options: map[string]interface{}{
			"num_predict": maxLength,
		},
	}

	var out strings.Builder
	var promptTokens, completionTokens int
	err := r.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		promptTokens = resp.PromptEvalCount
		completionTokens = resp.EvalCount
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("generation failed on %s: %w", r.desc.ID, err)
	}

	return Result{
		Text:             out.String(),
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalDurationMs:  time.Since(start).Milliseconds(),
	}, nil
}

// Close releases the model. Pinned models stay resident for the process
// lifetime; for everything else a zero keep-alive asks Ollama to unload
// immediately, returning the memory to the next load.
func (r *ollamaRunner) Close() error {
	if r.desc.Pinned {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req := &api.GenerateRequest{
		Model:     r.desc.BackendName,
		KeepAlive: &api.Duration{Duration: 0},
	}
	if err := r.client.Generate(ctx, req, func(api.GenerateResponse) error { return nil }); err != nil {
		return fmt.Errorf("failed to unload model %s: %w", r.desc.BackendName, err)
	}
	return nil
}

func boolPtr(b bool) *bool {
	return &b
}
