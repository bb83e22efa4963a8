// Package backend adapts inference providers behind a common Runner interface.
package backend

import "context"

// Result carries generated text plus the metrics the backend reports.
type Result struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalDurationMs  int64
}

// TotalTokens is the prompt and completion token count combined. Zero when
// the backend reports no usage.
func (r Result) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// Runner is a loaded model ready to serve generations. A Runner is owned by
// the model cache: Close is called exactly once, on eviction.
type Runner interface {
	ModelID() string
	Generate(ctx context.Context, prompt string, maxLength int) (Result, error)
	Close() error
}
