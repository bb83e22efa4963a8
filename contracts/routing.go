package contracts

import (
	"time"
)

// Model identifiers for the fixed model set.
const (
	ModelTinyLlama = "tinyllama"
	ModelCodeLlama = "codellama"
	ModelGPT2      = "gpt2"

	// ModelAuto requests engine-driven model selection.
	ModelAuto = "auto"
)

// Complexity is the categorical difficulty bucket for a query.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// QueryFeatures holds features extracted from request text.
// Derived deterministically and purely from the raw text.
type QueryFeatures struct {
	CodeScore  float64    `json:"code_score"`  // Confidence the text is code, clamped to [0,1]
	IsCode     bool       `json:"is_code"`     // CodeScore >= the configured code threshold
	Complexity Complexity `json:"complexity"`  // Derived from token count and lexical diversity
	TokenCount int        `json:"token_count"` // Whitespace-delimited token count
}

// ModelDescriptor describes one model in the fixed set.
type ModelDescriptor struct {
	ID          string        `json:"id"`            // Model identifier (e.g., "tinyllama")
	BackendName string        `json:"backend_name"`  // Name the inference backend knows the model by
	Pinned      bool          `json:"pinned"`        // Always resident, never evicted
	AvgLoadTime time.Duration `json:"avg_load_time"` // Typical cold-load duration
	MaxLength   int           `json:"max_length"`    // Generation length cap in tokens

	// EnergyKWhPer1K is the model's energy draw in kWh per 1k tokens,
	// used for the carbon-savings estimate.
	EnergyKWhPer1K float64 `json:"energy_kwh_per_1k_tokens"`

	// MinFreeMemMB is the available-memory floor required to start a load.
	MinFreeMemMB int64 `json:"min_free_mem_mb"`
}

// LoadTimeout returns the bound for a single load attempt.
// Twice the typical load time, with a 30 second floor.
func (m *ModelDescriptor) LoadTimeout() time.Duration {
	timeout := 2 * m.AvgLoadTime
	if timeout < 30*time.Second {
		timeout = 30 * time.Second
	}
	return timeout
}

// ClampLength bounds a requested generation length to the model's cap.
// Non-positive requests get the full cap.
func (m *ModelDescriptor) ClampLength(requested int) int {
	if requested <= 0 || requested > m.MaxLength {
		return m.MaxLength
	}
	return requested
}

// DefaultModels returns the built-in model set.
// TinyLlama is the only pinned descriptor and the universal safe fallback.
func DefaultModels() []ModelDescriptor {
	return []ModelDescriptor{
		{
			ID:             ModelTinyLlama,
			BackendName:    "tinyllama",
			Pinned:         true,
			AvgLoadTime:    5 * time.Second,
			MaxLength:      2048,
			EnergyKWhPer1K: 0.001,
			MinFreeMemMB:   512,
		},
		{
			ID:             ModelGPT2,
			BackendName:    "gpt2",
			Pinned:         false,
			AvgLoadTime:    15 * time.Second,
			MaxLength:      1024,
			EnergyKWhPer1K: 0.01,
			MinFreeMemMB:   2048,
		},
		{
			ID:             ModelCodeLlama,
			BackendName:    "codellama",
			Pinned:         false,
			AvgLoadTime:    30 * time.Second,
			MaxLength:      4096,
			EnergyKWhPer1K: 0.02,
			MinFreeMemMB:   4096,
		},
	}
}

// RoutingDecision records one model choice and why it was made.
// Immutable once produced; one per request.
type RoutingDecision struct {
	ID            string     `json:"decision_id"`      // UUID for journal correlation
	ModelID       string     `json:"model_id"`         // Model actually used for the request
	CarbonTier    CarbonTier `json:"carbon_tier"`      // Tier at decision time
	IsCode        bool       `json:"is_code"`          // Feature snapshot
	Complexity    Complexity `json:"complexity"`       // Feature snapshot
	RationaleTags []string   `json:"rationale"`        // Which decision branches fired
	Timestamp     time.Time  `json:"timestamp"`        // Decision creation time
}

// HasTag checks if the decision carries the given rationale tag.
func (d *RoutingDecision) HasTag(tag string) bool {
	for _, t := range d.RationaleTags {
		if t == tag {
			return true
		}
	}
	return false
}

// AskRequest is the API-layer request for a generation.
type AskRequest struct {
	Text      string `json:"text"`                 // Prompt text (required)
	Model     string `json:"model,omitempty"`      // "auto" or an explicit model id
	MaxLength int    `json:"max_length,omitempty"` // Generation cap, clamped per model
}

// ModelOrAuto returns the requested model, defaulting to auto selection.
func (r *AskRequest) ModelOrAuto() string {
	if r.Model == "" {
		return ModelAuto
	}
	return r.Model
}

// AskResponse is the API-layer result of a generation.
type AskResponse struct {
	Response            string     `json:"response"`              // Generated text
	ModelUsed           string     `json:"model_used"`            // Model that served the request
	CarbonSavedEstimate float64    `json:"carbon_saved_estimate"` // Grams CO2 saved vs. the baseline model
	DecisionID          string     `json:"decision_id"`           // Correlates with the decision journal
	Rationale           []string   `json:"rationale"`             // Decision rationale tags
	CarbonTier          CarbonTier `json:"carbon_tier"`           // Tier at decision time
	ProcessingTimeMs    float64    `json:"processing_time_ms"`    // End-to-end request duration
}
