// Package routing decides which model serves a request and orchestrates the
// request end to end.
//
// The decision policy is a fixed-precedence table: high carbon forces the
// frugal pinned model before any quality consideration, code routes to the
// code specialist, high complexity routes to the larger general model, and
// everything else takes the cheap default. Load failures substitute the
// pinned model; only pinned-model exhaustion fails a request.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c12/router/analyzer"
	"github.com/c12/router/carbon"
	"github.com/c12/router/contracts"
	"github.com/c12/router/journal"
	"github.com/c12/router/metrics"
	"github.com/c12/router/modelcache"
)

// Request-level errors, mapped to HTTP statuses by the server.
var (
	ErrEmptyText         = errors.New("text is required")
	ErrUnknownModel      = errors.New("unknown model")
	ErrPinnedUnavailable = errors.New("pinned model unavailable")
)

// Rationale tags name the decision branch that fired. At most one selection
// tag per decision, plus markers for explicit choice and fallback.
const (
	TagCarbonHigh     = "carbon:high"
	TagCode           = "code"
	TagComplexityHigh = "complexity:high"
	TagDefault        = "default"
	TagExplicit       = "explicit"
	TagLoadFallback   = "fallback:load_error"
)

// Engine wires the analyzer, carbon monitor, model cache and observability
// into the routing flow.
type Engine struct {
	analyzer *analyzer.Analyzer
	monitor  *carbon.Monitor
	cache    *modelcache.Cache
	sink     metrics.Sink
	journal  *journal.Journal // optional

	// baselineID anchors the savings estimate: the model a carbon-unaware
	// deployment would run for everything.
	baselineID string

	requests        int64
	fallbacks       int64
	carbonHighHits  int64
	explicitPicks   int64
	inferenceErrors int64

	selectionMu sync.Mutex
	selections  map[string]int64
}

// NewEngine builds an engine. jour may be nil to skip journaling; sink may
// be nil to drop metrics; baselineID may be empty to use the gpt2 default.
func NewEngine(an *analyzer.Analyzer, mon *carbon.Monitor, cache *modelcache.Cache, sink metrics.Sink, jour *journal.Journal, baselineID string) *Engine {
	if sink == nil {
		sink = metrics.Nop{}
	}
	if baselineID == "" {
		baselineID = contracts.ModelGPT2
	}
	return &Engine{
		analyzer:   an,
		monitor:    mon,
		cache:      cache,
		sink:       sink,
		journal:    jour,
		baselineID: baselineID,
		selections: make(map[string]int64),
	}
}

// Decide picks a model for the given features and carbon reading. Pure and
// total: the same inputs always produce the same model and tag, and every
// input resolves to something. Grid state outranks query shape, so a high
// tier sends even code to the frugal model.
func (e *Engine) Decide(features contracts.QueryFeatures, reading contracts.CarbonReading) contracts.RoutingDecision {
	var modelID, tag string
	switch {
	case reading.Tier == contracts.TierHigh:
		modelID, tag = contracts.ModelTinyLlama, TagCarbonHigh
	case features.IsCode:
		modelID, tag = contracts.ModelCodeLlama, TagCode
	case features.Complexity == contracts.ComplexityHigh:
		modelID, tag = contracts.ModelGPT2, TagComplexityHigh
	default:
		modelID, tag = contracts.ModelTinyLlama, TagDefault
	}
	return e.newDecision(modelID, []string{tag}, features, reading)
}

func (e *Engine) newDecision(modelID string, tags []string, f contracts.QueryFeatures, r contracts.CarbonReading) contracts.RoutingDecision {
	return contracts.RoutingDecision{
		ID:            uuid.NewString(),
		ModelID:       modelID,
		CarbonTier:    r.Tier,
		IsCode:        f.IsCode,
		Complexity:    f.Complexity,
		RationaleTags: tags,
		Timestamp:     time.Now().UTC(),
	}
}

// Resolve obtains a borrowed handle for the decision's model. On load
// failure it substitutes the pinned model and rewrites the decision so the
// journal reflects the model actually used. The returned decision is
// authoritative; the error is non-nil only when the pinned model itself
// cannot be served.
func (e *Engine) Resolve(ctx context.Context, decision contracts.RoutingDecision) (*modelcache.Handle, contracts.RoutingDecision, error) {
	handle, err := e.cache.GetOrLoad(ctx, decision.ModelID)
	if err == nil {
		return handle, decision, nil
	}

	pinned := e.cache.PinnedID()
	if decision.ModelID == pinned {
		return nil, decision, fmt.Errorf("%w: %v", ErrPinnedUnavailable, err)
	}

	log.Printf("WARN: Model %s unavailable, substituting %s: %v", decision.ModelID, pinned, err)
	atomic.AddInt64(&e.fallbacks, 1)

	fallback := decision
	fallback.ModelID = pinned
	fallback.RationaleTags = append(append([]string{}, decision.RationaleTags...), TagLoadFallback)

	handle, err = e.cache.GetOrLoad(ctx, pinned)
	if err != nil {
		return nil, fallback, fmt.Errorf("%w: %v", ErrPinnedUnavailable, err)
	}
	return handle, fallback, nil
}

// Stats returns routing counters for the stats endpoint.
func (e *Engine) Stats() map[string]interface{} {
	e.selectionMu.Lock()
	selections := make(map[string]int64, len(e.selections))
	for id, n := range e.selections {
		selections[id] = n
	}
	e.selectionMu.Unlock()

	return map[string]interface{}{
		"requests_total":          atomic.LoadInt64(&e.requests),
		"fallbacks":               atomic.LoadInt64(&e.fallbacks),
		"carbon_high_hits":        atomic.LoadInt64(&e.carbonHighHits),
		"explicit_model_requests": atomic.LoadInt64(&e.explicitPicks),
		"inference_errors":        atomic.LoadInt64(&e.inferenceErrors),
		"model_selected":          selections,
	}
}
