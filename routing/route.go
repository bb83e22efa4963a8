package routing

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/c12/router/contracts"
	"github.com/c12/router/journal"
)

const journalTimeout = 2 * time.Second

// Route serves one request end to end: analyze the text, read the grid,
// decide, resolve a model, generate, and account for it all.
func (e *Engine) Route(ctx context.Context, req contracts.AskRequest) (contracts.AskResponse, error) {
	start := time.Now()

	if strings.TrimSpace(req.Text) == "" {
		return contracts.AskResponse{}, ErrEmptyText
	}

	features := e.analyzer.Analyze(req.Text)
	reading := e.monitor.Current(ctx)

	var decision contracts.RoutingDecision
	if model := req.ModelOrAuto(); model == contracts.ModelAuto {
		decision = e.Decide(features, reading)
	} else {
		// Explicit choice bypasses the decision table but not the cache:
		// the capacity and pinning rules still hold.
		if _, ok := e.cache.Descriptor(model); !ok {
			return contracts.AskResponse{}, fmt.Errorf("%w: %q", ErrUnknownModel, model)
		}
		decision = e.newDecision(model, []string{TagExplicit}, features, reading)
		atomic.AddInt64(&e.explicitPicks, 1)
	}

	handle, decision, err := e.Resolve(ctx, decision)
	if err != nil {
		return contracts.AskResponse{}, err
	}
	defer handle.Release()

	desc, _ := e.cache.Descriptor(decision.ModelID)
	result, err := handle.Runner().Generate(ctx, req.Text, desc.ClampLength(req.MaxLength))
	if err != nil {
		// The selection still happened; only the generation failed.
		atomic.AddInt64(&e.requests, 1)
		atomic.AddInt64(&e.inferenceErrors, 1)
		e.sink.CountRequest()
		e.sink.CountSelection(decision.ModelID)
		e.sink.ObserveTier(decision.CarbonTier)
		return contracts.AskResponse{}, err
	}

	tokens := result.TotalTokens()
	if tokens == 0 {
		tokens = features.TokenCount
	}
	saved := e.estimateSavings(desc, tokens, reading)
	elapsed := time.Since(start)

	e.observe(decision, reading, features, tokens, saved, elapsed)

	return contracts.AskResponse{
		Response:            result.Text,
		ModelUsed:           decision.ModelID,
		CarbonSavedEstimate: saved,
		DecisionID:          decision.ID,
		Rationale:           decision.RationaleTags,
		CarbonTier:          decision.CarbonTier,
		ProcessingTimeMs:    float64(elapsed.Microseconds()) / 1000.0,
	}, nil
}

// estimateSavings compares the served model against the baseline. A missing
// baseline descriptor disables the estimate rather than guessing.
func (e *Engine) estimateSavings(used contracts.ModelDescriptor, tokens int, reading contracts.CarbonReading) float64 {
	baseline, ok := e.cache.Descriptor(e.baselineID)
	if !ok {
		return 0
	}
	return CarbonSaved(used, baseline, tokens, reading)
}

// observe records a served request in local counters, the metrics sink and
// the decision journal. Journal trouble is logged and swallowed: accounting
// never fails a request that already succeeded.
func (e *Engine) observe(d contracts.RoutingDecision, r contracts.CarbonReading, f contracts.QueryFeatures, tokens int, saved float64, elapsed time.Duration) {
	atomic.AddInt64(&e.requests, 1)
	if d.CarbonTier == contracts.TierHigh {
		atomic.AddInt64(&e.carbonHighHits, 1)
	}
	e.selectionMu.Lock()
	e.selections[d.ModelID]++
	e.selectionMu.Unlock()

	e.sink.CountRequest()
	e.sink.CountSelection(d.ModelID)
	e.sink.ObserveTier(d.CarbonTier)
	e.sink.AddCarbonSaved(saved)

	if e.journal == nil {
		return
	}
	rec := journal.Record{
		Version:          journal.SchemaVersion,
		DecisionID:       d.ID,
		Timestamp:        d.Timestamp,
		ModelID:          d.ModelID,
		CarbonTier:       string(d.CarbonTier),
		CarbonValue:      r.ValueGCO2PerKWh,
		CarbonSource:     string(r.Source),
		IsCode:           f.IsCode,
		Complexity:       string(f.Complexity),
		Rationale:        d.RationaleTags,
		TokenCount:       tokens,
		CarbonSavedG:     saved,
		ProcessingTimeMs: float64(elapsed.Microseconds()) / 1000.0,
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if _, err := e.journal.Append(ctx, rec); err != nil {
		log.Printf("WARN: Failed to journal decision %s: %v", d.ID, err)
	}
}
