// Package metrics reports routing counters to an observability sink.
//
// Emission is fire-and-forget: the request path never waits on, or fails
// because of, a metrics write.
package metrics

import (
	"time"

	"github.com/c12/router/contracts"
)

// Sink receives routing and cache events.
type Sink interface {
	CountRequest()
	CountSelection(modelID string)
	ObserveTier(tier contracts.CarbonTier)
	AddCarbonSaved(grams float64)
	ObserveLoadLatency(modelID string, d time.Duration)
	CountLoadFailure(modelID string)
}

// Nop discards all metrics. Used when Redis is not configured and in tests.
type Nop struct{}

func (Nop) CountRequest()                            {}
func (Nop) CountSelection(string)                    {}
func (Nop) ObserveTier(contracts.CarbonTier)         {}
func (Nop) AddCarbonSaved(float64)                   {}
func (Nop) ObserveLoadLatency(string, time.Duration) {}
func (Nop) CountLoadFailure(string)                  {}
