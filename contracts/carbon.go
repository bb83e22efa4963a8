// Package contracts defines shared data types for the C12 routing subsystem.
// These types are used by the carbon monitor, the routing engine, and the API
// surface for decision making and observability.
package contracts

import (
	"time"
)

// CarbonTier is the categorical bucket derived from numeric grid carbon intensity.
type CarbonTier string

const (
	TierLow    CarbonTier = "low"
	TierMedium CarbonTier = "medium"
	TierHigh   CarbonTier = "high"
)

// CarbonSource records where a reading came from.
type CarbonSource string

const (
	// SourceLive means the reading was fetched from the provider within the TTL window.
	SourceLive CarbonSource = "live"

	// SourceCached means the provider was unreachable and the last-known reading is served.
	SourceCached CarbonSource = "cached"

	// SourceDefault means no reading was ever obtained and the conservative default is served.
	SourceDefault CarbonSource = "default"
)

// CarbonReading is a single observation of grid carbon intensity.
// Readings are replaced on refresh, never mutated in place; exactly one
// reading is current at any instant.
type CarbonReading struct {
	ValueGCO2PerKWh float64      `json:"value_gco2_per_kwh"` // Grid intensity in grams CO2 per kWh
	Tier            CarbonTier   `json:"tier"`               // Derived bucket (pure function of value)
	ObservedAt      time.Time    `json:"observed_at"`        // Provider observation timestamp
	Source          CarbonSource `json:"source"`             // live, cached, or default
	Zone            string       `json:"zone,omitempty"`     // Grid zone (e.g., "DE", "US-CAL-CISO")
	Estimated       bool         `json:"estimated"`          // Provider flagged the value as estimated
}

// IsDegraded returns true if the reading is not fresh provider data.
func (r *CarbonReading) IsDegraded() bool {
	return r.Source != SourceLive
}

// ObservedBefore checks if the observation is older than the given duration.
func (r *CarbonReading) ObservedBefore(maxAge time.Duration) bool {
	return time.Since(r.ObservedAt) > maxAge
}
