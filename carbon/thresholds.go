package carbon

import (
	"fmt"
	"time"

	"github.com/c12/router/contracts"
)

// Thresholds partition intensity values into tiers. The partition is total:
// every value lands in exactly one tier.
type Thresholds struct {
	Low  float64 // values below this are TierLow
	High float64 // values at or above this are TierHigh
}

// DefaultThresholds match typical European grid swings: below 150 gCO2/kWh
// the mix is mostly renewable, at 300 and above it is fossil-heavy.
var DefaultThresholds = Thresholds{Low: 150, High: 300}

// TierFor buckets an intensity value.
func (t Thresholds) TierFor(value float64) contracts.CarbonTier {
	switch {
	case value < t.Low:
		return contracts.TierLow
	case value < t.High:
		return contracts.TierMedium
	default:
		return contracts.TierHigh
	}
}

// Validate checks that the thresholds describe a usable partition.
func (t Thresholds) Validate() error {
	if t.Low <= 0 {
		return fmt.Errorf("low threshold must be positive, got %v", t.Low)
	}
	if t.High <= t.Low {
		return fmt.Errorf("high threshold %v must exceed low threshold %v", t.High, t.Low)
	}
	return nil
}

// Live stamps a provider reading as live data: the tier is derived from the
// value and missing fields are defaulted.
func Live(r contracts.CarbonReading, t Thresholds, zone string) contracts.CarbonReading {
	r.Tier = t.TierFor(r.ValueGCO2PerKWh)
	r.Source = contracts.SourceLive
	if r.ObservedAt.IsZero() {
		r.ObservedAt = time.Now().UTC()
	}
	if r.Zone == "" {
		r.Zone = zone
	}
	return r
}
