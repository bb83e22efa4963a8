package routing

import "github.com/c12/router/contracts"

// CarbonSaved estimates grams of CO2 avoided by serving tokens on used
// instead of the baseline model at the given grid intensity. The estimate is
// clamped at zero: routing to a hungrier model (codellama for code) spends
// carbon for quality, it does not save any.
func CarbonSaved(used, baseline contracts.ModelDescriptor, tokens int, reading contracts.CarbonReading) float64 {
	if tokens <= 0 {
		return 0
	}
	deltaKWh := baseline.EnergyKWhPer1K - used.EnergyKWhPer1K
	if deltaKWh <= 0 {
		return 0
	}
	return deltaKWh * float64(tokens) / 1000.0 * reading.ValueGCO2PerKWh
}
