package carbon

import (
	"testing"
	"time"

	"github.com/c12/router/contracts"
)

func TestThresholds_TierFor(t *testing.T) {
	th := DefaultThresholds

	tests := []struct {
		value float64
		want  contracts.CarbonTier
	}{
		{0, contracts.TierLow},
		{80, contracts.TierLow},
		{149.99, contracts.TierLow},
		{150, contracts.TierMedium},
		{200, contracts.TierMedium},
		{299.99, contracts.TierMedium},
		{300, contracts.TierHigh},
		{450, contracts.TierHigh},
	}
	for _, tt := range tests {
		if got := th.TierFor(tt.value); got != tt.want {
			t.Errorf("TierFor(%v) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestThresholds_Validate(t *testing.T) {
	tests := []struct {
		name    string
		th      Thresholds
		wantErr bool
	}{
		{"defaults", DefaultThresholds, false},
		{"custom", Thresholds{Low: 100, High: 250}, false},
		{"zero low", Thresholds{Low: 0, High: 300}, true},
		{"negative low", Thresholds{Low: -10, High: 300}, true},
		{"high below low", Thresholds{Low: 300, High: 150}, true},
		{"high equals low", Thresholds{Low: 150, High: 150}, true},
	}
	for _, tt := range tests {
		err := tt.th.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestLive_StampsReading(t *testing.T) {
	r := Live(contracts.CarbonReading{ValueGCO2PerKWh: 180}, DefaultThresholds, "DE")

	if r.Tier != contracts.TierMedium {
		t.Errorf("Tier = %v, want %v", r.Tier, contracts.TierMedium)
	}
	if r.Source != contracts.SourceLive {
		t.Errorf("Source = %v, want %v", r.Source, contracts.SourceLive)
	}
	if r.Zone != "DE" {
		t.Errorf("Zone = %v, want DE", r.Zone)
	}
	if r.ObservedAt.IsZero() {
		t.Error("ObservedAt should be defaulted")
	}
}

func TestLive_KeepsProviderFields(t *testing.T) {
	observed := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	r := Live(contracts.CarbonReading{
		ValueGCO2PerKWh: 320,
		ObservedAt:      observed,
		Zone:            "FR",
	}, DefaultThresholds, "DE")

	if r.Tier != contracts.TierHigh {
		t.Errorf("Tier = %v, want %v", r.Tier, contracts.TierHigh)
	}
	if !r.ObservedAt.Equal(observed) {
		t.Errorf("ObservedAt = %v, want %v", r.ObservedAt, observed)
	}
	if r.Zone != "FR" {
		t.Errorf("Zone = %v, want FR (provider zone wins)", r.Zone)
	}
}
