// Package carbon obtains, tiers, and caches grid carbon intensity readings.
package carbon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/c12/router/contracts"
)

// DefaultBaseURL is the electricityMap API endpoint.
const DefaultBaseURL = "https://api.electricitymap.org/v3"

// Provider fetches the current grid carbon intensity from an external source.
// Implementations fill ValueGCO2PerKWh, ObservedAt, Zone and Estimated; the
// monitor stamps Tier and Source.
type Provider interface {
	Fetch(ctx context.Context) (contracts.CarbonReading, error)
}

// ElectricityMapProvider fetches live intensity from the electricityMap API.
type ElectricityMapProvider struct {
	baseURL string
	token   string
	zone    string
	client  *http.Client
}

// NewElectricityMapProvider creates a provider for the given zone.
// baseURL can be empty to use the public API; client can be nil for a default.
func NewElectricityMapProvider(baseURL, token, zone string, client *http.Client) *ElectricityMapProvider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &ElectricityMapProvider{
		baseURL: baseURL,
		token:   token,
		zone:    zone,
		client:  client,
	}
}

// electricityMapPayload is the subset of the carbon-intensity/latest response we use.
type electricityMapPayload struct {
	Zone            string    `json:"zone"`
	CarbonIntensity float64   `json:"carbonIntensity"`
	Datetime        time.Time `json:"datetime"`
	IsEstimated     bool      `json:"isEstimated"`
}

// Fetch requests the latest carbon intensity for the provider's zone.
func (p *ElectricityMapProvider) Fetch(ctx context.Context) (contracts.CarbonReading, error) {
	endpoint := fmt.Sprintf("%s/carbon-intensity/latest?zone=%s", p.baseURL, url.QueryEscape(p.zone))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return contracts.CarbonReading{}, fmt.Errorf("failed to build carbon request: %w", err)
	}
	req.Header.Set("auth-token", p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return contracts.CarbonReading{}, fmt.Errorf("carbon provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return contracts.CarbonReading{}, fmt.Errorf("carbon provider returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload electricityMapPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return contracts.CarbonReading{}, fmt.Errorf("malformed carbon payload: %w", err)
	}
	if payload.CarbonIntensity <= 0 {
		return contracts.CarbonReading{}, fmt.Errorf("carbon payload missing carbonIntensity for zone %s", p.zone)
	}

	return contracts.CarbonReading{
		ValueGCO2PerKWh: payload.CarbonIntensity,
		ObservedAt:      payload.Datetime,
		Zone:            payload.Zone,
		Estimated:       payload.IsEstimated,
	}, nil
}

// StaticProvider serves a fixed intensity value.
// Used in development and demos when no provider token is configured.
type StaticProvider struct {
	Value float64
	Zone  string
}

// Fetch returns the fixed value stamped with the current time.
func (p *StaticProvider) Fetch(ctx context.Context) (contracts.CarbonReading, error) {
	return contracts.CarbonReading{
		ValueGCO2PerKWh: p.Value,
		ObservedAt:      time.Now().UTC(),
		Zone:            p.Zone,
		Estimated:       true,
	}, nil
}
