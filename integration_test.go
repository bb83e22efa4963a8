//go:build integration

package router

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/c12/router/analyzer"
	"github.com/c12/router/backend"
	"github.com/c12/router/carbon"
	"github.com/c12/router/contracts"
	"github.com/c12/router/journal"
	"github.com/c12/router/metrics"
	"github.com/c12/router/modelcache"
	"github.com/c12/router/routing"
)

func setupIntegrationTest(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return mr, client
}

// countingProvider counts fetches so tests can prove no fetch happened.
type countingProvider struct {
	value   float64
	fetches int
}

func (p *countingProvider) Fetch(ctx context.Context) (contracts.CarbonReading, error) {
	p.fetches++
	return contracts.CarbonReading{
		ValueGCO2PerKWh: p.value,
		ObservedAt:      time.Now().UTC(),
	}, nil
}

// TestRoutingPipelinePublishesToRedis routes requests through a fully wired
// engine and verifies the decision journal and the metrics hash through a
// raw Redis client, the way a dashboard would read them.
func TestRoutingPipelinePublishesToRedis(t *testing.T) {
	mr, client := setupIntegrationTest(t)
	defer mr.Close()
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	monitor, err := carbon.NewMonitor(
		&carbon.StaticProvider{Value: 100, Zone: "DE"},
		carbon.Options{TTL: time.Hour},
	)
	if err != nil {
		t.Fatalf("Failed to create monitor: %v", err)
	}

	sink := metrics.NewRedisSink(client, "")
	jour, err := journal.New(client, "", 0)
	if err != nil {
		t.Fatalf("Failed to create journal: %v", err)
	}

	mock := backend.NewMockBackend()
	cache, err := modelcache.New(mock, contracts.DefaultModels(), 2, nil, sink)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	engine := routing.NewEngine(analyzer.Default(), monitor, cache, sink, jour, "")

	// One general query and one code query at low carbon.
	if _, err := engine.Route(ctx, contracts.AskRequest{Text: "What is machine learning?"}); err != nil {
		t.Fatalf("General route failed: %v", err)
	}
	if _, err := engine.Route(ctx, contracts.AskRequest{Text: "Write a Python function to sort a list"}); err != nil {
		t.Fatalf("Code route failed: %v", err)
	}

	// Decision journal: two records, newest first.
	if n := client.XLen(ctx, journal.DefaultStream).Val(); n != 2 {
		t.Fatalf("journal stream length = %d, want 2", n)
	}
	records, err := jour.Tail(ctx, 10)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if records[0].ModelID != contracts.ModelCodeLlama {
		t.Errorf("records[0].ModelID = %s, want %s", records[0].ModelID, contracts.ModelCodeLlama)
	}
	if records[1].ModelID != contracts.ModelTinyLlama {
		t.Errorf("records[1].ModelID = %s, want %s", records[1].ModelID, contracts.ModelTinyLlama)
	}
	if !records[0].IsCode {
		t.Error("records[0].IsCode = false, want true for the code query")
	}

	// Metrics hash: counters a dashboard reads directly.
	counters, err := client.HGetAll(ctx, metrics.DefaultKey).Result()
	if err != nil {
		t.Fatalf("Failed to read metrics hash: %v", err)
	}
	for field, want := range map[string]string{
		"requests_total":                  "2",
		"model_selected:tinyllama":        "1",
		"model_selected:codellama":        "1",
		"carbon_tier:low":                 "2",
		"load_latency_ms_count:tinyllama": "1",
		"load_latency_ms_count:codellama": "1",
	} {
		if got := counters[field]; got != want {
			t.Errorf("metrics[%s] = %q, want %q", field, got, want)
		}
	}

	saved, err := strconv.ParseFloat(counters["estimated_carbon_saved_g"], 64)
	if err != nil || saved <= 0 {
		t.Errorf("estimated_carbon_saved_g = %q, want a positive float", counters["estimated_carbon_saved_g"])
	}
}

// TestLoadFailureFallbackAccounting verifies a dead specialist shows up in
// both the journal rationale and the failure counters.
func TestLoadFailureFallbackAccounting(t *testing.T) {
	mr, client := setupIntegrationTest(t)
	defer mr.Close()
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	monitor, err := carbon.NewMonitor(
		&carbon.StaticProvider{Value: 100, Zone: "DE"},
		carbon.Options{TTL: time.Hour},
	)
	if err != nil {
		t.Fatalf("Failed to create monitor: %v", err)
	}

	sink := metrics.NewRedisSink(client, "")
	jour, err := journal.New(client, "", 0)
	if err != nil {
		t.Fatalf("Failed to create journal: %v", err)
	}

	mock := backend.NewMockBackend()
	mock.FailLoads(contracts.ModelCodeLlama, context.DeadlineExceeded)

	cache, err := modelcache.New(mock, contracts.DefaultModels(), 2, nil, sink)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	engine := routing.NewEngine(analyzer.Default(), monitor, cache, sink, jour, "")

	resp, err := engine.Route(ctx, contracts.AskRequest{Text: "Write a Python function to sort a list"})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if resp.ModelUsed != contracts.ModelTinyLlama {
		t.Fatalf("ModelUsed = %s, want the pinned fallback", resp.ModelUsed)
	}

	records, err := jour.Tail(ctx, 1)
	if err != nil || len(records) != 1 {
		t.Fatalf("Tail = %d records, err %v, want 1 record", len(records), err)
	}
	rationale := records[0].Rationale
	if len(rationale) != 2 || rationale[0] != "code" || rationale[1] != "fallback:load_error" {
		t.Errorf("rationale = %v, want [code fallback:load_error]", rationale)
	}

	counters, err := client.HGetAll(ctx, metrics.DefaultKey).Result()
	if err != nil {
		t.Fatalf("Failed to read metrics hash: %v", err)
	}
	if got := counters["load_failures_total"]; got != "1" {
		t.Errorf("load_failures_total = %q, want \"1\"", got)
	}
	if got := counters["load_failures:codellama"]; got != "1" {
		t.Errorf("load_failures:codellama = %q, want \"1\"", got)
	}
}

// TestCarbonStoreSeedsMonitorAcrossRestart persists a reading the way the
// polling agent does, then proves a fresh monitor serves it without touching
// its provider.
func TestCarbonStoreSeedsMonitorAcrossRestart(t *testing.T) {
	mr, client := setupIntegrationTest(t)
	defer mr.Close()
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := carbon.NewStore(client, "", time.Hour)
	saved := carbon.Live(contracts.CarbonReading{
		ValueGCO2PerKWh: 210,
		ObservedAt:      time.Now().UTC(),
	}, carbon.DefaultThresholds, "DE")
	if err := store.Save(ctx, saved, time.Now()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// The per-zone key carries a TTL so consumers can tell a fresh reading
	// from a dead agent.
	if ttl := client.TTL(ctx, carbon.DefaultHashKey+":DE").Val(); ttl <= 0 {
		t.Errorf("per-zone key TTL = %v, want positive", ttl)
	}

	// Simulated restart: a new monitor seeds from the store.
	provider := &countingProvider{value: 999}
	monitor, err := carbon.NewMonitor(provider, carbon.Options{TTL: time.Hour, Zone: "DE"})
	if err != nil {
		t.Fatalf("Failed to create monitor: %v", err)
	}

	loaded, fetchedAt, err := store.Load(ctx, "DE")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("Load returned nil, want the persisted reading")
	}
	monitor.Seed(*loaded, fetchedAt)

	got := monitor.Current(ctx)
	if got.ValueGCO2PerKWh != 210 {
		t.Errorf("Current value = %v, want the seeded 210", got.ValueGCO2PerKWh)
	}
	if got.Tier != contracts.TierMedium {
		t.Errorf("Current tier = %s, want %s", got.Tier, contracts.TierMedium)
	}
	if provider.fetches != 0 {
		t.Errorf("provider fetches = %d, want 0 while the seed is fresh", provider.fetches)
	}
}
