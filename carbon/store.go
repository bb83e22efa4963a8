package carbon

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/c12/router/contracts"
)

const (
	// DefaultHashKey is the Redis hash holding the latest reading per zone.
	DefaultHashKey = "c12:carbon"

	// DefaultStoreTTL bounds how long a persisted reading can seed a
	// monitor. Stale seeds are worse than starting from the default.
	DefaultStoreTTL = time.Hour
)

// Store persists the last-known carbon reading per zone in Redis so routers
// can seed their monitors across restarts and share one polling agent.
//
// Each reading is written twice: as a field in a hash keyed by zone for
// one-stop inspection, and as an individual key with a TTL so consumers can
// tell a fresh reading from a dead agent.
type Store struct {
	redis   *redis.Client
	hashKey string
	ttl     time.Duration
}

// NewStore creates a store. hashKey and ttl can be zero for the defaults.
func NewStore(client *redis.Client, hashKey string, ttl time.Duration) *Store {
	if hashKey == "" {
		hashKey = DefaultHashKey
	}
	if ttl <= 0 {
		ttl = DefaultStoreTTL
	}
	return &Store{redis: client, hashKey: hashKey, ttl: ttl}
}

// storedReading is the persisted JSON shape.
type storedReading struct {
	Reading   contracts.CarbonReading `json:"reading"`
	FetchedAt time.Time               `json:"fetched_at"`
}

// Save persists a reading for its zone.
func (s *Store) Save(ctx context.Context, r contracts.CarbonReading, fetchedAt time.Time) error {
	zone := zoneKey(r.Zone)
	data, err := json.Marshal(storedReading{Reading: r, FetchedAt: fetchedAt})
	if err != nil {
		return fmt.Errorf("failed to marshal carbon reading: %w", err)
	}

	pipe := s.redis.Pipeline()
	pipe.HSet(ctx, s.hashKey, zone, string(data))
	pipe.SetEx(ctx, fmt.Sprintf("%s:%s", s.hashKey, zone), string(data), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to persist carbon reading for zone %s: %w", zone, err)
	}

	log.Printf("DEBUG: Persisted carbon reading for zone %s: %.0f gCO2/kWh (%s)",
		zone, r.ValueGCO2PerKWh, r.Tier)
	return nil
}

// Load returns the persisted reading for a zone, or nil when the zone has
// never been written or the stored reading is older than the store TTL.
func (s *Store) Load(ctx context.Context, zone string) (*contracts.CarbonReading, time.Time, error) {
	data, err := s.redis.HGet(ctx, s.hashKey, zoneKey(zone)).Result()
	if err == redis.Nil {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to read carbon store: %w", err)
	}

	var stored storedReading
	if err := json.Unmarshal([]byte(data), &stored); err != nil {
		return nil, time.Time{}, fmt.Errorf("corrupt carbon reading for zone %s: %w", zone, err)
	}
	if time.Since(stored.FetchedAt) > s.ttl {
		return nil, time.Time{}, nil
	}
	return &stored.Reading, stored.FetchedAt, nil
}

func zoneKey(zone string) string {
	if zone == "" {
		return "default"
	}
	return zone
}
