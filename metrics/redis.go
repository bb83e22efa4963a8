package metrics

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/c12/router/contracts"
)

const (
	// DefaultKey is the Redis hash accumulating routing counters.
	DefaultKey = "c12:metrics"

	opTimeout = 2 * time.Second
)

// RedisSink accumulates counters in a Redis hash so stats survive restarts
// and can be shared with dashboards. Writes that fail are logged and
// dropped.
type RedisSink struct {
	redis *redis.Client
	key   string
}

// NewRedisSink creates a sink writing to the given hash key, or DefaultKey
// when empty.
func NewRedisSink(client *redis.Client, key string) *RedisSink {
	if key == "" {
		key = DefaultKey
	}
	return &RedisSink{redis: client, key: key}
}

func (s *RedisSink) incr(field string, n int64) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := s.redis.HIncrBy(ctx, s.key, field, n).Err(); err != nil {
		log.Printf("WARN: Failed to record metric %s: %v", field, err)
	}
}

func (s *RedisSink) incrFloat(field string, v float64) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := s.redis.HIncrByFloat(ctx, s.key, field, v).Err(); err != nil {
		log.Printf("WARN: Failed to record metric %s: %v", field, err)
	}
}

func (s *RedisSink) CountRequest() {
	s.incr("requests_total", 1)
}

func (s *RedisSink) CountSelection(modelID string) {
	s.incr("model_selected:"+modelID, 1)
}

func (s *RedisSink) ObserveTier(tier contracts.CarbonTier) {
	s.incr("carbon_tier:"+string(tier), 1)
}

func (s *RedisSink) AddCarbonSaved(grams float64) {
	if grams <= 0 {
		return
	}
	s.incrFloat("estimated_carbon_saved_g", grams)
}

func (s *RedisSink) ObserveLoadLatency(modelID string, d time.Duration) {
	s.incr("load_latency_ms_sum:"+modelID, d.Milliseconds())
	s.incr("load_latency_ms_count:"+modelID, 1)
}

func (s *RedisSink) CountLoadFailure(modelID string) {
	s.incr("load_failures_total", 1)
	s.incr("load_failures:"+modelID, 1)
}

// Snapshot returns all accumulated counters, for the stats endpoint.
func (s *RedisSink) Snapshot(ctx context.Context) (map[string]string, error) {
	return s.redis.HGetAll(ctx, s.key).Result()
}
