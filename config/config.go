// Package config loads and validates runtime configuration for the router.
package config

import (
	"flag"
	"fmt"
	"time"
)

// Config holds the configuration for the c12-router binary.
type Config struct {
	// ListenAddr is the HTTP listen address
	ListenAddr string

	// RedisAddr is the Redis server address; empty disables the Redis-backed
	// metrics sink, decision journal and carbon store
	RedisAddr string

	// RedisPassword is the Redis authentication password (empty if none)
	RedisPassword string

	// Zone is the grid zone whose carbon intensity drives routing
	Zone string

	// EMToken is the electricityMap API token; empty selects the static provider
	EMToken string

	// EMBaseURL overrides the electricityMap API endpoint (empty for the public API)
	EMBaseURL string

	// StaticIntensity is the fixed gCO2/kWh served by the static provider
	StaticIntensity float64

	// CarbonTTL is how long a carbon reading is served without refreshing
	CarbonTTL time.Duration

	// CarbonDefault is the conservative intensity assumed before the first fetch
	CarbonDefault float64

	// TierLow and TierHigh partition intensity values into tiers
	TierLow  float64
	TierHigh float64

	// StaleAfter is how long without live carbon data before health degrades;
	// zero derives it from the TTL
	StaleAfter time.Duration

	// CacheCapacity is the non-pinned model residency bound
	CacheCapacity int

	// OllamaHost is the Ollama server URL; empty selects the mock backend
	OllamaHost string

	// RulesPath is an optional TOML analyzer rule table
	RulesPath string

	// ModelsPath is an optional TOML model descriptor file
	ModelsPath string

	// JournalStream is the Redis stream for decision records
	JournalStream string

	// MetricsKey is the Redis hash for routing counters
	MetricsKey string
}

// LoadFromFlags parses command-line flags and returns a Config.
func LoadFromFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.ListenAddr, "listen", ":8090", "HTTP listen address")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", "localhost:6379", "Redis address (empty runs without Redis)")
	flag.StringVar(&cfg.RedisPassword, "redis-password", "", "Redis password (empty if none)")
	flag.StringVar(&cfg.Zone, "zone", "DE", "Grid zone for carbon intensity")
	flag.StringVar(&cfg.EMToken, "em-token", "", "electricityMap API token (empty uses the static provider)")
	flag.StringVar(&cfg.EMBaseURL, "em-base-url", "", "electricityMap API base URL override")
	flag.Float64Var(&cfg.StaticIntensity, "static-intensity", 120, "Fixed intensity for the static provider in gCO2/kWh")
	flag.DurationVar(&cfg.CarbonTTL, "carbon-ttl", 30*time.Minute, "Carbon reading TTL")
	flag.Float64Var(&cfg.CarbonDefault, "carbon-default", 300, "Conservative default intensity in gCO2/kWh")
	flag.Float64Var(&cfg.TierLow, "tier-low", 150, "Intensity below this is tier low")
	flag.Float64Var(&cfg.TierHigh, "tier-high", 300, "Intensity at or above this is tier high")
	flag.DurationVar(&cfg.StaleAfter, "stale-after", 0, "Carbon staleness alarm window (0 = 3x the TTL)")
	flag.IntVar(&cfg.CacheCapacity, "cache-capacity", 1, "Non-pinned model cache capacity")
	flag.StringVar(&cfg.OllamaHost, "ollama-host", "", "Ollama server URL (empty uses the mock backend)")
	flag.StringVar(&cfg.RulesPath, "rules", "", "Analyzer rule table (TOML, empty for built-in rules)")
	flag.StringVar(&cfg.ModelsPath, "models", "", "Model descriptor file (TOML, empty for built-in models)")
	flag.StringVar(&cfg.JournalStream, "journal-stream", "", "Decision journal stream key (empty for the default)")
	flag.StringVar(&cfg.MetricsKey, "metrics-key", "", "Metrics hash key (empty for the default)")

	flag.Parse()

	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 3 * cfg.CarbonTTL
	}

	return cfg
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("--listen is required")
	}
	if c.CarbonTTL <= 0 {
		return fmt.Errorf("--carbon-ttl must be positive")
	}
	if c.TierLow <= 0 {
		return fmt.Errorf("--tier-low must be positive")
	}
	if c.TierHigh <= c.TierLow {
		return fmt.Errorf("--tier-high must exceed --tier-low")
	}
	if c.CarbonDefault < c.TierHigh {
		return fmt.Errorf("--carbon-default must be at least --tier-high so the no-data default stays conservative")
	}
	if c.EMToken == "" && c.StaticIntensity <= 0 {
		return fmt.Errorf("--static-intensity must be positive without --em-token")
	}
	if c.EMToken != "" && c.Zone == "" {
		return fmt.Errorf("--zone is required with --em-token")
	}
	if c.CacheCapacity < 0 {
		return fmt.Errorf("--cache-capacity must not be negative")
	}
	return nil
}
