package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/c12/router/carbon"
)

const version = "0.1.0"

func main() {
	// Parse command-line flags
	redisAddr := flag.String("redis-addr", "localhost:6379", "Redis server address")
	redisPassword := flag.String("redis-password", "", "Redis password")
	zone := flag.String("zone", "DE", "Grid zone to poll")
	emToken := flag.String("em-token", "", "electricityMap API token (empty uses the static provider)")
	emBaseURL := flag.String("em-base-url", "", "electricityMap API base URL override")
	staticIntensity := flag.Float64("static-intensity", 120, "Fixed intensity for the static provider in gCO2/kWh")
	tierLow := flag.Float64("tier-low", 150, "Intensity below this is tier low")
	tierHigh := flag.Float64("tier-high", 300, "Intensity at or above this is tier high")
	interval := flag.Duration("interval", 5*time.Minute, "Polling interval")
	storeTTL := flag.Duration("store-ttl", time.Hour, "How long persisted readings stay valid as seeds")
	once := flag.Bool("once", false, "Poll once and exit")
	flag.Parse()

	// Initialize logger
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetPrefix("[c12-carbonwatch] ")

	log.Printf("C12 Carbonwatch v%s starting (zone: %s)", version, *zone)
	log.Printf("Redis: %s", *redisAddr)
	log.Printf("Interval: %s", *interval)

	thresholds := carbon.Thresholds{Low: *tierLow, High: *tierHigh}
	if err := thresholds.Validate(); err != nil {
		log.Fatalf("FATAL: Invalid tier thresholds: %v", err)
	}

	// Set up graceful shutdown context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Create Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:            *redisAddr,
		Password:        *redisPassword,
		PoolSize:        10,
		MinIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("FATAL: Failed to connect to Redis at %s: %v", *redisAddr, err)
	}
	log.Printf("INFO: Connected to Redis at %s", *redisAddr)

	var provider carbon.Provider
	if *emToken != "" {
		provider = carbon.NewElectricityMapProvider(*emBaseURL, *emToken, *zone, nil)
		log.Printf("INFO: Using electricityMap provider")
	} else {
		provider = &carbon.StaticProvider{Value: *staticIntensity, Zone: *zone}
		log.Printf("INFO: No electricityMap token, using static provider (%.0f gCO2/kWh)", *staticIntensity)
	}

	store := carbon.NewStore(redisClient, "", *storeTTL)

	var lastTier string
	poll := func(ctx context.Context) {
		fetchCtx, cancel := context.WithTimeout(ctx, carbon.DefaultFetchTimeout)
		defer cancel()

		reading, err := provider.Fetch(fetchCtx)
		if err != nil {
			log.Printf("WARN: Carbon fetch failed: %v", err)
			return
		}
		reading = carbon.Live(reading, thresholds, *zone)

		if err := store.Save(ctx, reading, time.Now()); err != nil {
			log.Printf("WARN: Failed to persist reading: %v", err)
			return
		}

		tier := string(reading.Tier)
		switch {
		case lastTier == "":
			log.Printf("INFO: %s: %.0f gCO2/kWh (%s, estimated=%v)",
				reading.Zone, reading.ValueGCO2PerKWh, reading.Tier, reading.Estimated)
		case tier != lastTier:
			log.Printf("INFO: %s: tier %s -> %s (%.0f gCO2/kWh)",
				reading.Zone, lastTier, tier, reading.ValueGCO2PerKWh)
		default:
			log.Printf("DEBUG: %s: %.0f gCO2/kWh (%s)",
				reading.Zone, reading.ValueGCO2PerKWh, reading.Tier)
		}
		lastTier = tier
	}

	poll(ctx)
	if *once {
		if err := redisClient.Close(); err != nil {
			log.Printf("ERROR: Failed to close Redis client: %v", err)
		}
		return
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("INFO: Shutdown signal received")
			if err := redisClient.Close(); err != nil {
				log.Printf("ERROR: Failed to close Redis client: %v", err)
			}
			log.Printf("INFO: C12 Carbonwatch stopped cleanly")
			return
		case <-ticker.C:
			poll(ctx)
		}
	}
}
