package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/c12/router/analyzer"
	"github.com/c12/router/backend"
	"github.com/c12/router/carbon"
	"github.com/c12/router/config"
	"github.com/c12/router/journal"
	"github.com/c12/router/metrics"
	"github.com/c12/router/modelcache"
	"github.com/c12/router/routing"
	"github.com/c12/router/server"
	"github.com/c12/router/shutdown"
)

const (
	version     = "0.1.0"
	serviceName = "c12-router"
)

func main() {
	cfg := config.LoadFromFlags()

	// Initialize logger
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetPrefix("[c12-router] ")

	log.Printf("C12 Router v%s starting", version)
	log.Printf("Listen: %s", cfg.ListenAddr)
	log.Printf("Redis: %s", orLabel(cfg.RedisAddr, "disabled"))
	log.Printf("Zone: %s", cfg.Zone)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("FATAL: Invalid configuration: %v", err)
	}

	// Set up graceful shutdown context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coord := shutdown.NewCoordinator(0)

	// Redis-backed collaborators are optional: without Redis the router
	// keeps full routing behavior with in-process counters only.
	var sink metrics.Sink = metrics.Nop{}
	var jour *journal.Journal
	var store *carbon.Store
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:            cfg.RedisAddr,
			Password:        cfg.RedisPassword,
			PoolSize:        10,
			MinIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("FATAL: Failed to connect to Redis at %s: %v", cfg.RedisAddr, err)
		}
		log.Printf("INFO: Connected to Redis at %s", cfg.RedisAddr)
		coord.Register("redis client", func(context.Context) error { return redisClient.Close() })

		sink = metrics.NewRedisSink(redisClient, cfg.MetricsKey)
		var err error
		jour, err = journal.New(redisClient, cfg.JournalStream, journal.DefaultMaxLen)
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize decision journal: %v", err)
		}
		store = carbon.NewStore(redisClient, "", 2*cfg.CarbonTTL)
	}

	// Carbon monitor: live provider when a token is configured, otherwise a
	// static value for development.
	var provider carbon.Provider
	if cfg.EMToken != "" {
		provider = carbon.NewElectricityMapProvider(cfg.EMBaseURL, cfg.EMToken, cfg.Zone, nil)
		log.Printf("INFO: Using electricityMap provider for zone %s", cfg.Zone)
	} else {
		provider = &carbon.StaticProvider{Value: cfg.StaticIntensity, Zone: cfg.Zone}
		log.Printf("INFO: No electricityMap token, using static provider (%.0f gCO2/kWh)", cfg.StaticIntensity)
	}

	alarm := carbon.NewStalenessAlarm(cfg.StaleAfter, nil)
	coord.Register("staleness alarm", func(context.Context) error { alarm.Stop(); return nil })

	monitor, err := carbon.NewMonitor(provider, carbon.Options{
		TTL:          cfg.CarbonTTL,
		DefaultValue: cfg.CarbonDefault,
		Thresholds:   carbon.Thresholds{Low: cfg.TierLow, High: cfg.TierHigh},
		Zone:         cfg.Zone,
		Alarm:        alarm,
	})
	if err != nil {
		log.Fatalf("FATAL: Invalid carbon configuration: %v", err)
	}

	if store != nil {
		seeded, fetchedAt, err := store.Load(ctx, cfg.Zone)
		switch {
		case err != nil:
			log.Printf("WARN: Could not seed carbon reading from store: %v", err)
		case seeded != nil:
			monitor.Seed(*seeded, fetchedAt)
			log.Printf("INFO: Seeded carbon reading from store: %.0f gCO2/kWh (%s)",
				seeded.ValueGCO2PerKWh, seeded.Tier)
		}
	}

	// Analyzer
	an := analyzer.Default()
	if cfg.RulesPath != "" {
		an, err = analyzer.LoadRules(cfg.RulesPath)
		if err != nil {
			log.Fatalf("FATAL: Invalid rule table: %v", err)
		}
		log.Printf("INFO: Loaded analyzer rules from %s", cfg.RulesPath)
	}

	// Model registry and inference backend
	models, err := config.LoadModels(cfg.ModelsPath)
	if err != nil {
		log.Fatalf("FATAL: Invalid model file: %v", err)
	}

	var loader modelcache.Loader
	if cfg.OllamaHost != "" {
		ollama, err := backend.NewOllamaBackend(cfg.OllamaHost)
		if err != nil {
			log.Fatalf("FATAL: %v", err)
		}
		if err := ollama.Ping(ctx); err != nil {
			log.Fatalf("FATAL: Ollama unreachable at %s: %v", cfg.OllamaHost, err)
		}
		log.Printf("INFO: Using Ollama backend at %s", cfg.OllamaHost)
		loader = ollama
	} else {
		log.Printf("INFO: No Ollama host configured, using mock backend")
		loader = backend.NewMockBackend()
	}

	cache, err := modelcache.New(loader, models, cfg.CacheCapacity, modelcache.SystemProbe{}, sink)
	if err != nil {
		log.Fatalf("FATAL: Invalid model registry: %v", err)
	}

	// The pinned model is the universal fallback. A router that cannot
	// serve it cannot serve anything, so refuse to start.
	warmCtx, warmCancel := context.WithTimeout(ctx, 2*time.Minute)
	if err := cache.Warm(warmCtx); err != nil {
		warmCancel()
		log.Fatalf("FATAL: Failed to load pinned model: %v", err)
	}
	warmCancel()
	log.Printf("INFO: Pinned model %s resident", cache.PinnedID())

	engine := routing.NewEngine(an, monitor, cache, sink, jour, "")

	// Keep the carbon reading warm in the background
	refresherDone := make(chan struct{})
	go func() {
		defer close(refresherDone)
		carbon.NewRefresher(monitor, 0).Run(ctx)
	}()

	srv := server.New(engine, monitor, cache, alarm, jour, serviceName, version)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}
	coord.Register("http server", httpServer.Shutdown)

	// Start HTTP server in background
	go func() {
		log.Printf("INFO: HTTP endpoints listening on %s", cfg.ListenAddr)
		log.Printf("INFO: Available endpoints: /api/ask, /api/carbon-intensity, /api/health, /stats")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("ERROR: HTTP server failed: %v", err)
		}
	}()

	// Block until the shutdown signal, then tear down in reverse order
	if err := coord.WaitAndRun(ctx); err != nil {
		log.Printf("ERROR: Shutdown finished with errors: %v", err)
	}
	<-refresherDone

	log.Printf("INFO: Final routing stats: %v", engine.Stats())
	log.Printf("INFO: C12 Router stopped cleanly")
}

func orLabel(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
