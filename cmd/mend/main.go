package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jordanhubbard/mend/internal/api"
	"github.com/jordanhubbard/mend/internal/cache"
	"github.com/jordanhubbard/mend/internal/database"
	"github.com/jordanhubbard/mend/internal/detector"
	"github.com/jordanhubbard/mend/internal/diagnosis"
	"github.com/jordanhubbard/mend/internal/experience"
	"github.com/jordanhubbard/mend/internal/hypothesis"
	"github.com/jordanhubbard/mend/internal/loop"
	"github.com/jordanhubbard/mend/internal/messagebus"
	"github.com/jordanhubbard/mend/internal/provider"
	"github.com/jordanhubbard/mend/internal/recovery"
	"github.com/jordanhubbard/mend/internal/rollback"
	"github.com/jordanhubbard/mend/internal/telemetry"
	"github.com/jordanhubbard/mend/internal/validator"
	"github.com/jordanhubbard/mend/pkg/config"
)

func main() {
	fmt.Println("mend - autonomous remediation loop")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.LoadConfigFromFile(configPath)
	if err != nil {
		log.Fatalf("Failed to load config from %s: %v", configPath, err)
	}
	log.Printf("Loaded configuration from %s", configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTelemetry(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			log.Printf("Warning: telemetry init failed: %v", err)
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Printf("Telemetry shutdown failed: %v", err)
				}
			}()
		}
	}

	dsn := cfg.Database.DSN
	if env := os.Getenv("DATABASE_URL"); env != "" {
		dsn = env
	}
	db, err := database.NewPostgres(dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ai, err := provider.New(provider.Config{
		Type:        cfg.Provider.Type,
		Endpoint:    cfg.Provider.Endpoint,
		APIKey:      cfg.Provider.APIKey,
		Model:       cfg.Provider.Model,
		Temperature: cfg.Provider.Temperature,
		Timeout:     cfg.Provider.Timeout,
	})
	if err != nil {
		log.Fatalf("Failed to create AI provider: %v", err)
	}

	var completionCache *cache.Cache
	if cfg.Cache.Enabled {
		cacheConfig := &cache.Config{
			Enabled:    true,
			DefaultTTL: cfg.Cache.DefaultTTL,
			MaxSize:    cfg.Cache.MaxSize,
		}
		if cfg.Cache.RedisURL != "" {
			backend, err := cache.NewRedisBackend(ctx, cfg.Cache.RedisURL)
			if err != nil {
				log.Printf("Warning: redis cache unavailable, using in-memory: %v", err)
				completionCache = cache.New(cacheConfig)
			} else {
				completionCache = cache.NewWithBackend(cacheConfig, backend)
			}
		} else {
			completionCache = cache.New(cacheConfig)
		}
	}

	var bus *messagebus.NatsBus
	if cfg.NATS.Enabled {
		bus, err = messagebus.NewNatsBus(messagebus.Config{
			URL:        cfg.NATS.URL,
			StreamName: cfg.NATS.StreamName,
			Timeout:    cfg.NATS.Timeout,
		})
		if err != nil {
			log.Printf("Warning: NATS unavailable, events disabled: %v", err)
		} else {
			defer bus.Close()
		}
	}

	tracker := experience.NewTracker(db)
	tunables := detector.NewTunables(detector.Thresholds{
		SlowQueryThreshold: cfg.Detector.SlowQueryThreshold,
		ErrorSpikeWindow:   cfg.Detector.ErrorSpikeWindow,
		ErrorSpikeCount:    cfg.Detector.ErrorSpikeCount,
	})
	det := detector.New(db, detector.BuiltinScanners(db, tunables)...)
	gen := hypothesis.NewGenerator(db, ai, completionCache, cfg.Provider.Model, cfg.Provider.MaxTokens)
	rec := recovery.NewRecovery(recovery.NewExecInstaller("npm", cfg.Validator.ProjectPath), tracker)
	val := validator.NewValidator(cfg.Validator)
	rb := rollback.NewRollback(cfg.Rollback, rollback.NewDBLocker(db), tracker)
	diag := diagnosis.NewDiagnoser(db)

	var publisher loop.Publisher
	if bus != nil {
		publisher = bus
		det.SetPublisher(bus)
		gen.SetPublisher(bus)
		rec.SetPublisher(bus)
		rb.SetPublisher(bus)
	}
	learningLoop := loop.NewLoop(db, det, gen, tracker, publisher)
	if cfg.Detector.StaleProblemThreshold > 0 {
		learningLoop.SetStaleThreshold(cfg.Detector.StaleProblemThreshold)
	}

	if cfg.HotReload.Enabled {
		watcher := config.NewWatcher(configPath)
		watcher.OnReload(func(next *config.Config) {
			tunables.Store(detector.Thresholds{
				SlowQueryThreshold: next.Detector.SlowQueryThreshold,
				ErrorSpikeWindow:   next.Detector.ErrorSpikeWindow,
				ErrorSpikeCount:    next.Detector.ErrorSpikeCount,
			})
			if next.Detector.StaleProblemThreshold > 0 {
				learningLoop.SetStaleThreshold(next.Detector.StaleProblemThreshold)
			}
			log.Printf("Configuration reloaded; detector thresholds updated")
		})
		if err := watcher.Start(ctx); err != nil {
			log.Printf("Warning: config watcher failed: %v", err)
		}
	}

	server := api.NewServer(learningLoop, diag, rec, val, rb, db, tracker)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      server.SetupRoutes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("Listening on :%d", cfg.Server.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown failed: %v", err)
	}
}
