package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saultoio/saulto-sync/internal/credentials"
	"github.com/saultoio/saulto-sync/internal/engine"
	"github.com/saultoio/saulto-sync/internal/landing"
	"github.com/saultoio/saulto-sync/internal/pipeline"
	"github.com/saultoio/saulto-sync/internal/schema"
	"github.com/saultoio/saulto-sync/internal/source"
	"github.com/saultoio/saulto-sync/internal/source/harvest"
	"github.com/saultoio/saulto-sync/internal/source/jira"
	"github.com/saultoio/saulto-sync/internal/token"
	"github.com/saultoio/saulto-sync/internal/transform"
	"github.com/saultoio/saulto-sync/pkg/config"
	"github.com/saultoio/saulto-sync/pkg/database"
	"github.com/saultoio/saulto-sync/pkg/health"
	"github.com/saultoio/saulto-sync/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file")
	flag.Parse()

	log := logger.New("saulto-sync")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, database.FromConfig(cfg))
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer db.Close()

	store := credentials.NewPostgresStore(db, log.Named("credentials"))
	if err := store.EnsureTable(ctx); err != nil {
		log.Fatalf("Failed to prepare credential store: %v", err)
	}

	// Redis is optional: without it the token cache is process-local.
	var tokenCache token.Cache = token.NewMemoryCache()
	var redisDB *database.Redis
	if cfg.Get("redis.host") != "" {
		redisDB, err = database.NewRedis(ctx, database.RedisFromConfig(cfg))
		if err != nil {
			log.Warnf("Redis unavailable, using in-memory token cache: %v", err)
		} else {
			defer redisDB.Close()
			tokenCache = token.NewRedisCache(redisDB, log.Named("tokencache"))
		}
	}

	httpTimeout := time.Duration(cfg.GetInt("source.http_timeout_seconds", 60)) * time.Second
	httpClient := source.NewHTTPClient(httpTimeout)

	registry := source.NewRegistry()
	registry.Register(harvest.New(httpClient, log.Named("harvest")))
	registry.Register(jira.New(httpClient, log.Named("jira")))

	tokens := token.NewManager(store, tokenCache, log.Named("token"))
	schemas := schema.NewManager(db.Pool(), log.Named("schema"))
	landingWriter := landing.NewWriter(db.Pool(), log.Named("landing"))
	transformEngine := transform.NewEngine(db.Pool(), log.Named("transform"))

	p := pipeline.New(store, registry, tokens, schemas, landingWriter, transformEngine, log.Named("pipeline"))

	checker := health.NewChecker()
	runHealthChecks := func() {
		checker.RunCheck("postgres", func() error { return db.Ping(context.Background()) })
		if redisDB != nil {
			checker.RunCheck("redis", func() error { return redisDB.Ping(context.Background()) })
		}
	}
	runHealthChecks()
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runHealthChecks()
			}
		}
	}()

	eng := engine.NewEngine(cfg, db.Pool(), store, registry, p, schemas, checker, log.Named("engine"))
	if err := eng.Start(ctx); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	log.Infof("saulto-sync started with connectors: %v", registry.ListRegistered())

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := eng.Stop(shutdownCtx); err != nil {
		log.Errorf("Shutdown error: %v", err)
		os.Exit(1)
	}
}
