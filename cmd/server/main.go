package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	httpapi "github.com/housie-live/housie-live/internal/api/http"
	appSync "github.com/housie-live/housie-live/internal/application/sync"
	"github.com/housie-live/housie-live/internal/config"
	"github.com/housie-live/housie-live/internal/domain/claim"
	"github.com/housie-live/housie-live/internal/domain/ledger"
	"github.com/housie-live/housie-live/internal/domain/rules"
	"github.com/housie-live/housie-live/internal/infrastructure/boltcache"
	"github.com/housie-live/housie-live/internal/infrastructure/memstore"
	"github.com/housie-live/housie-live/internal/infrastructure/postgres"
	"github.com/housie-live/housie-live/internal/infrastructure/pubsub"
	"github.com/housie-live/housie-live/internal/infrastructure/sse"
	"github.com/housie-live/housie-live/internal/migrations"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()

	// storage: postgres when configured, in-process otherwise
	var (
		ledgerStore ledger.Store
		claimRepo   claim.Repository
	)
	if cfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db error: %v", err)
		}
		defer pool.Close()
		if err := postgres.RunMigrations(ctx, pool, migrations.FS); err != nil {
			log.Fatalf("migration error: %v", err)
		}
		ledgerStore = postgres.NewLedgerRepository(pool)
		claimRepo = postgres.NewClaimRepository(pool)
	} else {
		logger.Warn().Msg("DATABASE_URL not set, using in-process storage")
		ledgerStore = memstore.NewLedgerStore()
		claimRepo = memstore.NewClaimRepository()
	}

	// local replica cache
	var cache *boltcache.Cache
	if cfg.ReplicaPath != "" {
		cache, err = boltcache.Open(cfg.ReplicaPath)
		if err != nil {
			logger.Warn().Err(err).Str("path", cfg.ReplicaPath).Msg("replica cache unavailable")
		} else {
			defer cache.Close()
		}
	}

	// transport: redis when configured, in-process otherwise
	var transport pubsub.Transport
	if cfg.RedisURL != "" {
		rt, err := pubsub.NewRedisTransport(cfg.RedisURL, logger)
		if err != nil {
			log.Fatalf("redis error: %v", err)
		}
		defer rt.Close()
		transport = rt
	} else {
		logger.Warn().Msg("REDIS_URL not set, using in-process transport")
		hub := pubsub.NewHub()
		defer hub.Close()
		transport = hub
	}

	registry := rules.NewDefaultRegistry(logger)
	if cfg.CustomPatterns != "" {
		custom, err := rules.ParseCustomRuleSets(cfg.CustomPatterns)
		if err != nil {
			log.Fatalf("custom patterns error: %v", err)
		}
		for gameType, rs := range custom {
			registry.Register(gameType, rs)
			logger.Info().Str("game_type", gameType).
				Strs("patterns", rs.DefaultPatterns()).
				Msg("custom rule set registered")
		}
	}
	sseHub := sse.NewHub()
	defer sseHub.Stop()

	manager := appSync.NewManager(transport, cache, ledgerStore, claimRepo, registry, appSync.Config{
		ReconcileInterval:    cfg.ReconcileInterval,
		FlushInterval:        cfg.FlushInterval,
		PublishTimeout:       cfg.PublishTimeout,
		ClaimTimeout:         cfg.ClaimTimeout,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		LivenessTimeout:      cfg.LivenessTimeout,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.ReconnectMaxDelay,
		ReconnectMaxAttempts: cfg.ReconnectMaxAttempts,
	}, logger)

	apiServer := httpapi.NewServer(manager, sseHub, logger)

	httpServer := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     apiServer.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
	manager.Shutdown()
}
