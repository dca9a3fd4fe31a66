package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bealive/commitment-ledger/internal/api"
	"github.com/bealive/commitment-ledger/internal/auth"
	"github.com/bealive/commitment-ledger/internal/config"
	"github.com/bealive/commitment-ledger/internal/exposure"
	"github.com/bealive/commitment-ledger/internal/ledger"
	"github.com/bealive/commitment-ledger/internal/lock"
	"github.com/bealive/commitment-ledger/internal/store"
	"github.com/bealive/commitment-ledger/internal/sweep"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, WebSocket feed, and expiry sweeper",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	// --- Initialize store ---
	var st store.Store
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	if cfg.Database.DSN != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if cfg.Database.RunMigrations {
			if err := pg.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		st = pg
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("database.dsn not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	var rdb redis.UniversalClient
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cleanup = append(cleanup, func() { rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL.Duration)
		slog.Info("Redis cache enabled", "ttl", cfg.Redis.CacheTTL.Duration)
	}

	// --- Per-challenge locks ---
	var locks lock.Locker = lock.NewKeyed()
	if cfg.Lock.Backend == "redis" {
		locks = lock.NewRedis(rdb, cfg.Lock.TTL.Duration, cfg.Lock.Retry.Duration)
		slog.Info("using Redis challenge locks", "ttl", cfg.Lock.TTL.Duration)
	}

	// --- Ledger ---
	hub := api.NewHub()
	var limiter *exposure.Limiter
	if l := exposure.NewLimiter(cfg.Ledger.MaxOpenStakeDecimal(), cfg.Ledger.MaxOpenCommitments); l.Enabled() {
		limiter = l
	}
	led := ledger.New(st, locks, ledger.Options{
		ForbidSelfCommit: cfg.Ledger.ForbidSelfCommit,
		Limiter:          limiter,
		Publisher:        hub,
	})

	authn := auth.New(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if authn.HeaderMode() {
		slog.Warn("auth.jwt_secret not set, trusting " + auth.HeaderParticipant + " header")
	}

	router := api.NewRouter(api.NewHandler(led), hub, authn, cfg.Server.CORSOrigins)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Run(ctx)
	})

	if cfg.Sweep.Enabled {
		sw := sweep.New(led, hub, cfg.Sweep.Interval.Duration)
		g.Go(func() error {
			return sw.Run(ctx)
		})
	}

	g.Go(func() error {
		slog.Info("commitment-ledger listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Graceful shutdown.
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down commitment-ledger...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("commitment-ledger stopped")
	return nil
}
