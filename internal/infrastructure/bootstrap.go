package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"lumo/internal/auth"
	"lumo/internal/config"
	"lumo/internal/ledger"
	"lumo/internal/repository"
	"lumo/internal/repository/postgres"
	"lumo/internal/repository/sqlite"
	"lumo/internal/reward"
	"lumo/internal/service"
	transportGRPC "lumo/internal/transport/grpc"
	transportHTTP "lumo/internal/transport/http"
	transportNATS "lumo/internal/transport/nats"
	"lumo/internal/worker"
)

const healthProbeInterval = 10 * time.Second

// Bootstrap wires the application from cfg.
// Returns the App, a cleanup function, or an error.
func Bootstrap(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	var cleanupFns []func()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanupFns = append(cleanupFns, func() { _ = store.Close() })

	// Optional reward rule cache. An unreachable Redis degrades to direct
	// store reads instead of failing startup.
	var cache redis.Cmdable
	if addr := cfg.RedisAddr(); addr != "" {
		rdb, err := connectRedis(ctx, addr)
		if err != nil {
			slog.Warn("redis unavailable, reward rules read from store", "addr", addr, "error", err)
		} else {
			cache = rdb
			cleanupFns = append(cleanupFns, func() { _ = rdb.Close() })
		}
	}

	var bus repository.MessageBus = repository.NoopBus{}
	var servers []Server

	if cfg.BusProvider == config.BusNATS {
		nc, err := connectNats(cfg.NatsAddr())
		if err != nil {
			return nil, runCleanup(cleanupFns), fmt.Errorf("connect nats: %w", err)
		}
		cleanupFns = append(cleanupFns, nc.Close)
		natsBus := transportNATS.NewBus(nc)
		bus = natsBus

		if cfg.WorkerEnabled {
			servers = append(servers, worker.NewDriftWorker(natsBus, ledger.NewWriter(store)))
		}
	}

	svc := service.NewPipeline(store, reward.NewEngine(store, cache, cfg.RewardCacheTTL), bus)
	authn := auth.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer)

	servers = append(servers, transportHTTP.NewServer(cfg.ApiAddr(), svc, authn, transportHTTP.Options{
		RequestTimeout: cfg.RequestTimeout,
		CORSOrigins:    cfg.CORSOrigins,
		Release:        cfg.Production(),
	}))
	if addr, ok := cfg.GRPCAddr(); ok {
		servers = append(servers, transportGRPC.NewServer(addr, svc, healthProbeInterval))
	}

	slog.Info("application wired",
		"store", cfg.StoreDriver,
		"bus", cfg.BusProvider,
		"reward_cache", cache != nil,
		"worker", cfg.WorkerEnabled,
	)
	return NewApp(servers), runCleanup(cleanupFns), nil
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		store, err := openSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		if err := migratePostgres(ctx, cfg.DSN()); err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		pool, err := connectPostgres(ctx, cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return postgres.New(pool), nil
	}
}

func openSQLite(ctx context.Context, path string) (*sqlite.Store, error) {
	store, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return store, nil
}

// runCleanup returns a single function that calls all cleanup functions in reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
