package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hexlane/dexarb/internal/cache/memory"
	"github.com/hexlane/dexarb/internal/cache/redis"
	"github.com/hexlane/dexarb/internal/config"
	"github.com/hexlane/dexarb/internal/domain"
	"github.com/hexlane/dexarb/internal/fetcher"
	"github.com/hexlane/dexarb/internal/notify"
	"github.com/hexlane/dexarb/internal/rpc"
	"github.com/hexlane/dexarb/internal/store/postgres"
)

// Dependencies bundles the infrastructure the engine modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Cache    domain.PoolCache
	RPC      *rpc.Pool
	HeadFeed *rpc.HeadFeed
	Fetcher  *fetcher.Fetcher
	Store    domain.AttemptStore
	Notifier *notify.Notifier
}

// Wire builds every concrete dependency from the configuration. Redis and
// Postgres are optional; without Redis the pool cache lives in process,
// without Postgres attempts are not persisted.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}
	ttls := domain.CacheTTLs{
		PairPrice: cfg.Cache.PairPriceTTL.Duration,
		TVL:       cfg.Cache.TVLTTL.Duration,
		General:   cfg.Cache.GeneralTTL.Duration,
	}

	if cfg.Redis.Enabled {
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = client.Close() })
		deps.Cache = redis.NewPoolCache(client, ttls)
	} else {
		logger.Info("redis disabled, using in-process cache")
		deps.Cache = memory.New(ttls)
	}

	if cfg.Postgres.Enabled {
		client, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, client.Close)
		if cfg.Postgres.RunMigrations {
			if err := client.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Store = postgres.NewAttemptStore(client.Pool())
	}

	if len(cfg.Chain.Endpoints) > 0 {
		deps.RPC = rpc.NewPool(cfg.Chain.Endpoints, cfg.Chain.RequestTimeout.Duration, logger)
		closers = append(closers, deps.RPC.Close)
	}
	if cfg.Chain.WsEndpoint != "" {
		deps.HeadFeed = rpc.NewHeadFeed(cfg.Chain.WsEndpoint, logger)
	}

	if cfg.RegistryPath != "" && deps.RPC != nil {
		registry, err := fetcher.LoadRegistry(cfg.RegistryPath)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: registry: %w", err)
		}
		prices := fetcher.NewPriceSource(cfg.Fetcher.PriceSourceURL, cfg.Fetcher.RequestTimeout.Duration)
		f, err := fetcher.New(deps.RPC, deps.Cache, registry, prices, cfg.Fetcher, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: fetcher: %w", err)
		}
		deps.Fetcher = f
	}

	deps.Notifier = notify.New(cfg.Notify, logger)

	return deps, cleanup, nil
}
