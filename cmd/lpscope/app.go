package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"positionScope/internal/chain"
	"positionScope/internal/config"
	"positionScope/internal/dex"
	"positionScope/internal/graphcache"
	"positionScope/internal/pricing"
	"positionScope/internal/storage"
	"positionScope/internal/storage/memory"
	"positionScope/internal/storage/postgres"
	"positionScope/internal/syncer"
	"positionScope/internal/valuation"
	"positionScope/internal/workpool"
)

// app holds the collaborators shared by the subcommands.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	store    storage.Store
	registry *prometheus.Registry

	client    *chain.Client
	redis     *redis.Client
	scheduler *syncer.Scheduler
	closers   []func()
}

func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

// newStoreApp opens only the store.
func newStoreApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}

	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory store, nothing will persist across runs")
		a.store = memory.NewStore()
	default:
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		a.store = pg
	}
	return a, nil
}

// newChainApp opens the store, the RPC client and builds the scheduler.
func newChainApp(ctx context.Context, cfg config.Config, logger *zap.Logger, wallet common.Address) (*app, error) {
	contracts, err := cfg.Contracts()
	if err != nil {
		return nil, err
	}
	mode, err := valuation.ParseTVLMode(cfg.TVLMode)
	if err != nil {
		return nil, err
	}

	a, err := newStoreApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	client, err := chain.NewClient(ctx, cfg.RPCURL, cfg.CallTimeout)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	a.client = client
	a.closers = append(a.closers, client.Close)

	factory := dex.NewFactory(client, contracts.Factory)
	router := dex.NewRouter(client, contracts.Router)

	newValuer := func(index pricing.PairIndex) syncer.Valuer {
		tokens := dex.NewTokenCache(client, logger)
		resolver := pricing.NewResolver(router, factory, pricing.ResolverConfig{
			PriorityTokens: contracts.Priority,
			PrecheckPairs:  cfg.PrecheckPairs,
			Index:          index,
		}, logger)
		oracle := pricing.NewOracle(resolver, tokens, contracts.Target, logger)
		return valuation.NewValuer(oracle, tokens, mode, logger)
	}

	retry := syncer.RetryPolicy{MaxRetries: cfg.MaxRetries, Delay: cfg.RetryDelay}

	var discovery syncer.Discovery = syncer.IndexerDiscovery{Source: a.store, Logger: logger}
	if cfg.Discovery == config.DiscoveryFactory {
		discovery = syncer.FactoryDiscovery{
			Factory: factory,
			Pool:    workpool.New(cfg.BatchSize),
			Retry:   retry,
			Logger:  logger,
		}
	}

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a.scheduler = syncer.NewScheduler(syncer.Config{
		Wallet:       wallet,
		Freshness:    cfg.Freshness(),
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Retry:        retry,
	}, a.store, discovery, dex.NewPairReader(client), newValuer, logger,
		syncer.WithGraphCache(a.graphCache()),
		syncer.WithRunLog(storage.NewRunLog(cfg.RunLog)),
		syncer.WithMetrics(syncer.NewMetrics(a.registry)),
	)
	return a, nil
}

func (a *app) graphCache() graphcache.Cache {
	switch {
	case a.cfg.RedisAddr != "":
		a.redis = redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
		a.closers = append(a.closers, func() { _ = a.redis.Close() })
		return graphcache.NewRedisCache(a.redis, "", a.cfg.GraphTTL, a.logger)
	case a.cfg.GraphCache != "":
		return graphcache.NewFileCache(a.cfg.GraphCache, a.cfg.GraphTTL, a.logger)
	default:
		return graphcache.Nop{}
	}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func parseWallet(input string) (common.Address, error) {
	return config.ParseAddress("wallet", input)
}
