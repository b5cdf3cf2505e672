package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"positionScope/internal/api"
	"positionScope/internal/syncer"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var wallet common.Address
	if cfg.Wallet != "" {
		if wallet, err = parseWallet(cfg.Wallet); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newChainApp(ctx, cfg, logger, wallet)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.SyncInterval > 0 {
		if cfg.Wallet == "" {
			logger.Warn("sync-interval set without a wallet, periodic sync disabled")
		} else {
			go syncLoop(ctx, a.scheduler, cfg.SyncInterval, logger)
		}
	}

	server := api.NewServer(a.store, a.scheduler, a.registry, logger)
	return server.ListenAndServe(ctx, cfg.Listen)
}

// syncLoop runs a full sync immediately and then on every tick until ctx ends.
func syncLoop(ctx context.Context, scheduler *syncer.Scheduler, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("periodic sync failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
