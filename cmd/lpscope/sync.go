package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"positionScope/internal/valuation"
)

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	wallet, err := parseWallet(cfg.Wallet)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newChainApp(ctx, cfg, logger, wallet)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("sync start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("wallet", wallet.Hex()),
		zap.String("discovery", cfg.Discovery),
		zap.String("store", cfg.Store),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Duration("freshness", cfg.Freshness()),
	)

	report, err := a.scheduler.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("sync done",
		zap.String("run", report.RunID),
		zap.Int("positions", report.Positions),
		zap.String("total_value", valuation.FormatUnits(report.TotalValue, valuation.PricePrecision, valuation.DisplayPlaces)),
		zap.Int("failed", report.Failed),
		zap.Int("batch_errors", len(report.BatchErrors)),
	)
	return nil
}
