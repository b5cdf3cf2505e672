package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"positionScope/internal/chain"
	"positionScope/internal/config"
	"positionScope/internal/indexer"
	"positionScope/internal/syncer"
)

func runIndex(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	factory, err := config.ParseAddress("factory", cfg.Factory)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newStoreApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	client, err := chain.NewClient(ctx, cfg.RPCURL, cfg.CallTimeout)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer client.Close()

	chainID, err := client.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}

	scanner := indexer.NewScanner(indexer.ScanConfig{
		Factory:    factory,
		FromBlock:  cfg.FromBlock,
		ToBlock:    cfg.ToBlock,
		BlockBatch: cfg.BlockBatch,
		Retry:      syncer.RetryPolicy{MaxRetries: cfg.MaxRetries, Delay: cfg.RetryDelay},
	}, client, a.store, indexer.NewCheckpointStore(cfg.Checkpoint), logger)

	logger.Info("index start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("chain_id", chainID.String()),
		zap.String("factory", factory.Hex()),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Uint64("block_batch", cfg.BlockBatch),
		zap.String("checkpoint", cfg.Checkpoint),
	)

	report, err := scanner.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("index done",
		zap.Uint64("from", report.From),
		zap.Uint64("to", report.To),
		zap.Int("ranges", report.Ranges),
		zap.Int("events", report.Events),
		zap.Int("skipped", report.Skipped),
	)
	return nil
}
