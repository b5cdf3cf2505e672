package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"positionScope/internal/config"
)

func runUpdateSingle(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	wallet, err := parseWallet(cfg.Wallet)
	if err != nil {
		return err
	}
	pairFlag, _ := cmd.Flags().GetString("pair")
	pair, err := config.ParseAddress("pair", pairFlag)
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

	position, err := a.scheduler.UpdateSingle(ctx, pair, wallet)
	if err != nil {
		return err
	}
	if position == nil {
		logger.Info("position removed, balance is zero",
			zap.String("pair", pair.Hex()),
			zap.String("wallet", wallet.Hex()),
		)
		return nil
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(position)
}
