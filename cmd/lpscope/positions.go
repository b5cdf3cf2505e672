package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"positionScope/internal/api"
	"positionScope/internal/valuation"
)

func runPositions(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	wallet, err := parseWallet(cfg.Wallet)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newStoreApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	positions, err := a.store.PositionsByWallet(ctx, wallet.Hex())
	if err != nil {
		return err
	}
	view := api.Portfolio(wallet.Hex(), positions)

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PAIR\tTOKENS\tSHARE\tVALUE\tUPDATED")
	for _, p := range view.Positions {
		value, err := valuation.ParseAmount(p.TotalValue)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s/%s\t%s\t%s\t%s\n",
			p.Pair,
			p.Token0.Symbol,
			p.Token1.Symbol,
			p.PoolShare,
			valuation.FormatUnits(value, valuation.PricePrecision, valuation.DisplayPlaces),
			p.UpdatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	fmt.Fprintf(tw, "TOTAL\t\t\t%s\t\n", view.TotalDisplay)
	return tw.Flush()
}
