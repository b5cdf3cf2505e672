package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "lpscope",
		Short:        "LP position pricing and valuation sync",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one full valuation sync for the configured wallet",
		RunE:  runSync,
	}
	chainFlags(syncCmd.Flags())
	storeFlags(syncCmd.Flags())
	syncFlags(syncCmd.Flags())
	root.AddCommand(syncCmd)

	updateCmd := &cobra.Command{
		Use:   "update-single",
		Short: "Refresh one wallet position in one pair",
		RunE:  runUpdateSingle,
	}
	chainFlags(updateCmd.Flags())
	storeFlags(updateCmd.Flags())
	updateCmd.Flags().String("pair", "", "pair address")
	updateCmd.Flags().String("wallet", "", "wallet address")
	updateCmd.Flags().Int("max-retries", 3, "retries for transient RPC failures")
	updateCmd.Flags().Duration("retry-delay", 2*time.Second, "fixed delay between retries")
	root.AddCommand(updateCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the positions HTTP API, optionally syncing on an interval",
		RunE:  runServe,
	}
	chainFlags(serveCmd.Flags())
	storeFlags(serveCmd.Flags())
	syncFlags(serveCmd.Flags())
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().Duration("sync-interval", 0, "run a full sync on this interval (0 disables)")
	root.AddCommand(serveCmd)

	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "Index factory PairCreated events into the store",
		RunE:  runIndex,
	}
	indexCmd.Flags().String("rpc", "", "EVM RPC URL")
	indexCmd.Flags().String("factory", "", "V2 factory address")
	indexCmd.Flags().Uint64("from-block", 0, "start block (inclusive)")
	indexCmd.Flags().Uint64("to-block", 0, "end block (inclusive), 0 means latest")
	indexCmd.Flags().Uint64("block-batch", 2000, "blocks per log query")
	indexCmd.Flags().String("checkpoint", "", "checkpoint file path (empty disables)")
	indexCmd.Flags().Int("max-retries", 3, "retries for transient RPC failures")
	indexCmd.Flags().Duration("retry-delay", 2*time.Second, "fixed delay between retries")
	storeFlags(indexCmd.Flags())
	root.AddCommand(indexCmd)

	positionsCmd := &cobra.Command{
		Use:   "positions",
		Short: "Print stored positions for a wallet",
		RunE:  runPositions,
	}
	storeFlags(positionsCmd.Flags())
	positionsCmd.Flags().String("wallet", "", "wallet address")
	positionsCmd.Flags().Bool("json", false, "print JSON instead of a table")
	root.AddCommand(positionsCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func chainFlags(fs *pflag.FlagSet) {
	fs.String("rpc", "", "EVM RPC URL")
	fs.String("factory", "", "V2 factory address")
	fs.String("router", "", "V2 router address")
	fs.String("target-token", "", "reference token all values are expressed in")
	fs.String("wrapped-token", "", "wrapped native token, tried first as an intermediate hop")
	fs.StringSlice("priority-tokens", nil, "intermediate hop tokens in order (comma-separated)")
	fs.Bool("precheck-pairs", true, "look up hop pairs on the factory before quoting")
	fs.String("tvl-mode", "sum", "pair tvl mode (sum, min-side)")
	fs.Duration("call-timeout", 10*time.Second, "timeout for a single eth_call")
	fs.String("graph-cache", "", "token graph cache file")
	fs.String("redis-addr", "", "redis address for the token graph cache (overrides graph-cache)")
	fs.Duration("graph-ttl", time.Hour, "token graph cache time-to-live")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
}

func storeFlags(fs *pflag.FlagSet) {
	fs.String("store", "postgres", "store backend (postgres, memory)")
	fs.String("pg-dsn", "", "Postgres DSN")
	if fs.Lookup("log-level") == nil {
		fs.String("log-level", "info", "log level (debug, info, warn, error)")
	}
}

func syncFlags(fs *pflag.FlagSet) {
	fs.String("wallet", "", "wallet address to track")
	fs.Float64("freshness-hours", 1, "skip pairs updated more recently than this")
	fs.Int("batch-size", 10, "pairs valued concurrently per batch")
	fs.Int("max-retries", 3, "retries for transient RPC failures")
	fs.Duration("retry-delay", 2*time.Second, "fixed delay between retries")
	fs.Duration("batch-timeout", 2*time.Minute, "timeout for one batch")
	fs.String("discovery", "indexer", "candidate pair source (indexer, factory)")
	fs.String("run-log", "", "optional JSONL file receiving committed positions")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
