package indexer

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"positionScope/internal/dex"
	"positionScope/internal/model"
	"positionScope/internal/syncer"
)

const DefaultBlockBatch = 2000

// LogSource reads logs from the chain.
type LogSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
}

// Sink stores pair-creation events.
type Sink interface {
	AddIndexedPairs(ctx context.Context, events []model.IndexedPair) error
}

// ScanConfig holds runtime settings for the scanner.
type ScanConfig struct {
	Factory    common.Address
	FromBlock  uint64
	ToBlock    uint64 // 0 means latest
	BlockBatch uint64
	Retry      syncer.RetryPolicy
}

// ScanReport summarizes one scan.
type ScanReport struct {
	From    uint64
	To      uint64
	Ranges  int
	Events  int
	Skipped int
}

// Scanner walks factory PairCreated logs and records one IndexedPair per
// event, checkpointing after every completed range.
type Scanner struct {
	cfg        ScanConfig
	logs       LogSource
	sink       Sink
	checkpoint *CheckpointStore
	logger     *zap.Logger
	seen       map[string]struct{}
}

func NewScanner(cfg ScanConfig, logs LogSource, sink Sink, checkpoint *CheckpointStore, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BlockBatch == 0 {
		cfg.BlockBatch = DefaultBlockBatch
	}
	return &Scanner{
		cfg:        cfg,
		logs:       logs,
		sink:       sink,
		checkpoint: checkpoint,
		logger:     logger,
		seen:       make(map[string]struct{}),
	}
}

// Run scans from the configured (or checkpointed) block to the end block.
func (s *Scanner) Run(ctx context.Context) (ScanReport, error) {
	if s.cfg.Factory == (common.Address{}) {
		return ScanReport{}, fmt.Errorf("factory address is required")
	}
	topic, err := dex.PairCreatedTopic()
	if err != nil {
		return ScanReport{}, err
	}
	factory := s.cfg.Factory.Hex()

	from, to := s.cfg.FromBlock, s.cfg.ToBlock
	if to == 0 {
		_, err := s.cfg.Retry.Do(ctx, func(ctx context.Context) error {
			var err error
			to, err = s.logs.LatestBlockNumber(ctx)
			return err
		})
		if err != nil {
			return ScanReport{}, fmt.Errorf("get latest block: %w", err)
		}
	}

	last, ok, err := s.checkpoint.Load(factory)
	if err != nil {
		return ScanReport{}, err
	}
	if ok && last >= from {
		from = last + 1
		s.logger.Info("resume from checkpoint", zap.Uint64("last_processed", last), zap.Uint64("from", from))
	}

	report := ScanReport{From: from, To: to}
	if from > to {
		s.logger.Info("nothing to index", zap.Uint64("from", from), zap.Uint64("to", to))
		return report, nil
	}

	ranges, err := blockRanges(from, to, s.cfg.BlockBatch)
	if err != nil {
		return report, err
	}

	for _, r := range ranges {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		logs, err := s.filterLogs(ctx, r, topic)
		if err != nil {
			return report, fmt.Errorf("filter logs %d-%d: %w", r.From, r.To, err)
		}

		events := make([]model.IndexedPair, 0, len(logs))
		for _, log := range logs {
			if log.Removed {
				continue
			}
			id := eventID(log)
			if _, dup := s.seen[id]; dup {
				continue
			}
			created, err := dex.DecodePairCreated(log)
			if err != nil {
				report.Skipped++
				s.logger.Warn("skip undecodable log", zap.String("id", id), zap.Error(err))
				continue
			}
			s.seen[id] = struct{}{}
			events = append(events, model.IndexedPair{
				ID:          id,
				Pair:        created.Pair.Hex(),
				BlockNumber: created.BlockNumber,
			})
		}

		if err := s.sink.AddIndexedPairs(ctx, events); err != nil {
			return report, fmt.Errorf("store events: %w", err)
		}
		if err := s.checkpoint.Save(factory, r.To); err != nil {
			return report, err
		}

		report.Ranges++
		report.Events += len(events)
		s.logger.Info("range indexed", zap.Int("events", len(events)), zap.Uint64("from", r.From), zap.Uint64("to", r.To))
	}

	return report, nil
}

func (s *Scanner) filterLogs(ctx context.Context, r BlockRange, topic common.Hash) ([]types.Log, error) {
	policy := s.cfg.Retry
	policy.OnRetry = func(err error, attempt int) {
		s.logger.Warn("filter logs failed, retrying",
			zap.Uint64("from", r.From), zap.Uint64("to", r.To), zap.Int("attempt", attempt), zap.Error(err))
	}

	var logs []types.Log
	_, err := policy.Do(ctx, func(ctx context.Context) error {
		var err error
		logs, err = s.logs.FilterLogs(ctx, r.From, r.To, []common.Address{s.cfg.Factory}, []common.Hash{topic})
		return err
	})
	return logs, err
}

func eventID(log types.Log) string {
	return fmt.Sprintf("%d:%s:%d", log.BlockNumber, log.TxHash.Hex(), log.Index)
}
