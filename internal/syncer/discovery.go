package syncer

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"positionScope/internal/model"
	"positionScope/internal/workpool"
)

// Candidate is one pair eligible for a sync pass. EventIDs are the indexer
// events that reference it.
type Candidate struct {
	Pair     common.Address
	EventIDs []string
}

// Discovery produces the full candidate pair set.
type Discovery interface {
	Candidates(ctx context.Context) ([]Candidate, error)
}

// IndexedPairSource lists the external indexer's pair-creation events.
type IndexedPairSource interface {
	IndexedPairs(ctx context.Context) ([]model.IndexedPair, error)
}

// IndexerDiscovery reads candidates from the factory indexer events.
type IndexerDiscovery struct {
	Source IndexedPairSource
	Logger *zap.Logger
}

func (d IndexerDiscovery) Candidates(ctx context.Context) ([]Candidate, error) {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	events, err := d.Source.IndexedPairs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list indexed pairs: %w", err)
	}

	byPair := make(map[common.Address]int)
	var out []Candidate
	for _, e := range events {
		if !common.IsHexAddress(e.Pair) {
			logger.Warn("skipping indexed pair with invalid address", zap.String("id", e.ID), zap.String("pair", e.Pair))
			continue
		}
		addr := common.HexToAddress(e.Pair)
		idx, ok := byPair[addr]
		if !ok {
			idx = len(out)
			byPair[addr] = idx
			out = append(out, Candidate{Pair: addr})
		}
		out[idx].EventIDs = append(out[idx].EventIDs, e.ID)
	}
	return out, nil
}

// PairEnumerator walks the factory's pair list.
type PairEnumerator interface {
	AllPairsLength(ctx context.Context) (uint64, error)
	PairAt(ctx context.Context, index uint64) (common.Address, error)
}

// FactoryDiscovery enumerates every pair the factory has created. Reads go
// through the shared worker pool and are retried individually; any index that
// still fails aborts discovery, since a partial set would make reconciliation
// delete live positions.
type FactoryDiscovery struct {
	Factory PairEnumerator
	Pool    *workpool.Pool
	Retry   RetryPolicy
	Logger  *zap.Logger
}

func (d FactoryDiscovery) Candidates(ctx context.Context) ([]Candidate, error) {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pool := d.Pool
	if pool == nil {
		pool = workpool.New(1)
	}

	var total uint64
	if _, err := d.Retry.Do(ctx, func(ctx context.Context) error {
		n, err := d.Factory.AllPairsLength(ctx)
		total = n
		return err
	}); err != nil {
		return nil, fmt.Errorf("factory pair count: %w", err)
	}

	pairs := make([]common.Address, total)
	var mu sync.Mutex
	err := pool.Each(ctx, int(total), func(ctx context.Context, i int) error {
		_, err := d.Retry.Do(ctx, func(ctx context.Context) error {
			addr, err := d.Factory.PairAt(ctx, uint64(i))
			if err != nil {
				return err
			}
			mu.Lock()
			pairs[i] = addr
			mu.Unlock()
			return nil
		})
		if err != nil {
			return fmt.Errorf("factory pair %d: %w", i, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[common.Address]struct{}, len(pairs))
	out := make([]Candidate, 0, len(pairs))
	for _, p := range pairs {
		if p == (common.Address{}) {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, Candidate{Pair: p})
	}
	logger.Info("factory discovery complete", zap.Uint64("pairs", total))
	return out, nil
}
