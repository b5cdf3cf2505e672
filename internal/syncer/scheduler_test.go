package syncer

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"positionScope/internal/graphcache"
	"positionScope/internal/model"
	"positionScope/internal/pricing"
	"positionScope/internal/storage"
	"positionScope/internal/storage/memory"
	"positionScope/internal/valuation"
	"positionScope/internal/workpool"
)

var (
	wallet   = common.HexToAddress("0x4444444444444444444444444444444444444444")
	other    = common.HexToAddress("0x5555555555555555555555555555555555555555")
	tokenA   = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	tokenB   = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	pair1    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	pair2    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	pair3    = common.HexToAddress("0x3333333333333333333333333333333333333333")
	vanished = common.HexToAddress("0x9999999999999999999999999999999999999999")
	testNow  = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

type fakeReader struct {
	mu       sync.Mutex
	states   map[common.Address]model.PairState
	failures map[common.Address][]error
	block    map[common.Address]bool
	calls    map[common.Address]int
	release  chan struct{}
	once     sync.Once
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		states:   make(map[common.Address]model.PairState),
		failures: make(map[common.Address][]error),
		block:    make(map[common.Address]bool),
		calls:    make(map[common.Address]int),
		release:  make(chan struct{}),
	}
}

func (f *fakeReader) set(pair common.Address, supply, balance *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[pair] = model.PairState{
		Address:     pair,
		Token0:      tokenA,
		Token1:      tokenB,
		Reserve0:    ether(1000),
		Reserve1:    ether(2000),
		TotalSupply: supply,
		Balance:     balance,
	}
}

func (f *fakeReader) ReadPair(_ context.Context, pair, _ common.Address) (model.PairState, error) {
	f.mu.Lock()
	f.calls[pair]++
	blocked := f.block[pair]
	var queued error
	if q := f.failures[pair]; len(q) > 0 {
		queued, f.failures[pair] = q[0], q[1:]
	}
	state, ok := f.states[pair]
	f.mu.Unlock()

	if blocked {
		// ignores ctx, like a provider that never answers
		<-f.release
		return model.PairState{}, errors.New("abandoned")
	}
	if queued != nil {
		return model.PairState{}, queued
	}
	if !ok {
		return model.PairState{}, errors.New("execution reverted")
	}
	return state, nil
}

// unblock lets readers stuck on blocked pairs return.
func (f *fakeReader) unblock() {
	f.once.Do(func() { close(f.release) })
}

func (f *fakeReader) callCount(pair common.Address) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[pair]
}

type staticPrices struct{}

func (staticPrices) PriceInTarget(context.Context, common.Address) (*big.Int, error) {
	return ether(1), nil
}

type staticTokens struct{}

func (staticTokens) Token(_ context.Context, address common.Address) (model.Token, error) {
	return model.Token{Address: address.Hex(), Symbol: "TKN", Decimals: 18}, nil
}

type harness struct {
	store     *memory.Store
	reader    *fakeReader
	scheduler *Scheduler
	valuers   int
	metrics   *Metrics
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{store: memory.NewStore(), reader: newFakeReader()}
	t.Cleanup(h.reader.unblock)
	if cfg.Wallet == (common.Address{}) {
		cfg.Wallet = wallet
	}
	if cfg.Retry.Delay == 0 {
		cfg.Retry = RetryPolicy{MaxRetries: 3, Delay: time.Millisecond}
	}
	factory := func(index pricing.PairIndex) Valuer {
		h.valuers++
		v := valuation.NewValuer(staticPrices{}, staticTokens{}, valuation.TVLSum, nil)
		v.Now = func() time.Time { return testNow }
		return v
	}
	h.metrics = NewMetrics(prometheus.NewRegistry())
	opts = append(opts, WithMetrics(h.metrics))
	h.scheduler = NewScheduler(cfg, h.store, IndexerDiscovery{Source: h.store}, h.reader, factory, nil, opts...)
	h.scheduler.Now = func() time.Time { return testNow }
	return h
}

func (h *harness) index(pairs ...common.Address) {
	for i, p := range pairs {
		_ = h.store.AddIndexedPairs(context.Background(), []model.IndexedPair{{ID: p.Hex(), Pair: p.Hex(), BlockNumber: uint64(i + 1)}})
	}
}

func (h *harness) positionPairs(t *testing.T, w common.Address) []string {
	t.Helper()
	positions, err := h.store.PositionsByWallet(context.Background(), w.Hex())
	require.NoError(t, err)
	out := make([]string, 0, len(positions))
	for _, p := range positions {
		out = append(out, p.Pair)
	}
	return out
}

func seedPosition(t *testing.T, store storage.Store, w, pair common.Address, value string) {
	t.Helper()
	require.NoError(t, store.UpsertPositions(context.Background(), []model.Position{
		{Wallet: w.Hex(), Pair: pair.Hex(), TotalValue: value},
	}))
}

func TestRunCommitsAndReconciles(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.reader.set(pair1, ether(100), ether(10))
	h.reader.set(pair2, ether(100), new(big.Int))
	h.reader.set(pair3, new(big.Int), new(big.Int))
	h.index(pair1, pair2, pair3)

	seedPosition(t, h.store, wallet, pair2, "1")
	seedPosition(t, h.store, wallet, vanished, "1")
	seedPosition(t, h.store, other, vanished, "1")

	report, err := h.scheduler.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Candidates)
	assert.Equal(t, 2, report.Committed)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 1, report.Positions)
	assert.Equal(t, int64(1), report.Deleted)
	assert.Empty(t, report.BatchErrors)

	// 100 tokenA + 200 tokenB at a price of 1 each
	assert.Equal(t, ether(300), report.TotalValue)

	assert.Equal(t, []string{pair1.Hex()}, h.positionPairs(t, wallet))
	assert.Equal(t, []string{vanished.Hex()}, h.positionPairs(t, other), "other wallets are untouched")

	pos, err := h.store.GetPosition(ctx, wallet.Hex(), pair1.Hex())
	require.NoError(t, err)
	assert.Equal(t, "0.1", pos.PoolShare)
	assert.Equal(t, ether(100).String(), pos.EstimatedWithdraw.Token0Amount)

	events, err := h.store.IndexedPairs(ctx)
	require.NoError(t, err)
	processed := map[string]bool{}
	for _, e := range events {
		processed[e.Pair] = e.Processed
	}
	assert.Equal(t, map[string]bool{pair1.Hex(): true, pair2.Hex(): true, pair3.Hex(): false}, processed)

	_, err = h.store.GetPair(ctx, pair3.Hex())
	assert.ErrorIs(t, err, storage.ErrNotFound, "zero-supply pairs are not valued")

	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.UnitsTotal.WithLabelValues(string(StateCommitted))))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.LastRunPositions))
	assert.Equal(t, 300.0, testutil.ToFloat64(h.metrics.LastRunValue))
}

func TestRunStalenessGating(t *testing.T) {
	h := newHarness(t, Config{Freshness: time.Hour})
	ctx := context.Background()

	h.reader.set(pair1, ether(100), ether(10))
	h.reader.set(pair2, ether(100), ether(10))
	h.index(pair1, pair2)

	require.NoError(t, h.store.UpsertPairs(ctx, []model.Pair{
		{Address: pair1.Hex(), UpdatedAt: testNow.Add(-time.Hour + time.Second)},
		{Address: pair2.Hex(), UpdatedAt: testNow.Add(-time.Hour - time.Second)},
	}))
	seedPosition(t, h.store, wallet, pair1, "5")

	report, err := h.scheduler.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Fresh)
	assert.Equal(t, 1, report.Committed)
	assert.Zero(t, h.reader.callCount(pair1))
	assert.Equal(t, 1, h.reader.callCount(pair2))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.UnitsTotal.WithLabelValues(string(StateFresh))))
	assert.Zero(t, testutil.ToFloat64(h.metrics.UnitsTotal.WithLabelValues(string(StateSkipped))))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.UnitsTotal.WithLabelValues(string(StateCommitted))))

	// the fresh pair is still a candidate, so its position survives
	assert.ElementsMatch(t, []string{pair1.Hex(), pair2.Hex()}, h.positionPairs(t, wallet))
}

func TestRunRetriesTransientFailures(t *testing.T) {
	h := newHarness(t, Config{})
	h.reader.set(pair1, ether(100), ether(10))
	h.reader.failures[pair1] = []error{context.DeadlineExceeded, errors.New("502 bad gateway")}
	h.index(pair1)

	report, err := h.scheduler.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, StateCommitted, report.Results[0].State)
	assert.Equal(t, 3, report.Results[0].Attempts)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.RetriesTotal))
}

func TestRunRetriesExhausted(t *testing.T) {
	h := newHarness(t, Config{Retry: RetryPolicy{MaxRetries: 1, Delay: time.Millisecond}})
	h.reader.set(pair1, ether(100), ether(10))
	h.reader.failures[pair1] = []error{context.DeadlineExceeded, context.DeadlineExceeded, context.DeadlineExceeded}
	h.index(pair1)

	report, err := h.scheduler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, h.reader.callCount(pair1))
}

func TestRunPermanentFailureIsNotRetried(t *testing.T) {
	h := newHarness(t, Config{})
	h.reader.set(pair1, ether(100), ether(10))
	h.index(pair1, pair2)
	seedPosition(t, h.store, wallet, pair2, "7")

	report, err := h.scheduler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Committed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, h.reader.callCount(pair2))

	// a failed unit keeps its previous position
	assert.ElementsMatch(t, []string{pair1.Hex(), pair2.Hex()}, h.positionPairs(t, wallet))
}

func TestRunBatchTimeoutContinues(t *testing.T) {
	h := newHarness(t, Config{BatchSize: 1, BatchTimeout: 50 * time.Millisecond})
	h.reader.set(pair1, ether(100), ether(10))
	h.reader.set(pair2, ether(100), ether(10))
	h.reader.block[pair1] = true
	h.index(pair1, pair2)

	report, err := h.scheduler.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.BatchErrors, 1)
	assert.Contains(t, report.BatchErrors[0], "batch 0")
	assert.Equal(t, 1, report.Committed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []string{pair2.Hex()}, h.positionPairs(t, wallet))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.BatchTimeouts))
}

func TestRunAbandonedUnitCountedOnce(t *testing.T) {
	h := newHarness(t, Config{BatchSize: 1, BatchTimeout: 50 * time.Millisecond})
	h.reader.set(pair1, ether(100), ether(10))
	h.reader.block[pair1] = true
	h.index(pair1)

	report, err := h.scheduler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	failed := h.metrics.UnitsTotal.WithLabelValues(string(StateFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(failed))

	// the abandoned call finally returns after the run is over
	h.reader.unblock()
	assert.Never(t, func() bool { return testutil.ToFloat64(failed) > 1 }, 200*time.Millisecond, 5*time.Millisecond)
}

func TestRunIsIdempotent(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.reader.set(pair1, ether(100), ether(10))
	h.reader.set(pair2, ether(300), ether(7))
	h.index(pair1, pair2)

	_, err := h.scheduler.Run(ctx)
	require.NoError(t, err)
	first, err := h.store.PositionsByWallet(ctx, wallet.Hex())
	require.NoError(t, err)

	h.scheduler.Now = func() time.Time { return testNow.Add(2 * time.Hour) }
	_, err = h.scheduler.Run(ctx)
	require.NoError(t, err)
	second, err := h.store.PositionsByWallet(ctx, wallet.Hex())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 2, h.valuers, "each run gets its own valuation stack")
}

func TestRunDiscoveryFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.scheduler.discovery = failingDiscovery{}
	seedPosition(t, h.store, wallet, pair1, "1")

	_, err := h.scheduler.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{pair1.Hex()}, h.positionPairs(t, wallet), "nothing is reconciled without a candidate set")
}

type failingDiscovery struct{}

func (failingDiscovery) Candidates(context.Context) ([]Candidate, error) {
	return nil, errors.New("indexer unavailable")
}

func TestRunSavesGraph(t *testing.T) {
	cache := graphcache.NewFileCache(filepath.Join(t.TempDir(), "graph.json"), time.Hour, nil)
	cache.Now = func() time.Time { return testNow }
	h := newHarness(t, Config{}, WithGraphCache(cache))
	h.reader.set(pair1, ether(100), ether(10))
	h.index(pair1)

	_, err := h.scheduler.Run(context.Background())
	require.NoError(t, err)

	g := cache.Load(context.Background())
	require.NotNil(t, g)
	assert.True(t, graphcache.NewIndex(g).HasPair(tokenA, tokenB))
}

func TestRunLogRecordsPositions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	h := newHarness(t, Config{}, WithRunLog(storage.NewRunLog(path)))
	h.reader.set(pair1, ether(100), ether(10))
	h.index(pair1)

	_, err := h.scheduler.Run(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestUpdateSingle(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.reader.set(pair1, ether(100), ether(10))

	pos, err := h.scheduler.UpdateSingle(ctx, pair1, other)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, other.Hex(), pos.Wallet)
	assert.Equal(t, []string{pair1.Hex()}, h.positionPairs(t, other))

	h.reader.set(pair1, ether(100), new(big.Int))
	pos, err = h.scheduler.UpdateSingle(ctx, pair1, other)
	require.NoError(t, err)
	assert.Nil(t, pos)
	assert.Empty(t, h.positionPairs(t, other))
}

func TestUpdateSingleFailure(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.scheduler.UpdateSingle(context.Background(), pair1, wallet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution reverted")
}

type fakeFactory struct {
	pairs []common.Address
	fail  map[uint64]int
	mu    sync.Mutex
}

func (f *fakeFactory) AllPairsLength(context.Context) (uint64, error) {
	return uint64(len(f.pairs)), nil
}

func (f *fakeFactory) PairAt(_ context.Context, i uint64) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[i] > 0 {
		f.fail[i]--
		return common.Address{}, context.DeadlineExceeded
	}
	return f.pairs[i], nil
}

func TestFactoryDiscovery(t *testing.T) {
	factory := &fakeFactory{
		pairs: []common.Address{pair1, pair2, pair1, pair3},
		fail:  map[uint64]int{1: 2},
	}
	d := FactoryDiscovery{
		Factory: factory,
		Pool:    workpool.New(2),
		Retry:   RetryPolicy{MaxRetries: 3, Delay: time.Millisecond},
	}
	candidates, err := d.Candidates(context.Background())
	require.NoError(t, err)
	got := make([]common.Address, len(candidates))
	for i, c := range candidates {
		got[i] = c.Pair
	}
	assert.Equal(t, []common.Address{pair1, pair2, pair3}, got)

	factory.fail = map[uint64]int{2: 10}
	_, err = d.Candidates(context.Background())
	require.Error(t, err)
}

func TestIndexerDiscoveryGroupsEvents(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.AddIndexedPairs(context.Background(), []model.IndexedPair{
		{ID: "e1", Pair: pair1.Hex(), BlockNumber: 1},
		{ID: "e2", Pair: "not-an-address", BlockNumber: 2},
		{ID: "e3", Pair: pair1.Hex(), BlockNumber: 3},
		{ID: "e4", Pair: pair2.Hex(), BlockNumber: 4},
	}))

	candidates, err := IndexerDiscovery{Source: store}.Candidates(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, Candidate{Pair: pair1, EventIDs: []string{"e1", "e3"}}, candidates[0])
	assert.Equal(t, pair2, candidates[1].Pair)
}
