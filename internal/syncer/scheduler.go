package syncer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"positionScope/internal/graphcache"
	"positionScope/internal/model"
	"positionScope/internal/pricing"
	"positionScope/internal/storage"
	"positionScope/internal/workpool"
)

const (
	DefaultBatchSize    = 10
	DefaultBatchTimeout = 2 * time.Minute
	DefaultFreshness    = time.Hour
)

// UnitState is the lifecycle state of one pair within a run.
type UnitState string

const (
	StatePending   UnitState = "pending"
	StateInFlight  UnitState = "in_flight"
	StateRetrying  UnitState = "retrying"
	StateCommitted UnitState = "committed"
	StateSkipped   UnitState = "skipped"
	StateFailed    UnitState = "failed"

	// StateFresh labels candidates left out of a run because their stored
	// snapshot is younger than the freshness window. They are never scheduled.
	StateFresh UnitState = "fresh"
)

// PairReader reads a pair's on-chain state together with a wallet's LP balance.
type PairReader interface {
	ReadPair(ctx context.Context, pair, wallet common.Address) (model.PairState, error)
}

// Valuer converts pair state into documents.
type Valuer interface {
	ValuePosition(ctx context.Context, state model.PairState, wallet common.Address) (*model.Position, error)
	ValuePair(ctx context.Context, state model.PairState) (*model.Pair, error)
}

// ValuerFactory builds the valuation stack for one run. Every call must return
// fresh memo caches; index may be nil.
type ValuerFactory func(index pricing.PairIndex) Valuer

// Config controls a Scheduler.
type Config struct {
	Wallet       common.Address
	Freshness    time.Duration
	BatchSize    int
	BatchTimeout time.Duration
	Retry        RetryPolicy
}

// Scheduler runs incremental valuation passes and reconciles the store.
type Scheduler struct {
	cfg       Config
	store     storage.Store
	discovery Discovery
	reader    PairReader
	newValuer ValuerFactory
	graph     graphcache.Cache
	runLog    *storage.RunLog
	metrics   *Metrics
	logger    *zap.Logger

	// Now is the scheduler clock.
	Now func() time.Time
}

// Option configures optional Scheduler collaborators.
type Option func(*Scheduler)

func WithGraphCache(c graphcache.Cache) Option {
	return func(s *Scheduler) { s.graph = c }
}

func WithRunLog(l *storage.RunLog) Option {
	return func(s *Scheduler) { s.runLog = l }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func NewScheduler(cfg Config, store storage.Store, discovery Discovery, reader PairReader, newValuer ValuerFactory, logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}
	s := &Scheduler{
		cfg:       cfg,
		store:     store,
		discovery: discovery,
		reader:    reader,
		newValuer: newValuer,
		graph:     graphcache.Nop{},
		logger:    logger,
		Now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UnitResult is the outcome of one pair.
type UnitResult struct {
	Pair     common.Address
	State    UnitState
	Attempts int
	Position *model.Position
	PairDoc  *model.Pair
	// ZeroBalance marks a committed pair where the wallet holds nothing.
	ZeroBalance bool
	Err         error
	eventIDs    []string
}

// Report summarizes a full run.
type Report struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	Candidates  int
	Fresh       int
	Committed   int
	Skipped     int
	Failed      int
	Positions   int
	Deleted     int64
	TotalValue  *big.Int
	BatchErrors []string
	Results     []UnitResult
}

// TotalValueFloat is the total value as a float, for gauges only.
func (r Report) TotalValueFloat() float64 {
	if r.TotalValue == nil {
		return 0
	}
	return decimal.NewFromBigInt(r.TotalValue, -pricing.PricePrecision).InexactFloat64()
}

// Run performs one full sync pass for the configured wallet. Only discovery
// failures and cancellation of ctx are returned as errors; unit failures,
// batch timeouts and store write failures are logged and reported.
func (s *Scheduler) Run(ctx context.Context) (Report, error) {
	started := s.Now().UTC()
	report := Report{
		RunID:      fmt.Sprintf("run-%d", started.UnixNano()),
		StartedAt:  started,
		TotalValue: new(big.Int),
	}
	logger := s.logger.With(zap.String("run", report.RunID), zap.String("wallet", s.cfg.Wallet.Hex()))

	candidates, err := s.discovery.Candidates(ctx)
	if err != nil {
		return report, fmt.Errorf("discover pairs: %w", err)
	}
	report.Candidates = len(candidates)

	work := s.stale(ctx, candidates, logger)
	report.Fresh = len(candidates) - len(work)
	logger.Info("sync run started",
		zap.Int("candidates", len(candidates)),
		zap.Int("stale", len(work)),
		zap.Int("batch_size", s.cfg.BatchSize),
	)

	valuer := s.newValuer(graphcache.NewIndex(s.graph.Load(ctx)))
	pool := workpool.New(s.cfg.BatchSize)

	batches, err := workpool.Split(len(work), s.cfg.BatchSize)
	if err != nil {
		return report, err
	}
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		results, err := s.runBatch(ctx, pool, valuer, work[batch.From:batch.To])
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			logger.Error("batch failed", zap.Int("batch", i), zap.Error(err))
			report.BatchErrors = append(report.BatchErrors, fmt.Sprintf("batch %d: %v", i, err))
			for n := len(results); n < batch.Len(); n++ {
				report.Failed++
				s.metrics.unit(StateFailed)
			}
		}
		report.Results = append(report.Results, results...)
	}

	s.reconcile(ctx, candidates, &report, logger)

	report.FinishedAt = s.Now().UTC()
	s.metrics.run(report)
	logger.Info("sync run finished",
		zap.Int("committed", report.Committed),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("fresh", report.Fresh),
		zap.Int("positions", report.Positions),
		zap.Int64("deleted", report.Deleted),
		zap.String("total_value", report.TotalValue.String()),
		zap.Duration("elapsed", report.FinishedAt.Sub(started)),
	)
	return report, nil
}

// stale drops candidates updated within the freshness window.
func (s *Scheduler) stale(ctx context.Context, candidates []Candidate, logger *zap.Logger) []Candidate {
	if s.cfg.Freshness <= 0 || len(candidates) == 0 {
		return candidates
	}
	keys := make([]string, len(candidates))
	for i, c := range candidates {
		keys[i] = c.Pair.Hex()
	}
	updated, err := s.store.PairUpdatedAt(ctx, keys)
	if err != nil {
		logger.Warn("read pair freshness, syncing all candidates", zap.Error(err))
		return candidates
	}

	now := s.Now()
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if at, ok := updated[c.Pair.Hex()]; ok && now.Sub(at) < s.cfg.Freshness {
			s.metrics.unit(StateFresh)
			continue
		}
		out = append(out, c)
	}
	return out
}

// collector gathers unit results until it is closed by a batch timeout.
type collector struct {
	mu      sync.Mutex
	closed  bool
	results []UnitResult
}

// add records r and reports whether it was accepted. Results arriving after
// close belong to abandoned units and are dropped.
func (c *collector) add(r UnitResult) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.results = append(c.results, r)
	return true
}

func (c *collector) close() []UnitResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	out := make([]UnitResult, len(c.results))
	copy(out, c.results)
	return out
}

var errBatchTimeout = errors.New("batch timed out")

// runBatch processes one batch concurrently and races it against the batch
// timeout. On timeout the units still in flight are abandoned and the results
// gathered so far are returned with errBatchTimeout.
func (s *Scheduler) runBatch(ctx context.Context, pool *workpool.Pool, valuer Valuer, units []Candidate) ([]UnitResult, error) {
	started := time.Now()
	bctx, cancel := context.WithTimeout(ctx, s.cfg.BatchTimeout)
	defer cancel()

	col := &collector{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pool.Each(bctx, len(units), func(ctx context.Context, i int) error {
			res := s.processUnit(ctx, valuer, units[i], s.cfg.Wallet)
			if col.add(res) {
				s.metrics.unit(res.State)
			}
			return nil
		})
	}()

	select {
	case <-done:
		s.metrics.batch(time.Since(started).Seconds(), false)
		return col.close(), nil
	case <-bctx.Done():
	}

	select {
	case <-done:
		s.metrics.batch(time.Since(started).Seconds(), false)
		return col.close(), nil
	default:
	}
	results := col.close()
	s.metrics.batch(time.Since(started).Seconds(), true)
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, fmt.Errorf("%w after %s: %d of %d units finished",
		errBatchTimeout, s.cfg.BatchTimeout, len(results), len(units))
}

// processUnit drives one pair from InFlight to a final state.
func (s *Scheduler) processUnit(ctx context.Context, valuer Valuer, unit Candidate, wallet common.Address) UnitResult {
	res := UnitResult{Pair: unit.Pair, State: StatePending, eventIDs: unit.EventIDs}
	logger := s.logger.With(zap.String("pair", unit.Pair.Hex()), zap.String("wallet", wallet.Hex()))

	policy := s.cfg.Retry
	policy.OnRetry = func(err error, attempt int) {
		res.State = StateRetrying
		s.metrics.retry()
		logRetry(logger)(err, attempt)
	}

	attempts, err := policy.Do(ctx, func(ctx context.Context) error {
		res.State = StateInFlight
		state, err := s.reader.ReadPair(ctx, unit.Pair, wallet)
		if err != nil {
			return err
		}
		if !state.HasSupply() {
			res.State = StateSkipped
			return nil
		}
		pairDoc, err := valuer.ValuePair(ctx, state)
		if err != nil {
			return err
		}
		position, err := valuer.ValuePosition(ctx, state, wallet)
		if err != nil {
			return err
		}
		res.PairDoc = pairDoc
		res.Position = position
		res.ZeroBalance = position == nil
		res.State = StateCommitted
		return nil
	})
	res.Attempts = attempts
	if err != nil {
		res.State = StateFailed
		res.Err = err
		logger.Warn("pair failed", zap.Int("attempts", attempts), zap.Error(err))
	} else if res.State == StateSkipped {
		logger.Debug("pair has zero supply")
	}
	return res
}

// reconcile writes the run's results. Positions are upserted, committed
// zero-balance and zero-supply units have their position removed, and
// positions whose pair left the candidate set are deleted. Failed units keep
// whatever was stored before.
func (s *Scheduler) reconcile(ctx context.Context, candidates []Candidate, report *Report, logger *zap.Logger) {
	var (
		pairs     []model.Pair
		positions []model.Position
		cleared   []common.Address
		processed []string
	)
	for _, r := range report.Results {
		switch r.State {
		case StateCommitted:
			report.Committed++
			processed = append(processed, r.eventIDs...)
			if r.PairDoc != nil {
				pairs = append(pairs, *r.PairDoc)
			}
			if r.Position != nil {
				positions = append(positions, *r.Position)
				if v, ok := new(big.Int).SetString(r.Position.TotalValue, 10); ok {
					report.TotalValue.Add(report.TotalValue, v)
				}
			} else {
				cleared = append(cleared, r.Pair)
			}
		case StateSkipped:
			report.Skipped++
			cleared = append(cleared, r.Pair)
		default:
			report.Failed++
		}
	}
	report.Positions = len(positions)

	if err := s.store.UpsertPairs(ctx, pairs); err != nil {
		s.persistFailed(logger, "upsert_pairs", err)
	}
	if err := s.store.UpsertPositions(ctx, positions); err != nil {
		s.persistFailed(logger, "upsert_positions", err)
	}
	for _, pair := range cleared {
		if err := s.store.DeletePosition(ctx, s.cfg.Wallet.Hex(), pair.Hex()); err != nil {
			s.persistFailed(logger, "delete_position", err)
		}
	}

	keep := make([]string, len(candidates))
	for i, c := range candidates {
		keep[i] = c.Pair.Hex()
	}
	deleted, err := s.store.DeleteStalePositions(ctx, s.cfg.Wallet.Hex(), keep)
	if err != nil {
		s.persistFailed(logger, "delete_stale", err)
	}
	report.Deleted = deleted

	if err := s.store.MarkIndexedProcessed(ctx, processed); err != nil {
		s.persistFailed(logger, "mark_processed", err)
	}
	if err := s.runLog.Append(report.RunID, positions); err != nil {
		s.persistFailed(logger, "run_log", err)
	}

	if len(pairs) > 0 {
		s.saveGraph(ctx, logger)
	}
}

func (s *Scheduler) saveGraph(ctx context.Context, logger *zap.Logger) {
	all, err := s.store.ListPairs(ctx)
	if err != nil {
		s.persistFailed(logger, "list_pairs", err)
		return
	}
	if err := s.graph.Save(ctx, graphcache.Build(all, s.Now())); err != nil {
		s.persistFailed(logger, "graph_cache", err)
	}
}

func (s *Scheduler) persistFailed(logger *zap.Logger, op string, err error) {
	s.metrics.persistError(op)
	logger.Error("persistence failed", zap.String("op", op), zap.Error(err))
}

// UpdateSingle refreshes one (pair, wallet) position without a scan. It
// returns nil when the position was removed because the balance is zero.
func (s *Scheduler) UpdateSingle(ctx context.Context, pair, wallet common.Address) (*model.Position, error) {
	valuer := s.newValuer(graphcache.NewIndex(s.graph.Load(ctx)))
	res := s.processUnit(ctx, valuer, Candidate{Pair: pair}, wallet)
	s.metrics.unit(res.State)
	if res.State == StateFailed {
		return nil, res.Err
	}

	if res.PairDoc != nil {
		if err := s.store.UpsertPairs(ctx, []model.Pair{*res.PairDoc}); err != nil {
			s.persistFailed(s.logger, "upsert_pairs", err)
		}
	}
	if res.Position == nil {
		if err := s.store.DeletePosition(ctx, wallet.Hex(), pair.Hex()); err != nil {
			return nil, fmt.Errorf("delete position: %w", err)
		}
		return nil, nil
	}
	if err := s.store.UpsertPositions(ctx, []model.Position{*res.Position}); err != nil {
		return nil, fmt.Errorf("upsert position: %w", err)
	}
	return res.Position, nil
}
