package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"positionScope/internal/model"
	"positionScope/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store provides Postgres persistence for pairs, positions and indexer events.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate applies the embedded schema files in lexical order. They are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		data, err := fs.ReadFile(migrationsFS, "migrations/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if _, err := s.pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}
	return nil
}

// AddIndexedPairs inserts pair-creation events. Known ids are left untouched
// so a rescan never resets the processed flag.
func (s *Store) AddIndexedPairs(ctx context.Context, events []model.IndexedPair) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(`
			INSERT INTO factory_indexer (id, pair_address, block_number, processed)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING
		`, e.ID, storage.Key(e.Pair), int64(e.BlockNumber), e.Processed)
	}
	return s.sendBatch(ctx, batch, len(events))
}

func (s *Store) IndexedPairs(ctx context.Context) ([]model.IndexedPair, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, pair_address, block_number, processed
		FROM factory_indexer
		ORDER BY block_number, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.IndexedPair
	for rows.Next() {
		var (
			e     model.IndexedPair
			block int64
		)
		if err := rows.Scan(&e.ID, &e.Pair, &block, &e.Processed); err != nil {
			return nil, err
		}
		e.BlockNumber = uint64(block)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) MarkIndexedProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE factory_indexer SET processed = TRUE WHERE id = ANY($1)`, ids)
	return err
}

func (s *Store) PairUpdatedAt(ctx context.Context, addresses []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time)
	if len(addresses) == 0 {
		return out, nil
	}
	keys := make([]string, len(addresses))
	for i, a := range addresses {
		keys[i] = storage.Key(a)
	}

	rows, err := s.pool.Query(ctx, `SELECT pair_address, updated_at FROM pairs WHERE pair_address = ANY($1)`, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			addr string
			at   time.Time
		)
		if err := rows.Scan(&addr, &at); err != nil {
			return nil, err
		}
		out[addr] = at.UTC()
	}
	return out, rows.Err()
}

const pairColumns = `pair_address, token0, token1, reserve0, reserve1, total_supply, price0, price1, tvl, price0_display, price1_display, tvl_display, updated_at`

func scanPair(row pgx.Row) (model.Pair, error) {
	var p model.Pair
	err := row.Scan(&p.Address, &p.Token0, &p.Token1, &p.Reserve0, &p.Reserve1,
		&p.TotalSupply, &p.Price0, &p.Price1, &p.TVL,
		&p.Price0Display, &p.Price1Display, &p.TVLDisplay, &p.UpdatedAt)
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, err
}

func (s *Store) GetPair(ctx context.Context, address string) (model.Pair, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pairColumns+` FROM pairs WHERE pair_address = $1`, storage.Key(address))
	p, err := scanPair(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Pair{}, storage.ErrNotFound
		}
		return model.Pair{}, err
	}
	return p, nil
}

func (s *Store) ListPairs(ctx context.Context) ([]model.Pair, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pairColumns+` FROM pairs ORDER BY pair_address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Pair
	for rows.Next() {
		p, err := scanPair(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertPairs inserts or updates pair snapshots.
func (s *Store) UpsertPairs(ctx context.Context, pairs []model.Pair) error {
	if len(pairs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range pairs {
		if p.Address == "" {
			return storage.ErrInvalidInput
		}
		batch.Queue(`
			INSERT INTO pairs (`+pairColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			ON CONFLICT (pair_address)
			DO UPDATE SET
				token0 = EXCLUDED.token0,
				token1 = EXCLUDED.token1,
				reserve0 = EXCLUDED.reserve0,
				reserve1 = EXCLUDED.reserve1,
				total_supply = EXCLUDED.total_supply,
				price0 = EXCLUDED.price0,
				price1 = EXCLUDED.price1,
				tvl = EXCLUDED.tvl,
				price0_display = EXCLUDED.price0_display,
				price1_display = EXCLUDED.price1_display,
				tvl_display = EXCLUDED.tvl_display,
				updated_at = EXCLUDED.updated_at
		`,
			storage.Key(p.Address),
			p.Token0,
			p.Token1,
			p.Reserve0,
			p.Reserve1,
			p.TotalSupply,
			p.Price0,
			p.Price1,
			p.TVL,
			p.Price0Display,
			p.Price1Display,
			p.TVLDisplay,
			p.UpdatedAt,
		)
	}
	return s.sendBatch(ctx, batch, len(pairs))
}

const positionColumns = `wallet_address, pair_address, token0, token1, lp_balance, total_supply, pool_share, total_value, estimated_withdraw, updated_at`

func scanPosition(row pgx.Row) (model.Position, error) {
	var p model.Position
	err := row.Scan(&p.Wallet, &p.Pair, &p.Token0, &p.Token1, &p.LPBalance, &p.TotalSupply,
		&p.PoolShare, &p.TotalValue, &p.EstimatedWithdraw, &p.UpdatedAt)
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, err
}

// UpsertPositions inserts or updates positions keyed by (wallet, pair).
func (s *Store) UpsertPositions(ctx context.Context, positions []model.Position) error {
	if len(positions) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range positions {
		if p.Wallet == "" || p.Pair == "" {
			return storage.ErrInvalidInput
		}
		batch.Queue(`
			INSERT INTO positions (`+positionColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (wallet_address, pair_address)
			DO UPDATE SET
				token0 = EXCLUDED.token0,
				token1 = EXCLUDED.token1,
				lp_balance = EXCLUDED.lp_balance,
				total_supply = EXCLUDED.total_supply,
				pool_share = EXCLUDED.pool_share,
				total_value = EXCLUDED.total_value,
				estimated_withdraw = EXCLUDED.estimated_withdraw,
				updated_at = EXCLUDED.updated_at
		`,
			storage.Key(p.Wallet),
			storage.Key(p.Pair),
			p.Token0,
			p.Token1,
			p.LPBalance,
			p.TotalSupply,
			p.PoolShare,
			p.TotalValue,
			p.EstimatedWithdraw,
			p.UpdatedAt,
		)
	}
	return s.sendBatch(ctx, batch, len(positions))
}

func (s *Store) GetPosition(ctx context.Context, wallet, pair string) (model.Position, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+positionColumns+` FROM positions
		WHERE wallet_address = $1 AND pair_address = $2
	`, storage.Key(wallet), storage.Key(pair))
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Position{}, storage.ErrNotFound
		}
		return model.Position{}, err
	}
	return p, nil
}

func (s *Store) PositionsByWallet(ctx context.Context, wallet string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+positionColumns+` FROM positions
		WHERE wallet_address = $1
		ORDER BY total_value::numeric DESC, pair_address
	`, storage.Key(wallet))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeletePosition(ctx context.Context, wallet, pair string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE wallet_address = $1 AND pair_address = $2`,
		storage.Key(wallet), storage.Key(pair))
	return err
}

func (s *Store) DeleteStalePositions(ctx context.Context, wallet string, keep []string) (int64, error) {
	keys := make([]string, len(keep))
	for i, k := range keep {
		keys[i] = storage.Key(k)
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM positions
		WHERE wallet_address = $1 AND NOT (pair_address = ANY($2))
	`, storage.Key(wallet), keys)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch, n int) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
