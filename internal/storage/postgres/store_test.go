package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"positionScope/internal/model"
	"positionScope/internal/storage"
)

const (
	walletA = "0x4444444444444444444444444444444444444444"
	pair1   = "0x1111111111111111111111111111111111111111"
	pair2   = "0x2222222222222222222222222222222222222222"
)

// setupTestStore starts a PostgreSQL container and applies the embedded migrations.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := NewStore(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	require.NoError(t, store.Migrate(ctx))
	// migrations are idempotent
	require.NoError(t, store.Migrate(ctx))
	return store
}

func testPosition(pair, value string, at time.Time) model.Position {
	return model.Position{
		Wallet:      walletA,
		Pair:        pair,
		Token0:      model.Token{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6},
		Token1:      model.Token{Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Symbol: "WETH", Decimals: 18},
		LPBalance:   "10",
		TotalSupply: "100",
		PoolShare:   "0.1",
		TotalValue:  value,
		EstimatedWithdraw: model.EstimatedWithdraw{
			Token0Amount: "1", Token1Amount: "2", Token0Value: value, Token1Value: "0", TotalValue: value,
		},
		UpdatedAt: at,
	}
}

func TestStorePositions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)

	require.NoError(t, store.UpsertPositions(ctx, []model.Position{
		testPosition(pair1, "9", at),
		testPosition(pair2, "100000000000000000000", at),
	}))

	got, err := store.PositionsByWallet(ctx, walletA)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, pair2, got[0].Pair, "numeric ordering, not lexical")
	assert.Equal(t, testPosition(pair1, "9", at), got[1])

	updated := testPosition(pair1, "10", at.Add(time.Hour))
	require.NoError(t, store.UpsertPositions(ctx, []model.Position{updated}))
	pos, err := store.GetPosition(ctx, walletA, pair1)
	require.NoError(t, err)
	assert.Equal(t, updated, pos)

	deleted, err := store.DeleteStalePositions(ctx, walletA, []string{pair1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	require.NoError(t, store.DeletePosition(ctx, walletA, pair1))
	_, err = store.GetPosition(ctx, walletA, pair1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStorePairsAndIndexer(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)

	pair := model.Pair{
		Address:       pair1,
		Token0:        model.Token{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6},
		Token1:        model.Token{Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Symbol: "WETH", Decimals: 18},
		Reserve0:      "1",
		Reserve1:      "2",
		TotalSupply:   "3",
		Price0:        "4000000000000000000",
		Price1:        "5500000000000000000",
		TVL:           "6000000000000000000",
		Price0Display: "4",
		Price1Display: "5.5",
		TVLDisplay:    "6",
		UpdatedAt:     at,
	}
	require.NoError(t, store.UpsertPairs(ctx, []model.Pair{pair}))

	got, err := store.GetPair(ctx, pair1)
	require.NoError(t, err)
	assert.Equal(t, pair, got)

	updatedAt, err := store.PairUpdatedAt(ctx, []string{pair1, pair2})
	require.NoError(t, err)
	assert.Equal(t, map[string]time.Time{pair1: at}, updatedAt)

	_, err = store.GetPair(ctx, pair2)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.AddIndexedPairs(ctx, []model.IndexedPair{
		{ID: "evt-2", Pair: pair2, BlockNumber: 20},
		{ID: "evt-1", Pair: pair1, BlockNumber: 10},
	}))
	require.NoError(t, store.MarkIndexedProcessed(ctx, []string{"evt-1"}))

	events, err := store.IndexedPairs(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.IndexedPair{ID: "evt-1", Pair: pair1, BlockNumber: 10, Processed: true}, events[0])
	assert.False(t, events[1].Processed)
}
