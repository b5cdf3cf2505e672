package storage

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"positionScope/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// Store persists pairs, positions and the external factory indexer events.
// Addresses are stored in checksummed form; use Key to normalize lookups.
type Store interface {
	// IndexedPairs returns every pair-creation event, processed or not.
	IndexedPairs(ctx context.Context) ([]model.IndexedPair, error)
	// AddIndexedPairs inserts pair-creation events; known ids are kept as is.
	AddIndexedPairs(ctx context.Context, events []model.IndexedPair) error
	MarkIndexedProcessed(ctx context.Context, ids []string) error

	// PairUpdatedAt returns the last update time of the known pairs among addresses.
	PairUpdatedAt(ctx context.Context, addresses []string) (map[string]time.Time, error)
	GetPair(ctx context.Context, address string) (model.Pair, error)
	ListPairs(ctx context.Context) ([]model.Pair, error)
	UpsertPairs(ctx context.Context, pairs []model.Pair) error

	UpsertPositions(ctx context.Context, positions []model.Position) error
	GetPosition(ctx context.Context, wallet, pair string) (model.Position, error)
	PositionsByWallet(ctx context.Context, wallet string) ([]model.Position, error)
	DeletePosition(ctx context.Context, wallet, pair string) error
	// DeleteStalePositions removes the wallet's positions whose pair is not in keep.
	DeleteStalePositions(ctx context.Context, wallet string, keep []string) (int64, error)
}

// Key normalizes an address to its checksummed form. Non-hex input is
// returned trimmed so it fails validation downstream instead of aliasing.
func Key(address string) string {
	address = strings.TrimSpace(address)
	if common.IsHexAddress(address) {
		return common.HexToAddress(address).Hex()
	}
	return address
}

// ValidAddress reports whether s is a non-zero hex address.
func ValidAddress(s string) bool {
	return common.IsHexAddress(s) && common.HexToAddress(s) != (common.Address{})
}

// SortByValue orders positions by total value, highest first, then by pair.
func SortByValue(positions []model.Position) {
	values := make(map[string]*big.Int, len(positions))
	for _, p := range positions {
		v, ok := new(big.Int).SetString(p.TotalValue, 10)
		if !ok {
			v = new(big.Int)
		}
		values[p.Pair] = v
	}
	sort.SliceStable(positions, func(i, j int) bool {
		if c := values[positions[i].Pair].Cmp(values[positions[j].Pair]); c != 0 {
			return c > 0
		}
		return positions[i].Pair < positions[j].Pair
	})
}
