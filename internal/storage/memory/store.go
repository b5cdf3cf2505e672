package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"positionScope/internal/model"
	"positionScope/internal/storage"
)

type positionKey struct {
	wallet string
	pair   string
}

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu        sync.RWMutex
	indexed   map[string]model.IndexedPair
	pairs     map[string]model.Pair
	positions map[positionKey]model.Position
}

var _ storage.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		indexed:   make(map[string]model.IndexedPair),
		pairs:     make(map[string]model.Pair),
		positions: make(map[positionKey]model.Position),
	}
}

// AddIndexedPairs records pair-creation events. Known ids are left untouched.
func (s *Store) AddIndexedPairs(_ context.Context, events []model.IndexedPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		if _, ok := s.indexed[e.ID]; ok {
			continue
		}
		e.Pair = storage.Key(e.Pair)
		s.indexed[e.ID] = e
	}
	return nil
}

func (s *Store) IndexedPairs(_ context.Context) ([]model.IndexedPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.IndexedPair, 0, len(s.indexed))
	for _, e := range s.indexed {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) MarkIndexedProcessed(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if e, ok := s.indexed[id]; ok {
			e.Processed = true
			s.indexed[id] = e
		}
	}
	return nil
}

func (s *Store) PairUpdatedAt(_ context.Context, addresses []string) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]time.Time)
	for _, addr := range addresses {
		key := storage.Key(addr)
		if p, ok := s.pairs[key]; ok {
			out[key] = p.UpdatedAt
		}
	}
	return out, nil
}

func (s *Store) GetPair(_ context.Context, address string) (model.Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pairs[storage.Key(address)]
	if !ok {
		return model.Pair{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *Store) ListPairs(_ context.Context) ([]model.Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Pair, 0, len(s.pairs))
	for _, p := range s.pairs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (s *Store) UpsertPairs(_ context.Context, pairs []model.Pair) error {
	for _, p := range pairs {
		if p.Address == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range pairs {
		p.Address = storage.Key(p.Address)
		s.pairs[p.Address] = p
	}
	return nil
}

func (s *Store) UpsertPositions(_ context.Context, positions []model.Position) error {
	for _, p := range positions {
		if p.Wallet == "" || p.Pair == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range positions {
		p.Wallet, p.Pair = storage.Key(p.Wallet), storage.Key(p.Pair)
		s.positions[positionKey{p.Wallet, p.Pair}] = p
	}
	return nil
}

func (s *Store) GetPosition(_ context.Context, wallet, pair string) (model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[positionKey{storage.Key(wallet), storage.Key(pair)}]
	if !ok {
		return model.Position{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *Store) PositionsByWallet(_ context.Context, wallet string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wallet = storage.Key(wallet)
	var out []model.Position
	for k, p := range s.positions {
		if k.wallet == wallet {
			out = append(out, p)
		}
	}
	storage.SortByValue(out)
	return out, nil
}

func (s *Store) DeletePosition(_ context.Context, wallet, pair string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, positionKey{storage.Key(wallet), storage.Key(pair)})
	return nil
}

func (s *Store) DeleteStalePositions(_ context.Context, wallet string, keep []string) (int64, error) {
	wallet = storage.Key(wallet)
	keepSet := make(map[string]struct{}, len(keep))
	for _, p := range keep {
		keepSet[storage.Key(p)] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for k := range s.positions {
		if k.wallet != wallet {
			continue
		}
		if _, ok := keepSet[k.pair]; !ok {
			delete(s.positions, k)
			deleted++
		}
	}
	return deleted, nil
}
