package pricing

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"positionScope/internal/model"
)

var (
	tokenA = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	tokenB = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	tokenP = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	tokenQ = common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	target = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
)

type hop struct{ from, to common.Address }

// fakeAMM quotes each hop as amount*num/den and reverts on unknown hops.
type fakeAMM struct {
	mu        sync.Mutex
	rates     map[hop][2]int64
	quotes    int
	lookups   int
	quoteErr  error
	lookupErr error
}

func newFakeAMM() *fakeAMM {
	return &fakeAMM{rates: make(map[hop][2]int64)}
}

func (f *fakeAMM) addPair(a, b common.Address, num, den int64) {
	f.rates[hop{a, b}] = [2]int64{num, den}
	f.rates[hop{b, a}] = [2]int64{den, num}
}

func (f *fakeAMM) GetAmountsOut(_ context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes++
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	amounts := []*big.Int{new(big.Int).Set(amountIn)}
	cur := new(big.Int).Set(amountIn)
	for i := 0; i+1 < len(path); i++ {
		rate, ok := f.rates[hop{path[i], path[i+1]}]
		if !ok {
			return nil, errors.New("execution reverted")
		}
		cur = new(big.Int).Mul(cur, big.NewInt(rate[0]))
		cur.Quo(cur, big.NewInt(rate[1]))
		amounts = append(amounts, cur)
	}
	return amounts, nil
}

func (f *fakeAMM) GetPair(_ context.Context, a, b common.Address) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.lookupErr != nil {
		return common.Address{}, f.lookupErr
	}
	if _, ok := f.rates[hop{a, b}]; ok {
		return common.BigToAddress(big.NewInt(int64(len(f.rates)))), nil
	}
	return common.Address{}, nil
}

type fakeIndex map[hop]bool

func (f fakeIndex) HasPair(a, b common.Address) bool {
	return f[hop{a, b}] || f[hop{b, a}]
}

type fakeTokens struct {
	mu       sync.Mutex
	decimals map[common.Address]uint8
	calls    int
}

func (f *fakeTokens) Token(_ context.Context, address common.Address) (model.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	dec, ok := f.decimals[address]
	if !ok {
		return model.Token{}, fmt.Errorf("unknown token %s", address.Hex())
	}
	return model.Token{Address: address.Hex(), Decimals: dec}, nil
}
