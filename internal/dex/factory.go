package dex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"positionScope/internal/chain"
)

// Factory reads the V2 factory's pair registry.
type Factory struct {
	caller  chain.Caller
	address common.Address
}

func NewFactory(caller chain.Caller, address common.Address) *Factory {
	return &Factory{caller: caller, address: address}
}

// AllPairsLength returns the number of pairs the factory has created.
func (f *Factory) AllPairsLength(ctx context.Context) (uint64, error) {
	factoryABI, err := FactoryABI()
	if err != nil {
		return 0, fmt.Errorf("parse factory abi: %w", err)
	}
	values, err := callMethod(ctx, f.caller, f.address, factoryABI, "allPairsLength")
	if err != nil {
		return 0, err
	}
	length, err := asBigInt(values[0])
	if err != nil {
		return 0, fmt.Errorf("allPairsLength: %w", err)
	}
	if !length.IsUint64() {
		return 0, fmt.Errorf("allPairsLength overflow: %s", length)
	}
	return length.Uint64(), nil
}

// PairAt returns the i-th pair created by the factory.
func (f *Factory) PairAt(ctx context.Context, index uint64) (common.Address, error) {
	factoryABI, err := FactoryABI()
	if err != nil {
		return common.Address{}, fmt.Errorf("parse factory abi: %w", err)
	}
	values, err := callMethod(ctx, f.caller, f.address, factoryABI, "allPairs", new(big.Int).SetUint64(index))
	if err != nil {
		return common.Address{}, err
	}
	return asAddress(values[0])
}

// GetPair returns the pair for (a, b), or the zero address when none exists.
func (f *Factory) GetPair(ctx context.Context, a, b common.Address) (common.Address, error) {
	factoryABI, err := FactoryABI()
	if err != nil {
		return common.Address{}, fmt.Errorf("parse factory abi: %w", err)
	}
	values, err := callMethod(ctx, f.caller, f.address, factoryABI, "getPair", a, b)
	if err != nil {
		return common.Address{}, err
	}
	return asAddress(values[0])
}
