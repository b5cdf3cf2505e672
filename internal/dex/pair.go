package dex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"positionScope/internal/chain"
	"positionScope/internal/model"
)

// PairReader reads V2 pair state and LP balances.
type PairReader struct {
	caller chain.Caller
}

func NewPairReader(caller chain.Caller) *PairReader {
	return &PairReader{caller: caller}
}

// ReadPair returns tokens, reserves, total supply and the wallet's LP balance.
func (r *PairReader) ReadPair(ctx context.Context, pair, wallet common.Address) (model.PairState, error) {
	state := model.PairState{Address: pair}

	pairABI, err := PairABI()
	if err != nil {
		return state, fmt.Errorf("parse pair abi: %w", err)
	}

	values, err := callMethod(ctx, r.caller, pair, pairABI, "token0")
	if err != nil {
		return state, err
	}
	if state.Token0, err = asAddress(values[0]); err != nil {
		return state, fmt.Errorf("token0: %w", err)
	}

	values, err = callMethod(ctx, r.caller, pair, pairABI, "token1")
	if err != nil {
		return state, err
	}
	if state.Token1, err = asAddress(values[0]); err != nil {
		return state, fmt.Errorf("token1: %w", err)
	}

	values, err = callMethod(ctx, r.caller, pair, pairABI, "getReserves")
	if err != nil {
		return state, err
	}
	if len(values) < 2 {
		return state, fmt.Errorf("getReserves return size %d", len(values))
	}
	if state.Reserve0, err = asBigInt(values[0]); err != nil {
		return state, fmt.Errorf("reserve0: %w", err)
	}
	if state.Reserve1, err = asBigInt(values[1]); err != nil {
		return state, fmt.Errorf("reserve1: %w", err)
	}

	values, err = callMethod(ctx, r.caller, pair, pairABI, "totalSupply")
	if err != nil {
		return state, err
	}
	if state.TotalSupply, err = asBigInt(values[0]); err != nil {
		return state, fmt.Errorf("totalSupply: %w", err)
	}

	state.Balance, err = r.BalanceOf(ctx, pair, wallet)
	if err != nil {
		return state, err
	}

	return state, nil
}

// BalanceOf returns owner's balance of an ERC20 (LP tokens included).
func (r *PairReader) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	pairABI, err := PairABI()
	if err != nil {
		return nil, fmt.Errorf("parse pair abi: %w", err)
	}
	values, err := callMethod(ctx, r.caller, token, pairABI, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	bal, err := asBigInt(values[0])
	if err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	return bal, nil
}
