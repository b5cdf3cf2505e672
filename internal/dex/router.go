package dex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"positionScope/internal/chain"
)

// Router quotes swaps through the V2 router.
type Router struct {
	caller  chain.Caller
	address common.Address
}

func NewRouter(caller chain.Caller, address common.Address) *Router {
	return &Router{caller: caller, address: address}
}

// GetAmountsOut returns the constant-product output amount for every hop of path.
func (r *Router) GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	routerABI, err := RouterABI()
	if err != nil {
		return nil, fmt.Errorf("parse router abi: %w", err)
	}
	values, err := callMethod(ctx, r.caller, r.address, routerABI, "getAmountsOut", amountIn, path)
	if err != nil {
		return nil, err
	}
	amounts, ok := values[0].([]*big.Int)
	if !ok {
		return nil, chain.NewCallError("getAmountsOut", r.address, fmt.Errorf("unexpected type %T", values[0]))
	}
	return amounts, nil
}
