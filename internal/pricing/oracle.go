package pricing

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"positionScope/internal/model"
)

// PricePrecision is the fixed-point exponent of every target-token price.
const PricePrecision = model.PricePrecision

// TokenSource resolves token metadata.
type TokenSource interface {
	Token(ctx context.Context, address common.Address) (model.Token, error)
}

// RouteFinder finds swap routes.
type RouteFinder interface {
	BestRoute(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (Route, error)
}

// Oracle prices tokens in the target token. It memoizes per instance and is
// meant to live for exactly one sync run.
type Oracle struct {
	routes RouteFinder
	tokens TokenSource
	target common.Address
	logger *zap.Logger

	mu     sync.RWMutex
	prices map[common.Address]*big.Int
}

func NewOracle(routes RouteFinder, tokens TokenSource, target common.Address, logger *zap.Logger) *Oracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Oracle{
		routes: routes,
		tokens: tokens,
		target: target,
		logger: logger,
		prices: make(map[common.Address]*big.Int),
	}
}

// Scale returns 10^PricePrecision.
func Scale() *big.Int {
	return pow10(PricePrecision)
}

// PriceInTarget returns target-token units per whole token, scaled by
// 10^PricePrecision. A token with no route prices at zero.
func (o *Oracle) PriceInTarget(ctx context.Context, token common.Address) (*big.Int, error) {
	if token == o.target {
		return Scale(), nil
	}

	o.mu.RLock()
	cached, ok := o.prices[token]
	o.mu.RUnlock()
	if ok {
		return new(big.Int).Set(cached), nil
	}

	price, err := o.fetchPrice(ctx, token)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.prices[token] = price
	o.mu.Unlock()

	return new(big.Int).Set(price), nil
}

func (o *Oracle) fetchPrice(ctx context.Context, token common.Address) (*big.Int, error) {
	meta, err := o.tokens.Token(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("token %s metadata: %w", token.Hex(), err)
	}
	targetMeta, err := o.tokens.Token(ctx, o.target)
	if err != nil {
		return nil, fmt.Errorf("target %s metadata: %w", o.target.Hex(), err)
	}

	route, err := o.routes.BestRoute(ctx, token, o.target, pow10(int(meta.Decimals)))
	if err != nil {
		return nil, err
	}
	if !route.Found() {
		o.logger.Debug("no route to target", zap.String("token", token.Hex()))
		return new(big.Int), nil
	}

	price := new(big.Int).Mul(route.Amount, Scale())
	price.Quo(price, pow10(int(targetMeta.Decimals)))
	return price, nil
}

func pow10(exp int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}
