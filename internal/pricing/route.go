package pricing

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"positionScope/internal/chain"
)

// Quoter returns router output amounts for every hop of a path.
type Quoter interface {
	GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error)
}

// PairLocator finds the pair for two tokens; the zero address means none.
type PairLocator interface {
	GetPair(ctx context.Context, a, b common.Address) (common.Address, error)
}

// PairIndex answers from a precomputed token graph. It may be stale, so a
// negative answer is never trusted.
type PairIndex interface {
	HasPair(a, b common.Address) bool
}

// Route is the outcome of a route search. Path is empty iff Amount is zero.
type Route struct {
	Amount *big.Int
	Path   []common.Address
}

// Found reports whether the route yields a positive amount.
func (r Route) Found() bool {
	return r.Amount != nil && r.Amount.Sign() > 0 && len(r.Path) > 0
}

func noRoute() Route {
	return Route{Amount: new(big.Int)}
}

// ResolverConfig configures route discovery.
type ResolverConfig struct {
	// PriorityTokens are tried in order as the single intermediate hop.
	PriorityTokens []common.Address
	// PrecheckPairs looks up both hop pairs before spending a router quote.
	PrecheckPairs bool
	// Index, when set, lets known pairs skip the factory lookup.
	Index PairIndex
}

// Resolver finds a swap path between two tokens: direct first, then through
// the first priority token that yields a positive amount.
type Resolver struct {
	quoter   Quoter
	locator  PairLocator
	priority []common.Address
	precheck bool
	index    PairIndex
	logger   *zap.Logger
}

func NewResolver(quoter Quoter, locator PairLocator, cfg ResolverConfig, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	priority := make([]common.Address, len(cfg.PriorityTokens))
	copy(priority, cfg.PriorityTokens)
	return &Resolver{
		quoter:   quoter,
		locator:  locator,
		priority: priority,
		precheck: cfg.PrecheckPairs && locator != nil,
		index:    cfg.Index,
		logger:   logger,
	}
}

// BestRoute returns the output amount and path for swapping amountIn of
// tokenIn into tokenOut. No route is a zero Route, not an error; errors are
// only returned for transient chain failures and cancellation.
func (r *Resolver) BestRoute(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (Route, error) {
	if amountIn == nil {
		amountIn = new(big.Int)
	}
	if tokenIn == tokenOut {
		return Route{Amount: new(big.Int).Set(amountIn), Path: []common.Address{tokenIn}}, nil
	}
	if amountIn.Sign() <= 0 {
		return noRoute(), nil
	}

	direct := []common.Address{tokenIn, tokenOut}
	out, err := r.quote(ctx, amountIn, direct)
	if err != nil {
		return Route{}, err
	}
	if out.Sign() > 0 {
		return Route{Amount: out, Path: direct}, nil
	}

	for _, hop := range r.priority {
		if hop == tokenIn || hop == tokenOut {
			continue
		}
		ok, err := r.hopExists(ctx, tokenIn, hop, tokenOut)
		if err != nil {
			return Route{}, err
		}
		if !ok {
			continue
		}

		path := []common.Address{tokenIn, hop, tokenOut}
		out, err := r.quote(ctx, amountIn, path)
		if err != nil {
			return Route{}, err
		}
		if out.Sign() > 0 {
			return Route{Amount: out, Path: path}, nil
		}
	}

	return noRoute(), nil
}

func (r *Resolver) quote(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	amounts, err := r.quoter.GetAmountsOut(ctx, amountIn, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if chain.IsTransient(err) {
			return nil, err
		}
		r.logger.Debug("quote failed", zap.Stringers("path", path), zap.Error(err))
		return new(big.Int), nil
	}
	if len(amounts) != len(path) || amounts[len(amounts)-1] == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(amounts[len(amounts)-1]), nil
}

func (r *Resolver) hopExists(ctx context.Context, tokenIn, hop, tokenOut common.Address) (bool, error) {
	if !r.precheck {
		return true, nil
	}
	for _, leg := range [][2]common.Address{{tokenIn, hop}, {hop, tokenOut}} {
		ok, err := r.pairExists(ctx, leg[0], leg[1])
		if err != nil || !ok {
			return ok, err
		}
	}
	return true, nil
}

func (r *Resolver) pairExists(ctx context.Context, a, b common.Address) (bool, error) {
	if r.index != nil && r.index.HasPair(a, b) {
		return true, nil
	}
	pair, err := r.locator.GetPair(ctx, a, b)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if chain.IsTransient(err) {
			return false, err
		}
		// The lookup is only an optimization; let the quote decide.
		return true, nil
	}
	return pair != (common.Address{}), nil
}
