package valuation

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"positionScope/internal/model"
)

// PricePrecision is the fixed-point exponent of prices and target values.
const PricePrecision = model.PricePrecision

// DisplayPlaces is the number of fractional digits kept in display strings.
const DisplayPlaces = 6

// PriceSource prices tokens in the target token, scaled by 10^PricePrecision.
type PriceSource interface {
	PriceInTarget(ctx context.Context, token common.Address) (*big.Int, error)
}

// TokenSource resolves token metadata.
type TokenSource interface {
	Token(ctx context.Context, address common.Address) (model.Token, error)
}

// TVLMode selects how a pair's total value is derived from its two sides.
type TVLMode string

const (
	TVLSum     TVLMode = "sum"
	TVLMinSide TVLMode = "min-side"
)

func ParseTVLMode(s string) (TVLMode, error) {
	switch mode := TVLMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case "", TVLSum:
		return TVLSum, nil
	case TVLMinSide:
		return TVLMinSide, nil
	default:
		return "", fmt.Errorf("unknown tvl mode %q", s)
	}
}

// Breakdown is the integer form of a full-balance withdrawal.
type Breakdown struct {
	Amount0 *big.Int
	Amount1 *big.Int
	Value0  *big.Int
	Value1  *big.Int
	Total   *big.Int
}

func (b Breakdown) Model() model.EstimatedWithdraw {
	return model.EstimatedWithdraw{
		Token0Amount: b.Amount0.String(),
		Token1Amount: b.Amount1.String(),
		Token0Value:  b.Value0.String(),
		Token1Value:  b.Value1.String(),
		TotalValue:   b.Total.String(),
	}
}

// Valuer turns pair state into positions and pair snapshots. It holds no
// state of its own; caching lives in the price and token sources.
type Valuer struct {
	prices  PriceSource
	tokens  TokenSource
	tvlMode TVLMode
	logger  *zap.Logger

	// Now is the clock stamped on emitted documents.
	Now func() time.Time
}

func NewValuer(prices PriceSource, tokens TokenSource, mode TVLMode, logger *zap.Logger) *Valuer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mode == "" {
		mode = TVLSum
	}
	return &Valuer{
		prices:  prices,
		tokens:  tokens,
		tvlMode: mode,
		logger:  logger,
		Now:     time.Now,
	}
}

// UserAmounts returns reserve_i * balance / totalSupply for both sides.
func UserAmounts(state model.PairState) (*big.Int, *big.Int) {
	return share(state.Reserve0, state.Balance, state.TotalSupply),
		share(state.Reserve1, state.Balance, state.TotalSupply)
}

func share(reserve, balance, supply *big.Int) *big.Int {
	if reserve == nil || balance == nil || supply == nil || supply.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(reserve, balance)
	return out.Quo(out, supply)
}

// TargetValue converts a native token amount into target units at the given
// price.
func TargetValue(amount, price *big.Int, decimals uint8) *big.Int {
	if amount == nil || price == nil {
		return new(big.Int)
	}
	v := new(big.Int).Mul(amount, price)
	return v.Quo(v, pow10(int(decimals)))
}

// ValuePosition values the wallet's LP balance in the pair. It returns nil
// without error when there is no active position: zero balance or zero
// supply.
func (v *Valuer) ValuePosition(ctx context.Context, state model.PairState, wallet common.Address) (*model.Position, error) {
	if state.Balance == nil || state.Balance.Sign() <= 0 || !state.HasSupply() {
		return nil, nil
	}

	token0, token1, err := v.pairTokens(ctx, state)
	if err != nil {
		return nil, err
	}
	price0, price1, err := v.pairPrices(ctx, state)
	if err != nil {
		return nil, err
	}

	amount0, amount1 := UserAmounts(state)
	value0 := TargetValue(amount0, price0, token0.Decimals)
	value1 := TargetValue(amount1, price1, token1.Decimals)
	breakdown := Breakdown{
		Amount0: amount0,
		Amount1: amount1,
		Value0:  value0,
		Value1:  value1,
		Total:   new(big.Int).Add(value0, value1),
	}

	return &model.Position{
		Wallet:            wallet.Hex(),
		Pair:              state.Address.Hex(),
		Token0:            token0,
		Token1:            token1,
		LPBalance:         state.Balance.String(),
		TotalSupply:       state.TotalSupply.String(),
		PoolShare:         ratio(state.Balance, state.TotalSupply, PricePrecision),
		TotalValue:        breakdown.Total.String(),
		EstimatedWithdraw: breakdown.Model(),
		UpdatedAt:         v.Now().UTC(),
	}, nil
}

// ValuePair builds the pair snapshot. A zero-supply pair has no valuation.
func (v *Valuer) ValuePair(ctx context.Context, state model.PairState) (*model.Pair, error) {
	if !state.HasSupply() {
		return nil, nil
	}

	token0, token1, err := v.pairTokens(ctx, state)
	if err != nil {
		return nil, err
	}
	price0, price1, err := v.pairPrices(ctx, state)
	if err != nil {
		return nil, err
	}

	side0 := TargetValue(state.Reserve0, price0, token0.Decimals)
	side1 := TargetValue(state.Reserve1, price1, token1.Decimals)
	tvl := TVL(side0, side1, v.tvlMode)

	return &model.Pair{
		Address:       state.Address.Hex(),
		Token0:        token0,
		Token1:        token1,
		Reserve0:      amountString(state.Reserve0),
		Reserve1:      amountString(state.Reserve1),
		TotalSupply:   state.TotalSupply.String(),
		Price0:        price0.String(),
		Price1:        price1.String(),
		TVL:           tvl.String(),
		Price0Display: FormatUnits(price0, PricePrecision, DisplayPlaces),
		Price1Display: FormatUnits(price1, PricePrecision, DisplayPlaces),
		TVLDisplay:    FormatUnits(tvl, PricePrecision, DisplayPlaces),
		UpdatedAt:     v.Now().UTC(),
	}, nil
}

// TVL combines both sides of a pool. In min-side mode the lesser side is
// doubled, which dampens a manipulated price on one side.
func TVL(side0, side1 *big.Int, mode TVLMode) *big.Int {
	if mode == TVLMinSide {
		lesser := side0
		if side1.Cmp(side0) < 0 {
			lesser = side1
		}
		return new(big.Int).Lsh(lesser, 1)
	}
	return new(big.Int).Add(side0, side1)
}

func (v *Valuer) pairTokens(ctx context.Context, state model.PairState) (model.Token, model.Token, error) {
	token0, err := v.tokens.Token(ctx, state.Token0)
	if err != nil {
		return model.Token{}, model.Token{}, fmt.Errorf("token0 %s: %w", state.Token0.Hex(), err)
	}
	token1, err := v.tokens.Token(ctx, state.Token1)
	if err != nil {
		return model.Token{}, model.Token{}, fmt.Errorf("token1 %s: %w", state.Token1.Hex(), err)
	}
	return token0, token1, nil
}

func (v *Valuer) pairPrices(ctx context.Context, state model.PairState) (*big.Int, *big.Int, error) {
	price0, err := v.prices.PriceInTarget(ctx, state.Token0)
	if err != nil {
		return nil, nil, fmt.Errorf("price token0 %s: %w", state.Token0.Hex(), err)
	}
	price1, err := v.prices.PriceInTarget(ctx, state.Token1)
	if err != nil {
		return nil, nil, fmt.Errorf("price token1 %s: %w", state.Token1.Hex(), err)
	}
	if price0.Sign() == 0 || price1.Sign() == 0 {
		v.logger.Debug("unpriced token in pair",
			zap.String("pair", state.Address.Hex()),
			zap.Bool("token0_priced", price0.Sign() > 0),
			zap.Bool("token1_priced", price1.Sign() > 0),
		)
	}
	return price0, price1, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
