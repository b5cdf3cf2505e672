package valuation

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"positionScope/internal/model"
)

// FullBasisPoints is a 100% withdrawal.
const FullBasisPoints = 10_000

var ErrInvalidPercent = errors.New("percent must be between 0 and 100")

// ParsePercent converts a percentage such as "25" or "12.5" into basis points.
// Precision finer than one basis point is truncated.
func ParsePercent(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPercent, s)
	}
	bps := d.Mul(decimal.NewFromInt(100)).Truncate(0)
	if bps.IsNegative() || bps.GreaterThan(decimal.NewFromInt(FullBasisPoints)) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPercent, s)
	}
	return bps.IntPart(), nil
}

// ScaleWithdraw linearly scales a full-balance breakdown to bps basis points.
// The total is re-derived from the scaled sides so it stays their exact sum.
func ScaleWithdraw(w model.EstimatedWithdraw, bps int64) (model.EstimatedWithdraw, error) {
	if bps < 0 || bps > FullBasisPoints {
		return model.EstimatedWithdraw{}, ErrInvalidPercent
	}
	fields := []string{w.Token0Amount, w.Token1Amount, w.Token0Value, w.Token1Value}
	scaled := make([]*big.Int, len(fields))
	for i, field := range fields {
		v, err := ParseAmount(field)
		if err != nil {
			return model.EstimatedWithdraw{}, err
		}
		v.Mul(v, big.NewInt(bps))
		scaled[i] = v.Quo(v, big.NewInt(FullBasisPoints))
	}
	return Breakdown{
		Amount0: scaled[0],
		Amount1: scaled[1],
		Value0:  scaled[2],
		Value1:  scaled[3],
		Total:   new(big.Int).Add(scaled[2], scaled[3]),
	}.Model(), nil
}
