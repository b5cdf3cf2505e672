package valuation

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// FormatUnits renders an integer amount with the given number of decimals,
// truncated to at most places fractional digits. Truncation is toward zero so
// the displayed magnitude never exceeds the true value.
func FormatUnits(value *big.Int, decimals uint8, places int32) string {
	if value == nil {
		return "0"
	}
	d := decimal.NewFromBigInt(value, -int32(decimals))
	if places >= 0 && places < int32(decimals) {
		d = d.Truncate(places)
	}
	return d.String()
}

// ParseAmount reads a stored base-10 integer string. Empty means zero.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func ratio(num, den *big.Int, precision int) string {
	if den == nil || den.Sign() == 0 {
		return "0"
	}
	scaled := new(big.Int).Mul(num, pow10(precision))
	scaled.Quo(scaled, den)
	return decimal.NewFromBigInt(scaled, -int32(precision)).String()
}

func pow10(exp int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}
