package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PairState is a point-in-time read of a V2 pair plus one wallet's LP balance.
type PairState struct {
	Address     common.Address
	Token0      common.Address
	Token1      common.Address
	Reserve0    *big.Int
	Reserve1    *big.Int
	TotalSupply *big.Int
	Balance     *big.Int
}

// HasSupply reports whether the pair can be valued at all.
func (s PairState) HasSupply() bool {
	return s.TotalSupply != nil && s.TotalSupply.Sign() > 0
}

// PricePrecision is the fixed-point exponent of every price and target value.
const PricePrecision = 18

// Pair is the persisted pair snapshot. Amounts are base-10 integer strings;
// prices and tvl are PricePrecision fixed point in the target token, with
// truncated decimal renderings alongside.
type Pair struct {
	Address       string    `json:"address"`
	Token0        Token     `json:"token0"`
	Token1        Token     `json:"token1"`
	Reserve0      string    `json:"reserve0"`
	Reserve1      string    `json:"reserve1"`
	TotalSupply   string    `json:"total_supply"`
	Price0        string    `json:"price0"`
	Price1        string    `json:"price1"`
	TVL           string    `json:"tvl"`
	Price0Display string    `json:"price0_display"`
	Price1Display string    `json:"price1_display"`
	TVLDisplay    string    `json:"tvl_display"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IndexedPair is a pair-creation event written by the external factory indexer.
type IndexedPair struct {
	ID          string `json:"id"`
	Pair        string `json:"pair"`
	BlockNumber uint64 `json:"block_number"`
	Processed   bool   `json:"processed"`
}
