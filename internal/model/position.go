package model

import "time"

// Position is a wallet's LP holding in one pair, keyed by (Wallet, Pair).
type Position struct {
	Wallet            string            `json:"wallet_address"`
	Pair              string            `json:"pair_address"`
	Token0            Token             `json:"token0"`
	Token1            Token             `json:"token1"`
	LPBalance         string            `json:"lp_balance"`
	TotalSupply       string            `json:"total_supply"`
	PoolShare         string            `json:"pool_share"`
	TotalValue        string            `json:"total_value_in_target"`
	EstimatedWithdraw EstimatedWithdraw `json:"estimated_withdraw"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// EstimatedWithdraw is the full-balance withdrawal breakdown. Token amounts are
// in native units; values are 18-decimal fixed point in the target token.
type EstimatedWithdraw struct {
	Token0Amount string `json:"token0_amount"`
	Token1Amount string `json:"token1_amount"`
	Token0Value  string `json:"token0_value_in_target"`
	Token1Value  string `json:"token1_value_in_target"`
	TotalValue   string `json:"total_value_in_target"`
}
