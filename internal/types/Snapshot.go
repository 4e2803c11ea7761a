/*

This is a custom type for portfolio snapshots which contains all the state
needed for deviation detection and trade planning within one operation.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// PriceScale is the fixed-point scale for USD prices and USD values (18 decimals).
var PriceScale = sdkmath.NewInt(1_000_000_000_000_000_000)

// PortfolioSnapshot is an immutable capture of balances, prices and total USD
// value. It is built once per operation and reused across the deviation check
// and the trade planner to avoid duplicate oracle reads.
type PortfolioSnapshot struct {
	Balances  []sdkmath.Int `json:"balances"`  // per basket token, raw token units
	Prices    []sdkmath.Int `json:"prices"`    // per basket token, USD at PriceScale
	TotalUSD  sdkmath.Int   `json:"total_usd"` // sum of balance*price/PriceScale
	Timestamp time.Time     `json:"timestamp"`
}

// TokenUSD returns the USD value of the i-th basket token at snapshot time.
func (s PortfolioSnapshot) TokenUSD(i int) sdkmath.Int {
	return s.Balances[i].Mul(s.Prices[i]).Quo(PriceScale)
}

// TokenDelta is the signed USD distance of one basket token from its target.
// Ephemeral, produced and consumed within one rebalance pass.
type TokenDelta struct {
	Index int         `json:"index"` // index into the basket
	USD   sdkmath.Int `json:"usd"`   // currentUSD - targetUSD
}

// PlannedTrade is one leg produced by the greedy matcher.
type PlannedTrade struct {
	SellIndex int            `json:"sell_index"`
	BuyIndex  int            `json:"buy_index"`
	SellToken common.Address `json:"sell_token"`
	BuyToken  common.Address `json:"buy_token"`
	USDValue  sdkmath.Int    `json:"usd_value"` // matched value at PriceScale
	AmountIn  sdkmath.Int    `json:"amount_in"` // sell token units
}

// SwapReceipt records the outcome of one executed swap.
type SwapReceipt struct {
	Pool      common.Address `json:"pool"`
	TokenIn   common.Address `json:"token_in"`
	TokenOut  common.Address `json:"token_out"`
	AmountIn  sdkmath.Int    `json:"amount_in"`
	AmountOut sdkmath.Int    `json:"amount_out"`
	Timestamp time.Time      `json:"timestamp"`
}

// RebalanceReport captures one full rebalance pass for persistence and the
// web dashboard.
type RebalanceReport struct {
	TraceID       string         `json:"trace_id"`
	Timestamp     time.Time      `json:"timestamp"`
	TotalUSD      sdkmath.Int    `json:"total_usd"`
	PlannedTrades []PlannedTrade `json:"planned_trades"`
	Receipts      []SwapReceipt  `json:"receipts"`
	SkippedPairs  int            `json:"skipped_pairs"` // matched pairs without a cached route
}
