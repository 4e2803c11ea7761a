/*

This file implements trade planning: per-token USD delta computation and the
greedy pairwise matcher that turns deltas into an ordered trade list. The
matcher pairs the largest over-allocated token with the largest
under-allocated token until one side is exhausted, which yields at most n-1
trades for n basket tokens.

Matching is one-dimensional on USD value. It minimizes trade count and makes
monotonic progress toward the target mix each iteration; it does not minimize
price impact or slippage.

*/

package planner

import (
	sdkmath "cosmossdk.io/math"

	"github.com/basketlabs/bvm/internal/logger"
	"github.com/basketlabs/bvm/internal/types"
)

// ComputeDeltaUSD returns each basket token's signed USD distance from its
// target value, using floor (truncating) integer division. Deltas need not
// sum to exactly zero, only to within one rounding unit per token.
func ComputeDeltaUSD(snapshot types.PortfolioSnapshot, entries types.Basket) []types.TokenDelta {
	scale := sdkmath.NewInt(types.AllocationScale)

	deltas := make([]types.TokenDelta, len(entries))
	for i := range entries {
		targetUSD := snapshot.TotalUSD.Mul(sdkmath.NewInt(entries[i].TargetAllocation)).Quo(scale)
		deltas[i] = types.TokenDelta{
			Index: i,
			USD:   snapshot.TokenUSD(i).Sub(targetUSD),
		}
	}
	return deltas
}

// Partition splits deltas into sellers (positive, keeping the signed value)
// and buyers (negative, stored as absolute value). Zero deltas fall on
// neither side.
func Partition(deltas []types.TokenDelta) (sellers, buyers []types.TokenDelta) {
	for _, d := range deltas {
		switch {
		case d.USD.IsPositive():
			sellers = append(sellers, d)
		case d.USD.IsNegative():
			buyers = append(buyers, types.TokenDelta{Index: d.Index, USD: d.USD.Neg()})
		}
	}
	return sellers, buyers
}

// SortByMagnitudeDesc sorts deltas in place, descending by USD magnitude,
// with a stable selection sort. The basket never exceeds six tokens, so the
// quadratic cost is irrelevant; ties keep their original relative order.
func SortByMagnitudeDesc(deltas []types.TokenDelta) {
	for i := 0; i < len(deltas); i++ {
		best := i
		for j := i + 1; j < len(deltas); j++ {
			if deltas[j].USD.GT(deltas[best].USD) {
				best = j
			}
		}
		if best != i {
			chosen := deltas[best]
			copy(deltas[i+1:best+1], deltas[i:best])
			deltas[i] = chosen
		}
	}
}

// Plan produces the ordered trade list for one rebalance pass. Matched pairs
// without a cached liquidity route are skipped: the side holding the smaller
// remaining magnitude is advanced and matching continues rather than
// aborting. skipped reports how many pairs were dropped that way.
func Plan(snapshot types.PortfolioSnapshot, entries types.Basket, routes types.RouteCache) (trades []types.PlannedTrade, skipped int) {
	plannerLogger := logger.GetForComponent("trade_planner")

	sellers, buyers := Partition(ComputeDeltaUSD(snapshot, entries))
	SortByMagnitudeDesc(sellers)
	SortByMagnitudeDesc(buyers)

	si, bi := 0, 0
	for si < len(sellers) && bi < len(buyers) {
		seller, buyer := &sellers[si], &buyers[bi]

		sellToken := entries[seller.Index].Token
		buyToken := entries[buyer.Index].Token
		if _, ok := routes.Lookup(sellToken, buyToken); !ok {
			// Cached route missing for this pair: drop the smaller side so the
			// loop still makes progress.
			skipped++
			plannerLogger.Warn().
				Str("sellToken", sellToken.Hex()).
				Str("buyToken", buyToken.Hex()).
				Msg("No cached route for matched pair, skipping")
			if seller.USD.GT(buyer.USD) {
				bi++
			} else {
				si++
			}
			continue
		}

		tradeUSD := sdkmath.MinInt(seller.USD, buyer.USD)
		amountIn := tradeUSD.Mul(types.PriceScale).Quo(snapshot.Prices[seller.Index])

		trades = append(trades, types.PlannedTrade{
			SellIndex: seller.Index,
			BuyIndex:  buyer.Index,
			SellToken: sellToken,
			BuyToken:  buyToken,
			USDValue:  tradeUSD,
			AmountIn:  amountIn,
		})

		seller.USD = seller.USD.Sub(tradeUSD)
		buyer.USD = buyer.USD.Sub(tradeUSD)
		if seller.USD.IsZero() {
			si++
		}
		if buyer.USD.IsZero() {
			bi++
		}
	}

	plannerLogger.Info().
		Int("trades", len(trades)).
		Int("skipped", skipped).
		Msg("Trade plan generated")

	return trades, skipped
}
