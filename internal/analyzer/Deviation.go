/*

This file implements deviation detection. It builds a balance/price snapshot
for the whole basket and decides whether the portfolio has drifted far enough
from its target allocations to warrant rebalancing.

*/

package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/basketlabs/bvm/internal/logger"
	"github.com/basketlabs/bvm/internal/oracle"
	"github.com/basketlabs/bvm/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrBalanceCount = errors.New("balance count does not match basket length")
)

var allocationScale = sdkmath.NewInt(types.AllocationScale)

// ExceedsDeviation reports whether the absolute distance between an actual
// allocation and its target is strictly greater than the threshold. Exact
// equality to the threshold is not a deviation. All values are
// parts-per-million of types.AllocationScale.
func ExceedsDeviation(pct, target, threshold int64) bool {
	diff := pct - target
	if diff < 0 {
		diff = -diff
	}
	return diff > threshold
}

// BuildSnapshot captures per-token balances, live oracle prices and the total
// portfolio USD value in one immutable snapshot. The snapshot is reused
// across the deviation check and the trade planner so each feed is read only
// once per operation.
func BuildSnapshot(ctx context.Context, entries types.Basket, balances []sdkmath.Int, source oracle.Source) (types.PortfolioSnapshot, error) {
	if len(balances) != len(entries) {
		return types.PortfolioSnapshot{}, fmt.Errorf("%w: %d balances, %d entries", ErrBalanceCount, len(balances), len(entries))
	}

	snapshot := types.PortfolioSnapshot{
		Balances:  make([]sdkmath.Int, len(entries)),
		Prices:    make([]sdkmath.Int, len(entries)),
		TotalUSD:  sdkmath.ZeroInt(),
		Timestamp: time.Now().UTC(),
	}

	for i := range entries {
		price, err := source.GetPrice(ctx, entries[i].PriceFeed)
		if err != nil {
			return types.PortfolioSnapshot{}, fmt.Errorf("snapshot failed for token %s: %w", entries[i].Token.Hex(), err)
		}
		snapshot.Balances[i] = balances[i]
		snapshot.Prices[i] = price
		snapshot.TotalUSD = snapshot.TotalUSD.Add(balances[i].Mul(price).Quo(types.PriceScale))
	}

	return snapshot, nil
}

// NeedsRebalance reports whether any basket token's actual allocation
// deviates from its target by more than the threshold. Detection
// short-circuits on the first deviating token; the caller already holds the
// full snapshot for the planner.
func NeedsRebalance(snapshot types.PortfolioSnapshot, entries types.Basket, threshold int64) bool {
	detectorLogger := logger.GetForComponent("deviation_detector")

	for i := range entries {
		var pct int64
		if !snapshot.TotalUSD.IsZero() {
			pct = snapshot.TokenUSD(i).Mul(allocationScale).Quo(snapshot.TotalUSD).Int64()
		}

		if ExceedsDeviation(pct, entries[i].TargetAllocation, threshold) {
			detectorLogger.Info().
				Str("token", entries[i].Token.Hex()).
				Int64("actualPct", pct).
				Int64("targetPct", entries[i].TargetAllocation).
				Int64("threshold", threshold).
				Msg("Deviation threshold exceeded")
			return true
		}
	}
	return false
}
