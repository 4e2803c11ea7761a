/*

This file implements the rebalance pass: deviation check, trade planning and
swap execution against the cached pool routes. Swaps move custody between
tokens the vault already holds; logical ledger entries are not re-keyed per
swap.

The check/execute pair is deliberately split so an external scheduler can
take the snapshot in one call and trade against it in a later one. Balances
and prices are not re-validated between the two calls.

*/

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/basketlabs/bvm/internal/analyzer"
	"github.com/basketlabs/bvm/internal/planner"
	"github.com/basketlabs/bvm/internal/types"
)

// NeedsRebalance builds a fresh portfolio snapshot and reports whether any
// basket token deviates from its target by more than the threshold. The
// snapshot is always returned so the caller can reuse it for execution
// without duplicate oracle reads.
func (v *Vault) NeedsRebalance(ctx context.Context) (bool, types.PortfolioSnapshot, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if !v.configured {
		return false, types.PortfolioSnapshot{}, ErrNotConfigured
	}

	snapshot, err := analyzer.BuildSnapshot(ctx, v.entries, v.balances(), v.oracle)
	if err != nil {
		return false, types.PortfolioSnapshot{}, err
	}
	return analyzer.NeedsRebalance(snapshot, v.entries, v.threshold), snapshot, nil
}

// Rebalance plans and executes trades against the given snapshot, callable
// only by the controlling principal. Any swap failure aborts the whole pass.
func (v *Vault) Rebalance(ctx context.Context, caller common.Address, snapshot types.PortfolioSnapshot) (types.RebalanceReport, error) {
	if err := v.enter(); err != nil {
		return types.RebalanceReport{}, err
	}
	defer v.exit()

	if !v.configured {
		return types.RebalanceReport{}, ErrNotConfigured
	}
	if err := v.authorize(caller); err != nil {
		return types.RebalanceReport{}, err
	}
	return v.rebalanceAgainst(ctx, snapshot)
}

// PerformUpkeep is the scheduler-facing execution half of the check/execute
// pair. The scheduler is expected to have obtained the snapshot from an
// earlier NeedsRebalance call.
func (v *Vault) PerformUpkeep(ctx context.Context, snapshot types.PortfolioSnapshot) (types.RebalanceReport, error) {
	if err := v.enter(); err != nil {
		return types.RebalanceReport{}, err
	}
	defer v.exit()

	if !v.configured {
		return types.RebalanceReport{}, ErrNotConfigured
	}
	return v.rebalanceAgainst(ctx, snapshot)
}

// rebalanceLocked runs the deviation check and, when warranted, a full
// rebalance pass inside an operation that already holds the busy flag.
func (v *Vault) rebalanceLocked(ctx context.Context) error {
	snapshot, err := analyzer.BuildSnapshot(ctx, v.entries, v.balances(), v.oracle)
	if err != nil {
		return err
	}
	if !analyzer.NeedsRebalance(snapshot, v.entries, v.threshold) {
		v.logger.Debug().Msg("No deviation beyond threshold, skipping rebalance")
		return nil
	}
	_, err = v.rebalanceAgainst(ctx, snapshot)
	return err
}

// rebalanceAgainst executes the planned trade list for a snapshot.
func (v *Vault) rebalanceAgainst(ctx context.Context, snapshot types.PortfolioSnapshot) (types.RebalanceReport, error) {
	traceID := uuid.New().String()
	rebalanceLogger := v.logger.With().Str("trace_id", traceID).Logger()

	trades, skipped := planner.Plan(snapshot, v.entries, v.routes)

	report := types.RebalanceReport{
		TraceID:       traceID,
		Timestamp:     snapshot.Timestamp,
		TotalUSD:      snapshot.TotalUSD,
		PlannedTrades: trades,
		Receipts:      make([]types.SwapReceipt, 0, len(trades)),
		SkippedPairs:  skipped,
	}

	for _, trade := range trades {
		v.recorder.Record(types.EventSwapPlanned, traceID, types.SwapPlannedEvent{
			SellToken: trade.SellToken,
			BuyToken:  trade.BuyToken,
			USDValue:  trade.USDValue,
			AmountIn:  trade.AmountIn,
		})

		receipt, err := v.executeSwap(ctx, traceID, trade)
		if err != nil {
			rebalanceLogger.Error().Err(err).
				Str("sellToken", trade.SellToken.Hex()).
				Str("buyToken", trade.BuyToken.Hex()).
				Msg("Rebalance aborted: swap execution failed")
			return types.RebalanceReport{}, err
		}
		report.Receipts = append(report.Receipts, receipt)
	}

	rebalanceLogger.Info().
		Str("totalUSD", snapshot.TotalUSD.String()).
		Int("trades", len(report.Receipts)).
		Int("skippedPairs", skipped).
		Msg("Rebalance pass completed")

	v.recorder.Record(types.EventRebalanced, traceID, types.RebalancedEvent{
		Principal:  v.owner,
		TraceID:    traceID,
		TotalUSD:   snapshot.TotalUSD,
		TradeCount: len(report.Receipts),
	})
	v.recorder.SaveReport(report)

	return report, nil
}

// executeSwap runs one planned trade against its cached pool route. The
// underlying venue call carries no price limit and no minimum-output bound;
// any failure is fatal to the enclosing rebalance.
func (v *Vault) executeSwap(ctx context.Context, traceID string, trade types.PlannedTrade) (types.SwapReceipt, error) {
	pool, ok := v.routes.Lookup(trade.SellToken, trade.BuyToken)
	if !ok {
		// The planner only emits trades for cached routes; a miss here means
		// the cache changed mid-operation.
		return types.SwapReceipt{}, fmt.Errorf("route disappeared for %s/%s", trade.SellToken.Hex(), trade.BuyToken.Hex())
	}

	amountOut, err := v.venue.Swap(ctx, pool, trade.SellToken, trade.BuyToken, trade.AmountIn)
	if err != nil {
		return types.SwapReceipt{}, fmt.Errorf("swap against pool %s failed: %w", pool.Hex(), err)
	}

	receipt := types.SwapReceipt{
		Pool:      pool,
		TokenIn:   trade.SellToken,
		TokenOut:  trade.BuyToken,
		AmountIn:  trade.AmountIn,
		AmountOut: amountOut,
		Timestamp: time.Now().UTC(),
	}
	v.recorder.Record(types.EventSwapExecuted, traceID, types.SwapExecutedEvent{
		Pool:      pool,
		TokenIn:   trade.SellToken,
		TokenOut:  trade.BuyToken,
		AmountIn:  trade.AmountIn,
		AmountOut: amountOut,
	})
	return receipt, nil
}
