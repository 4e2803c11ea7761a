package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basketlabs/bvm/internal/types"
)

// driftedFixture deposits an 80/20 split into a 50/50 two-token basket so a
// rebalance is warranted at the default threshold.
func driftedFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t, 2)
	f.configure(t, []int64{500000, 500000})
	ctx := context.Background()
	require.NoError(t, f.vault.Deposit(ctx, testOwner, f.tokens[0], usd(80), false))
	require.NoError(t, f.vault.Deposit(ctx, testOwner, f.tokens[1], usd(20), false))
	return f
}

func TestNeedsRebalance(t *testing.T) {
	f := newFixture(t, 2)
	f.configure(t, []int64{500000, 500000})
	ctx := context.Background()

	require.NoError(t, f.vault.Deposit(ctx, testOwner, f.tokens[0], usd(50), false))
	require.NoError(t, f.vault.Deposit(ctx, testOwner, f.tokens[1], usd(50), false))

	needed, snapshot, err := f.vault.NeedsRebalance(ctx)
	require.NoError(t, err)
	assert.False(t, needed)
	assert.Equal(t, usd(100).String(), snapshot.TotalUSD.String())
}

func TestNeedsRebalance_Unconfigured(t *testing.T) {
	f := newFixture(t, 2)
	_, _, err := f.vault.NeedsRebalance(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRebalance_ExecutesPlannedTrades(t *testing.T) {
	f := driftedFixture(t)
	ctx := context.Background()

	needed, snapshot, err := f.vault.NeedsRebalance(ctx)
	require.NoError(t, err)
	require.True(t, needed)

	report, err := f.vault.Rebalance(ctx, testOwner, snapshot)
	require.NoError(t, err)

	assert.NotEmpty(t, report.TraceID)
	assert.Equal(t, usd(100).String(), report.TotalUSD.String())
	require.Len(t, report.Receipts, 1)
	assert.Zero(t, report.SkippedPairs)

	// One 30 USD swap from the over-allocated token to the under-allocated
	// one, at unit price.
	require.Len(t, f.venue.swaps, 1)
	assert.Equal(t, f.tokens[0], f.venue.swaps[0].tokenIn)
	assert.Equal(t, f.tokens[1], f.venue.swaps[0].tokenOut)
	assert.Equal(t, usd(30).String(), f.venue.swaps[0].amountIn.String())

	assert.Equal(t, 1, f.recorder.countEvents(types.EventSwapPlanned))
	assert.Equal(t, 1, f.recorder.countEvents(types.EventSwapExecuted))
	assert.Equal(t, 1, f.recorder.countEvents(types.EventRebalanced))
	require.Len(t, f.recorder.reports, 1)
	assert.Equal(t, report.TraceID, f.recorder.reports[0].TraceID)
}

func TestRebalance_SwapEventsCarryPassTraceID(t *testing.T) {
	f := driftedFixture(t)
	ctx := context.Background()

	_, snapshot, err := f.vault.NeedsRebalance(ctx)
	require.NoError(t, err)
	report, err := f.vault.Rebalance(ctx, testOwner, snapshot)
	require.NoError(t, err)

	// Planned and executed swap records must join back to their pass in
	// the event history.
	assert.Equal(t, []string{report.TraceID}, f.recorder.traceIDs(types.EventSwapPlanned))
	assert.Equal(t, []string{report.TraceID}, f.recorder.traceIDs(types.EventSwapExecuted))
	assert.Equal(t, []string{report.TraceID}, f.recorder.traceIDs(types.EventRebalanced))
}

func TestRebalance_LedgerEntriesUnchangedBySwaps(t *testing.T) {
	f := driftedFixture(t)
	ctx := context.Background()

	_, snapshot, err := f.vault.NeedsRebalance(ctx)
	require.NoError(t, err)
	_, err = f.vault.Rebalance(ctx, testOwner, snapshot)
	require.NoError(t, err)

	// Swaps move venue custody only; recorded ledger entries keep their
	// original keys and amounts.
	assert.Equal(t, usd(80).String(), f.vault.Balance(f.tokens[0]).String())
	assert.Equal(t, usd(20).String(), f.vault.Balance(f.tokens[1]).String())
}

func TestRebalance_Unauthorized(t *testing.T) {
	f := driftedFixture(t)
	ctx := context.Background()

	_, snapshot, err := f.vault.NeedsRebalance(ctx)
	require.NoError(t, err)

	_, err = f.vault.Rebalance(ctx, testStranger, snapshot)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, f.venue.swaps)
}

func TestRebalance_SwapFailureAbortsPass(t *testing.T) {
	f := driftedFixture(t)
	ctx := context.Background()

	_, snapshot, err := f.vault.NeedsRebalance(ctx)
	require.NoError(t, err)

	swapErr := errors.New("pool reverted")
	f.venue.swapErr = swapErr

	_, err = f.vault.Rebalance(ctx, testOwner, snapshot)
	assert.ErrorIs(t, err, swapErr)
	assert.Empty(t, f.recorder.reports)
	assert.Zero(t, f.recorder.countEvents(types.EventRebalanced))
}

func TestPerformUpkeep_NoPrincipalCheck(t *testing.T) {
	f := driftedFixture(t)
	ctx := context.Background()

	_, snapshot, err := f.vault.NeedsRebalance(ctx)
	require.NoError(t, err)

	report, err := f.vault.PerformUpkeep(ctx, snapshot)
	require.NoError(t, err)
	require.Len(t, report.Receipts, 1)
}

func TestDeposit_AutoRebalance(t *testing.T) {
	f := newFixture(t, 2)
	f.configure(t, []int64{500000, 500000})
	ctx := context.Background()
	require.NoError(t, f.vault.Deposit(ctx, testOwner, f.tokens[1], usd(20), false))

	// The deposit itself creates the deviation, then rebalances in the same
	// operation.
	require.NoError(t, f.vault.Deposit(ctx, testOwner, f.tokens[0], usd(80), true))

	require.Len(t, f.venue.swaps, 1)
	assert.Equal(t, usd(30).String(), f.venue.swaps[0].amountIn.String())
	assert.Equal(t, 1, f.recorder.countEvents(types.EventRebalanced))
}

func TestDeposit_AutoRebalanceFailureRollsBackDeposit(t *testing.T) {
	f := newFixture(t, 2)
	f.configure(t, []int64{500000, 500000})
	ctx := context.Background()
	require.NoError(t, f.vault.Deposit(ctx, testOwner, f.tokens[1], usd(20), false))

	f.venue.swapErr = errors.New("pool reverted")
	err := f.vault.Deposit(ctx, testOwner, f.tokens[0], usd(80), true)
	require.Error(t, err)

	// The deposit is discarded wholesale and custody refunded.
	assert.True(t, f.vault.Balance(f.tokens[0]).IsZero())
	assert.Equal(t, usd(20).String(), f.vault.Balance(f.tokens[1]).String())
	refund := f.custody.calls[len(f.custody.calls)-1]
	assert.Equal(t, "pay", refund.op)
	assert.Equal(t, usd(80).String(), refund.amount.String())
}

func TestWithdraw_AutoRebalance(t *testing.T) {
	f := newFixture(t, 2)
	f.configure(t, []int64{500000, 500000})
	ctx := context.Background()
	require.NoError(t, f.vault.Deposit(ctx, testOwner, f.tokens[0], usd(80), false))
	require.NoError(t, f.vault.Deposit(ctx, testOwner, f.tokens[1], usd(80), false))

	// Withdrawing 60 of token 1 leaves an 80/20 split to correct.
	require.NoError(t, f.vault.Withdraw(ctx, testOwner, f.tokens[1], usd(60), true))

	require.Len(t, f.venue.swaps, 1)
	assert.Equal(t, usd(30).String(), f.venue.swaps[0].amountIn.String())
	assert.Equal(t, usd(20).String(), f.vault.Balance(f.tokens[1]).String())
}
