package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basketlabs/bvm/internal/basket"
	"github.com/basketlabs/bvm/internal/oracle"
	"github.com/basketlabs/bvm/internal/types"
	"github.com/basketlabs/bvm/internal/venue"
)

// In-memory collaborator fakes shared by the engine tests.

type fakeSource struct {
	prices map[common.Address]sdkmath.Int
	err    error
}

func (f *fakeSource) GetPrice(_ context.Context, feed common.Address) (sdkmath.Int, error) {
	if f.err != nil {
		return sdkmath.Int{}, f.err
	}
	price, ok := f.prices[feed]
	if !ok {
		return sdkmath.Int{}, errors.New("unknown feed")
	}
	return price, nil
}

var _ oracle.Source = (*fakeSource)(nil)

type fakeVenue struct {
	pools     map[types.PairKey]common.Address
	liquidity sdkmath.Int
	swapErr   error
	swaps     []swapCall
}

type swapCall struct {
	pool     common.Address
	tokenIn  common.Address
	tokenOut common.Address
	amountIn sdkmath.Int
}

func (f *fakeVenue) GetPool(_ context.Context, tokenA, tokenB common.Address, _ uint32) (common.Address, error) {
	pool, ok := f.pools[types.NewPairKey(tokenA, tokenB)]
	if !ok {
		return common.Address{}, venue.ErrNoRoute
	}
	return pool, nil
}

func (f *fakeVenue) Liquidity(_ context.Context, _ common.Address) (sdkmath.Int, error) {
	return f.liquidity, nil
}

func (f *fakeVenue) Swap(_ context.Context, pool, tokenIn, tokenOut common.Address, amountIn sdkmath.Int) (sdkmath.Int, error) {
	if f.swapErr != nil {
		return sdkmath.Int{}, f.swapErr
	}
	f.swaps = append(f.swaps, swapCall{pool: pool, tokenIn: tokenIn, tokenOut: tokenOut, amountIn: amountIn})
	return amountIn, nil
}

var _ venue.Venue = (*fakeVenue)(nil)

type custodyCall struct {
	op     string
	token  common.Address
	who    common.Address
	amount sdkmath.Int
}

type fakeCustodian struct {
	calls      []custodyCall
	allowances map[common.Address]sdkmath.Int
	pullErr    error
	payErr     error
	approveErr error
	onPull     func()
}

func (f *fakeCustodian) PullFrom(_ context.Context, token, from common.Address, amount sdkmath.Int) error {
	if f.pullErr != nil {
		return f.pullErr
	}
	f.calls = append(f.calls, custodyCall{op: "pull", token: token, who: from, amount: amount})
	if f.onPull != nil {
		f.onPull()
	}
	return nil
}

func (f *fakeCustodian) PayTo(_ context.Context, token, to common.Address, amount sdkmath.Int) error {
	if f.payErr != nil {
		return f.payErr
	}
	f.calls = append(f.calls, custodyCall{op: "pay", token: token, who: to, amount: amount})
	return nil
}

func (f *fakeCustodian) Allowance(_ context.Context, token common.Address) (sdkmath.Int, error) {
	if allowance, ok := f.allowances[token]; ok {
		return allowance, nil
	}
	return sdkmath.ZeroInt(), nil
}

func (f *fakeCustodian) ApproveUnlimited(_ context.Context, token common.Address) error {
	if f.approveErr != nil {
		return f.approveErr
	}
	f.calls = append(f.calls, custodyCall{op: "approve", token: token})
	return nil
}

func (f *fakeCustodian) count(op string) int {
	n := 0
	for _, c := range f.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

var _ venue.Custodian = (*fakeCustodian)(nil)

type recordedEvent struct {
	eventType types.EventType
	traceID   string
}

type recordingRecorder struct {
	events  []recordedEvent
	reports []types.RebalanceReport
}

func (r *recordingRecorder) Record(eventType types.EventType, traceID string, _ any) {
	r.events = append(r.events, recordedEvent{eventType: eventType, traceID: traceID})
}

func (r *recordingRecorder) SaveReport(report types.RebalanceReport) {
	r.reports = append(r.reports, report)
}

func (r *recordingRecorder) countEvents(eventType types.EventType) int {
	n := 0
	for _, e := range r.events {
		if e.eventType == eventType {
			n++
		}
	}
	return n
}

func (r *recordingRecorder) traceIDs(eventType types.EventType) []string {
	var ids []string
	for _, e := range r.events {
		if e.eventType == eventType {
			ids = append(ids, e.traceID)
		}
	}
	return ids
}

var _ Recorder = (*recordingRecorder)(nil)

// Test fixture helpers.

var (
	testOwner       = common.BytesToAddress([]byte{0xaa})
	testBeneficiary = common.BytesToAddress([]byte{0xbb})
	testStranger    = common.BytesToAddress([]byte{0xcc})
)

type fixture struct {
	vault    *Vault
	source   *fakeSource
	venue    *fakeVenue
	custody  *fakeCustodian
	recorder *recordingRecorder
	tokens   []common.Address
	feeds    []common.Address
}

func usd(n int64) sdkmath.Int {
	return sdkmath.NewInt(n).Mul(types.PriceScale)
}

func newFixture(t *testing.T, n int) *fixture {
	t.Helper()

	tokens := make([]common.Address, n)
	feeds := make([]common.Address, n)
	prices := make(map[common.Address]sdkmath.Int, n)
	pools := make(map[types.PairKey]common.Address)
	for i := 0; i < n; i++ {
		tokens[i] = common.BytesToAddress([]byte{0x10, byte(i + 1)})
		feeds[i] = common.BytesToAddress([]byte{0x20, byte(i + 1)})
		prices[feeds[i]] = types.PriceScale
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			pools[types.NewPairKey(tokens[i], tokens[j])] = common.BytesToAddress([]byte{0x30, byte(i), byte(j)})
		}
	}

	f := &fixture{
		source:   &fakeSource{prices: prices},
		venue:    &fakeVenue{pools: pools, liquidity: sdkmath.NewInt(1_000_000)},
		custody:  &fakeCustodian{allowances: map[common.Address]sdkmath.Int{}},
		recorder: &recordingRecorder{},
		tokens:   tokens,
		feeds:    feeds,
	}

	vault, err := NewVault(Config{
		Oracle:   f.source,
		Venue:    f.venue,
		Custody:  f.custody,
		Recorder: f.recorder,
	})
	require.NoError(t, err)
	f.vault = vault
	return f
}

func (f *fixture) configureParams(allocations []int64) ConfigureParams {
	return ConfigureParams{
		Owner:       testOwner,
		Tokens:      f.tokens,
		Feeds:       f.feeds,
		Allocations: allocations,
		Threshold:   20000,
		FeeTier:     3000,
		FeeRate:     50,
		Beneficiary: testBeneficiary,
	}
}

func (f *fixture) configure(t *testing.T, allocations []int64) {
	t.Helper()
	require.NoError(t, f.vault.Configure(context.Background(), f.configureParams(allocations)))
}

// Tests.

func TestNewVault_ValidatesCollaborators(t *testing.T) {
	_, err := NewVault(Config{})
	assert.Error(t, err)

	f := newFixture(t, 2)
	assert.NotNil(t, f.vault)
}

func TestConfigure_OnlyOnce(t *testing.T) {
	f := newFixture(t, 2)
	params := f.configureParams([]int64{500000, 500000})

	require.NoError(t, f.vault.Configure(context.Background(), params))

	err := f.vault.Configure(context.Background(), params)
	assert.ErrorIs(t, err, ErrAlreadyConfigured)

	assert.Equal(t, testOwner, f.vault.Owner())
	assert.Equal(t, testBeneficiary, f.vault.Beneficiary())
	assert.Equal(t, uint32(50), f.vault.FeeRate())
	assert.Equal(t, int64(20000), f.vault.Threshold())
	assert.Equal(t, 1, f.recorder.countEvents(types.EventBasketUpdated))
}

func TestConfigure_InvalidBasketLeavesVaultUnconfigured(t *testing.T) {
	f := newFixture(t, 2)

	err := f.vault.Configure(context.Background(), f.configureParams([]int64{500000, 499999}))
	assert.ErrorIs(t, err, basket.ErrAllocationSum)

	err = f.vault.Deposit(context.Background(), testOwner, f.tokens[0], usd(1), false)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestDeposit(t *testing.T) {
	f := newFixture(t, 2)
	f.configure(t, []int64{500000, 500000})

	require.NoError(t, f.vault.Deposit(context.Background(), testOwner, f.tokens[0], usd(10), false))

	assert.Equal(t, usd(10).String(), f.vault.Balance(f.tokens[0]).String())
	assert.Equal(t, 1, f.custody.count("pull"))
	assert.Equal(t, 1, f.custody.count("approve"))
	assert.Equal(t, 1, f.recorder.countEvents(types.EventDeposit))

	// Second deposit of the same token reuses the standing approval.
	require.NoError(t, f.vault.Deposit(context.Background(), testOwner, f.tokens[0], usd(5), false))
	assert.Equal(t, usd(15).String(), f.vault.Balance(f.tokens[0]).String())
	assert.Equal(t, 1, f.custody.count("approve"))
}

func TestDeposit_Rejections(t *testing.T) {
	f := newFixture(t, 2)
	f.configure(t, []int64{500000, 500000})
	ctx := context.Background()

	err := f.vault.Deposit(ctx, testStranger, f.tokens[0], usd(1), false)
	assert.ErrorIs(t, err, ErrUnauthorized)

	unknown := common.BytesToAddress([]byte{0x99})
	err = f.vault.Deposit(ctx, testOwner, unknown, usd(1), false)
	assert.ErrorIs(t, err, ErrNotWhitelisted)

	err = f.vault.Deposit(ctx, testOwner, f.tokens[0], sdkmath.ZeroInt(), false)
	assert.ErrorIs(t, err, ErrZeroAmount)

	err = f.vault.Deposit(ctx, testOwner, f.tokens[0], sdkmath.NewInt(-1), false)
	assert.ErrorIs(t, err, ErrZeroAmount)

	assert.Zero(t, f.custody.count("pull"))
}

func TestDeposit_ApprovalFailureRollsBackAndRefunds(t *testing.T) {
	f := newFixture(t, 2)
	f.configure(t, []int64{500000, 500000})
	f.custody.approveErr = errors.New("approve reverted")

	err := f.vault.Deposit(context.Background(), testOwner, f.tokens[0], usd(10), false)
	require.Error(t, err)

	// Ledger restored and custody returned.
	assert.True(t, f.vault.Balance(f.tokens[0]).IsZero())
	require.Equal(t, 1, f.custody.count("pay"))
	refund := f.custody.calls[len(f.custody.calls)-1]
	assert.Equal(t, testOwner, refund.who)
	assert.Equal(t, usd(10).String(), refund.amount.String())
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t, 2)
	f.configure(t, []int64{500000, 500000})
	ctx := context.Background()
	require.NoError(t, f.vault.Deposit(ctx, testOwner, f.tokens[0], usd(10), false))

	require.NoError(t, f.vault.Withdraw(ctx, testOwner, f.tokens[0], usd(4), false))

	assert.Equal(t, usd(6).String(), f.vault.Balance(f.tokens[0]).String())
	assert.Equal(t, 1, f.custody.count("pay"))
	assert.Equal(t, 1, f.recorder.countEvents(types.EventWithdraw))
}

func TestDepositWithdraw_RoundTrip(t *testing.T) {
	f := newFixture(t, 2)
	f.configure(t, []int64{500000, 500000})
	ctx := context.Background()

	require.NoError(t, f.vault.Deposit(ctx, testOwner, f.tokens[0], usd(10), false))
	require.NoError(t, f.vault.Withdraw(ctx, testOwner, f.tokens[0], usd(10), false))

	// Ledger back to zero, custody moved in and straight back out.
	assert.True(t, f.vault.Balance(f.tokens[0]).IsZero())
	assert.Equal(t, 1, f.custody.count("pull"))
	assert.Equal(t, 1, f.custody.count("pay"))
}

func TestWithdraw_InsufficientBalance(t *testing.T) {
	f := newFixture(t, 2)
	f.configure(t, []int64{500000, 500000})
	ctx := context.Background()
	require.NoError(t, f.vault.Deposit(ctx, testOwner, f.tokens[0], usd(10), false))

	err := f.vault.Withdraw(ctx, testOwner, f.tokens[0], usd(11), false)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, usd(10).String(), f.vault.Balance(f.tokens[0]).String())
}

func TestWithdraw_CustodyFailureRollsBackLedger(t *testing.T) {
	f := newFixture(t, 2)
	f.configure(t, []int64{500000, 500000})
	ctx := context.Background()
	require.NoError(t, f.vault.Deposit(ctx, testOwner, f.tokens[0], usd(10), false))

	f.custody.payErr = errors.New("transfer reverted")
	err := f.vault.Withdraw(ctx, testOwner, f.tokens[0], usd(4), false)
	require.Error(t, err)

	assert.Equal(t, usd(10).String(), f.vault.Balance(f.tokens[0]).String())
}

func TestSetBasket_ValidatesBeforeReplacing(t *testing.T) {
	f := newFixture(t, 2)
	f.configure(t, []int64{500000, 500000})
	ctx := context.Background()

	// Invalid replacement keeps the prior basket intact.
	bad, err := basket.FromComponents(f.tokens, f.feeds, []int64{500000, 499999})
	require.NoError(t, err)
	err = f.vault.SetBasket(ctx, testOwner, bad)
	assert.ErrorIs(t, err, basket.ErrAllocationSum)
	assert.Equal(t, int64(500000), f.vault.Basket()[0].TargetAllocation)

	good, err := basket.FromComponents(f.tokens, f.feeds, []int64{600000, 400000})
	require.NoError(t, err)
	require.NoError(t, f.vault.SetBasket(ctx, testOwner, good))
	assert.Equal(t, int64(600000), f.vault.Basket()[0].TargetAllocation)

	err = f.vault.SetBasket(ctx, testStranger, good)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSetRebalanceThreshold(t *testing.T) {
	f := newFixture(t, 2)
	f.configure(t, []int64{500000, 500000})

	err := f.vault.SetRebalanceThreshold(testStranger, 50000)
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, f.vault.SetRebalanceThreshold(testOwner, 50000))
	assert.Equal(t, int64(50000), f.vault.Threshold())
	assert.Equal(t, 1, f.recorder.countEvents(types.EventRebalanceThresholdUpdated))
}

func TestSetAutomation(t *testing.T) {
	f := newFixture(t, 2)
	f.configure(t, []int64{500000, 500000})

	assert.False(t, f.vault.AutomationEnabled())

	err := f.vault.SetAutomation(testStranger, true)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, f.vault.AutomationEnabled())

	require.NoError(t, f.vault.SetAutomation(testOwner, true))
	assert.True(t, f.vault.AutomationEnabled())
	assert.Equal(t, 1, f.recorder.countEvents(types.EventAutomationToggled))
}

func TestReentrancyRejected(t *testing.T) {
	f := newFixture(t, 2)
	f.configure(t, []int64{500000, 500000})

	// Re-enter Withdraw from inside Deposit's custody call.
	var innerErr error
	f.custody.onPull = func() {
		innerErr = f.vault.Withdraw(context.Background(), testOwner, f.tokens[0], usd(1), false)
	}

	require.NoError(t, f.vault.Deposit(context.Background(), testOwner, f.tokens[0], usd(10), false))
	assert.ErrorIs(t, innerErr, ErrReentrant)
}

func TestReadAccessors_SafeDuringMutations(t *testing.T) {
	f := newFixture(t, 2)
	f.configure(t, []int64{500000, 500000})
	ctx := context.Background()

	// Hammer the read accessors from another goroutine, as the web server
	// does, while deposits mutate the ledger.
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				_ = f.vault.Balance(f.tokens[0])
				_ = f.vault.Basket()
				_ = f.vault.Threshold()
				_ = f.vault.AutomationEnabled()
			}
		}
	}()

	for i := 0; i < 500; i++ {
		require.NoError(t, f.vault.Deposit(ctx, testOwner, f.tokens[0], usd(1), false))
	}
	close(done)
	wg.Wait()

	assert.Equal(t, usd(500).String(), f.vault.Balance(f.tokens[0]).String())
}

func TestBasketReturnsCopy(t *testing.T) {
	f := newFixture(t, 2)
	f.configure(t, []int64{500000, 500000})

	entries := f.vault.Basket()
	entries[0].TargetAllocation = 1

	assert.Equal(t, int64(500000), f.vault.Basket()[0].TargetAllocation)
}
