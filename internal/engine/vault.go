/*

This file implements the vault instance: per-token balance accounting for
one controlling principal, the one-time configuration entry point, basket
replacement, and the deposit/withdraw operations.

Every public operation executes as one indivisible unit. A compare-and-swap
busy flag rejects re-entry while an operation's external calls are
outstanding, and any failure inside an operation restores the engine state
captured at its start, so no partial mutation is ever observable.

*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/basketlabs/bvm/internal/basket"
	"github.com/basketlabs/bvm/internal/logger"
	"github.com/basketlabs/bvm/internal/oracle"
	"github.com/basketlabs/bvm/internal/types"
	"github.com/basketlabs/bvm/internal/venue"
)

// Error definitions for zero-tolerance error handling
var (
	ErrAlreadyConfigured   = errors.New("vault is already configured")
	ErrNotConfigured       = errors.New("vault is not configured")
	ErrUnauthorized        = errors.New("caller is not the controlling principal")
	ErrReentrant           = errors.New("operation re-entered while another is in progress")
	ErrZeroAmount          = errors.New("amount must be positive")
	ErrNotWhitelisted      = errors.New("token is not in the current basket")
	ErrInsufficientBalance = errors.New("insufficient recorded balance")
)

// allowanceHighWater is the mark below which the standing venue grant is
// considered consumed and re-established on deposit.
var allowanceHighWater = sdkmath.NewIntFromBigInt(new(big.Int).Lsh(big.NewInt(1), 255))

// Config holds the collaborators a vault instance is built from.
type Config struct {
	Oracle   oracle.Source
	Venue    venue.Venue
	Custody  venue.Custodian
	Recorder Recorder
}

// ConfigureParams is the payload of the one-time configure entry point the
// factory collaborator invokes on a fresh instance.
type ConfigureParams struct {
	Owner       common.Address
	Tokens      []common.Address
	Feeds       []common.Address
	Allocations []int64
	Threshold   int64 // deviation threshold, parts-per-million
	FeeTier     uint32
	FeeRate     uint32 // immutable after configuration
	Beneficiary common.Address
}

// Vault is one custodial rebalancing vault instance.
type Vault struct {
	logger   zerolog.Logger
	oracle   oracle.Source
	venue    venue.Venue
	custody  venue.Custodian
	recorder Recorder

	// busy rejects re-entry from within an operation's own external calls;
	// mu excludes concurrent readers (the web server goroutine) while a
	// mutating operation is in flight.
	busy atomic.Bool
	mu   sync.RWMutex

	configured  bool
	owner       common.Address
	beneficiary common.Address
	feeRate     uint32
	feeTier     uint32
	threshold   int64
	automation  bool

	entries  types.Basket
	routes   types.RouteCache
	ledger   map[common.Address]sdkmath.Int
	approved map[common.Address]bool
}

// NewVault creates an unconfigured vault instance with dependency injection.
func NewVault(cfg Config) (*Vault, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("vault configuration validation failed: %w", err)
	}

	recorder := cfg.Recorder
	if recorder == nil {
		recorder = NopRecorder{}
	}

	return &Vault{
		logger:   logger.GetForComponent("vault_engine"),
		oracle:   cfg.Oracle,
		venue:    cfg.Venue,
		custody:  cfg.Custody,
		recorder: recorder,
		ledger:   make(map[common.Address]sdkmath.Int),
		approved: make(map[common.Address]bool),
	}, nil
}

// validateConfig validates the vault collaborators.
func validateConfig(cfg Config) error {
	if cfg.Oracle == nil {
		return fmt.Errorf("oracle source cannot be nil")
	}
	if cfg.Venue == nil {
		return fmt.Errorf("venue cannot be nil")
	}
	if cfg.Custody == nil {
		return fmt.Errorf("custodian cannot be nil")
	}
	return nil
}

// Configure performs the one-time initialization of a fresh instance,
// atomically setting the immutable fee rate, the beneficiary reference and
// the initial basket. Re-invocation on a configured instance fails.
func (v *Vault) Configure(ctx context.Context, params ConfigureParams) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.exit()

	if v.configured {
		return ErrAlreadyConfigured
	}
	if params.Owner == (common.Address{}) {
		return fmt.Errorf("%w: owner", basket.ErrZeroIdentity)
	}

	entries, err := basket.FromComponents(params.Tokens, params.Feeds, params.Allocations)
	if err != nil {
		return err
	}
	routes, err := basket.Validate(ctx, entries, v.oracle, v.venue, params.FeeTier)
	if err != nil {
		return err
	}

	v.configured = true
	v.owner = params.Owner
	v.beneficiary = params.Beneficiary
	v.feeRate = params.FeeRate
	v.feeTier = params.FeeTier
	v.threshold = params.Threshold
	v.entries = entries
	v.routes = routes

	v.logger.Info().
		Str("owner", v.owner.Hex()).
		Int("tokens", len(entries)).
		Int64("threshold", v.threshold).
		Uint32("feeRate", v.feeRate).
		Msg("Vault configured")

	v.recorder.Record(types.EventBasketUpdated, "", types.BasketUpdatedEvent{
		Principal: v.owner,
		Entries:   entries,
	})
	return nil
}

// SetBasket replaces the whole basket, callable only by the controlling
// principal. The new configuration is fully validated before the previous
// basket, whitelist flags and cached routes are cleared; a failed
// replacement leaves the prior state untouched.
func (v *Vault) SetBasket(ctx context.Context, caller common.Address, entries types.Basket) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.exit()

	if !v.configured {
		return ErrNotConfigured
	}
	if err := v.authorize(caller); err != nil {
		return err
	}

	routes, err := basket.Validate(ctx, entries, v.oracle, v.venue, v.feeTier)
	if err != nil {
		return err
	}

	v.entries = entries
	v.routes = routes

	v.logger.Info().Int("tokens", len(entries)).Msg("Basket replaced")
	v.recorder.Record(types.EventBasketUpdated, "", types.BasketUpdatedEvent{
		Principal: v.owner,
		Entries:   entries,
	})
	return nil
}

// Deposit credits the principal's ledger entry for a whitelisted token,
// pulls custody of the amount, and ensures the standing venue approval
// exists. If autoRebalance is set, the deviation check and, when warranted,
// a full rebalance run inside the same atomic operation.
func (v *Vault) Deposit(ctx context.Context, caller, token common.Address, amount sdkmath.Int, autoRebalance bool) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.exit()

	if !v.configured {
		return ErrNotConfigured
	}
	if err := v.authorize(caller); err != nil {
		return err
	}
	if !v.entries.Contains(token) {
		return fmt.Errorf("%w: %s", ErrNotWhitelisted, token.Hex())
	}
	if amount.IsNil() || !amount.IsPositive() {
		return ErrZeroAmount
	}

	if err := v.custody.PullFrom(ctx, token, caller, amount); err != nil {
		return fmt.Errorf("deposit custody move failed: %w", err)
	}

	cp := v.checkpoint()
	if err := v.depositLocked(ctx, token, amount, autoRebalance); err != nil {
		v.restore(cp)
		// Custody already moved; return it so the discarded operation leaves
		// no trace.
		if refundErr := v.custody.PayTo(ctx, token, caller, amount); refundErr != nil {
			v.logger.Error().Err(refundErr).
				Str("token", token.Hex()).
				Str("amount", amount.String()).
				Msg("Failed to refund custody after aborted deposit")
		}
		return err
	}
	return nil
}

// depositLocked applies the ledger mutation and post-deposit steps. Callers
// hold the busy flag and roll back on error.
func (v *Vault) depositLocked(ctx context.Context, token common.Address, amount sdkmath.Int, autoRebalance bool) error {
	v.ledger[token] = v.balance(token).Add(amount)

	if err := v.ensureApproval(ctx, token); err != nil {
		return err
	}

	v.logger.Info().
		Str("token", token.Hex()).
		Str("amount", amount.String()).
		Str("balance", v.balance(token).String()).
		Msg("Deposit recorded")
	v.recorder.Record(types.EventDeposit, "", types.DepositEvent{
		Principal: v.owner,
		Token:     token,
		Amount:    amount,
	})

	if autoRebalance {
		return v.rebalanceLocked(ctx)
	}
	return nil
}

// Withdraw debits the principal's ledger entry and moves custody back to the
// principal. The custody move is the final step so a failure anywhere leaves
// both ledger and custody untouched.
func (v *Vault) Withdraw(ctx context.Context, caller, token common.Address, amount sdkmath.Int, autoRebalance bool) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.exit()

	if !v.configured {
		return ErrNotConfigured
	}
	if err := v.authorize(caller); err != nil {
		return err
	}
	if !v.entries.Contains(token) {
		return fmt.Errorf("%w: %s", ErrNotWhitelisted, token.Hex())
	}
	if amount.IsNil() || !amount.IsPositive() {
		return ErrZeroAmount
	}
	if v.balance(token).LT(amount) {
		return fmt.Errorf("%w: have %s, want %s", ErrInsufficientBalance, v.balance(token).String(), amount.String())
	}

	cp := v.checkpoint()
	if err := v.withdrawLocked(ctx, caller, token, amount, autoRebalance); err != nil {
		v.restore(cp)
		return err
	}
	return nil
}

func (v *Vault) withdrawLocked(ctx context.Context, caller, token common.Address, amount sdkmath.Int, autoRebalance bool) error {
	v.ledger[token] = v.balance(token).Sub(amount)

	if autoRebalance {
		if err := v.rebalanceLocked(ctx); err != nil {
			return err
		}
	}

	if err := v.custody.PayTo(ctx, token, caller, amount); err != nil {
		return fmt.Errorf("withdraw custody move failed: %w", err)
	}

	v.logger.Info().
		Str("token", token.Hex()).
		Str("amount", amount.String()).
		Str("balance", v.balance(token).String()).
		Msg("Withdrawal recorded")
	v.recorder.Record(types.EventWithdraw, "", types.WithdrawEvent{
		Principal: v.owner,
		Token:     token,
		Amount:    amount,
	})
	return nil
}

// SetRebalanceThreshold updates the deviation threshold.
func (v *Vault) SetRebalanceThreshold(caller common.Address, threshold int64) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.exit()

	if !v.configured {
		return ErrNotConfigured
	}
	if err := v.authorize(caller); err != nil {
		return err
	}

	old := v.threshold
	v.threshold = threshold
	v.recorder.Record(types.EventRebalanceThresholdUpdated, "", types.RebalanceThresholdUpdatedEvent{
		Principal:    v.owner,
		OldThreshold: old,
		NewThreshold: threshold,
	})
	return nil
}

// SetAutomation toggles scheduler-triggered rebalancing.
func (v *Vault) SetAutomation(caller common.Address, enabled bool) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.exit()

	if !v.configured {
		return ErrNotConfigured
	}
	if err := v.authorize(caller); err != nil {
		return err
	}

	v.automation = enabled
	v.recorder.Record(types.EventAutomationToggled, "", types.AutomationToggledEvent{
		Principal: v.owner,
		Enabled:   enabled,
	})
	return nil
}

// Read accessors take the read lock so they are safe to call from other
// goroutines (the web server) while an operation is mutating state.

// Owner returns the controlling principal.
func (v *Vault) Owner() common.Address {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.owner
}

// Beneficiary returns the treasury reference set at configuration.
func (v *Vault) Beneficiary() common.Address {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.beneficiary
}

// FeeRate returns the immutable fee rate set at configuration.
func (v *Vault) FeeRate() uint32 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.feeRate
}

// Threshold returns the current deviation threshold in parts-per-million.
func (v *Vault) Threshold() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.threshold
}

// AutomationEnabled reports whether scheduler-triggered rebalancing is on.
func (v *Vault) AutomationEnabled() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.automation
}

// Basket returns a copy of the current basket configuration.
func (v *Vault) Basket() types.Basket {
	v.mu.RLock()
	defer v.mu.RUnlock()
	entries := make(types.Basket, len(v.entries))
	copy(entries, v.entries)
	return entries
}

// Balance returns the recorded ledger balance for token.
func (v *Vault) Balance(token common.Address) sdkmath.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.balance(token)
}

func (v *Vault) balance(token common.Address) sdkmath.Int {
	if amount, ok := v.ledger[token]; ok {
		return amount
	}
	return sdkmath.ZeroInt()
}

// balances returns ledger balances in basket order.
func (v *Vault) balances() []sdkmath.Int {
	out := make([]sdkmath.Int, len(v.entries))
	for i := range v.entries {
		out[i] = v.balance(v.entries[i].Token)
	}
	return out
}

// authorize compares the caller's identity to the stored owner.
func (v *Vault) authorize(caller common.Address) error {
	if caller != v.owner {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller.Hex())
	}
	return nil
}

// enter acquires the mutual-exclusion flag, rejecting re-entry, then takes
// the write lock so concurrent readers see no half-applied state. The flag
// is checked first: a re-entrant call arrives on the goroutine already
// holding the lock and must fail fast instead of deadlocking on it.
func (v *Vault) enter() error {
	if !v.busy.CompareAndSwap(false, true) {
		return ErrReentrant
	}
	v.mu.Lock()
	return nil
}

// exit releases the write lock and the mutual-exclusion flag.
func (v *Vault) exit() {
	v.mu.Unlock()
	v.busy.Store(false)
}

// ensureApproval establishes the standing unlimited venue approval for a
// token on first deposit. Checked once per token; never reset.
func (v *Vault) ensureApproval(ctx context.Context, token common.Address) error {
	if v.approved[token] {
		return nil
	}

	allowance, err := v.custody.Allowance(ctx, token)
	if err != nil {
		return fmt.Errorf("allowance check failed: %w", err)
	}
	if allowance.LT(allowanceHighWater) {
		if err := v.custody.ApproveUnlimited(ctx, token); err != nil {
			return fmt.Errorf("venue approval failed: %w", err)
		}
	}
	v.approved[token] = true
	return nil
}

// vaultCheckpoint captures the mutable engine state of one operation.
type vaultCheckpoint struct {
	entries    types.Basket
	routes     types.RouteCache
	ledger     map[common.Address]sdkmath.Int
	approved   map[common.Address]bool
	threshold  int64
	automation bool
}

// checkpoint deep-copies the mutable state so a failed operation can be
// discarded wholesale.
func (v *Vault) checkpoint() vaultCheckpoint {
	cp := vaultCheckpoint{
		entries:    make(types.Basket, len(v.entries)),
		routes:     make(types.RouteCache, len(v.routes)),
		ledger:     make(map[common.Address]sdkmath.Int, len(v.ledger)),
		approved:   make(map[common.Address]bool, len(v.approved)),
		threshold:  v.threshold,
		automation: v.automation,
	}
	copy(cp.entries, v.entries)
	for k, p := range v.routes {
		cp.routes[k] = p
	}
	for k, a := range v.ledger {
		cp.ledger[k] = a
	}
	for k, ok := range v.approved {
		cp.approved[k] = ok
	}
	return cp
}

// restore rolls the engine back to a checkpoint.
func (v *Vault) restore(cp vaultCheckpoint) {
	v.entries = cp.entries
	v.routes = cp.routes
	v.ledger = cp.ledger
	v.approved = cp.approved
	v.threshold = cp.threshold
	v.automation = cp.automation
}
