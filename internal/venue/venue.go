/*

This file defines the liquidity venue interface boundary. The engine only
ever discovers pools at basket-configuration time, reads their liquidity,
and invokes the swap primitive; everything else about the venue is opaque.

*/

package venue

import (
	"context"
	"errors"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNoRoute     = errors.New("no pool exists for token pair")
	ErrNoLiquidity = errors.New("pool reports zero liquidity")
	ErrSwapFailed  = errors.New("swap execution failed")
)

// Venue abstracts the external liquidity venue the engine trades against.
// The live implementation speaks to a Uniswap-style factory and its pools
// over JSON-RPC; tests supply in-memory fakes.
type Venue interface {
	// GetPool returns the pool trading the pair at the given fee tier.
	// Returns ErrNoRoute when the factory reports the zero address.
	GetPool(ctx context.Context, tokenA, tokenB common.Address, feeTier uint32) (common.Address, error)

	// Liquidity returns the pool's current in-range liquidity.
	Liquidity(ctx context.Context, pool common.Address) (sdkmath.Int, error)

	// Swap sells amountIn of tokenIn to the pool for tokenOut and returns the
	// amount received. No price limit and no minimum output are applied.
	Swap(ctx context.Context, pool, tokenIn, tokenOut common.Address, amountIn sdkmath.Int) (sdkmath.Int, error)
}

// Custodian moves token custody in and out of the vault wallet and manages
// the standing approval grant toward the venue.
type Custodian interface {
	// PullFrom moves amount of token from the principal into vault custody.
	PullFrom(ctx context.Context, token, from common.Address, amount sdkmath.Int) error

	// PayTo moves amount of token from vault custody to the principal.
	PayTo(ctx context.Context, token, to common.Address, amount sdkmath.Int) error

	// Allowance returns the vault wallet's current approval of token toward
	// the venue.
	Allowance(ctx context.Context, token common.Address) (sdkmath.Int, error)

	// ApproveUnlimited grants the venue an effectively unlimited allowance
	// for token. It is never reset.
	ApproveUnlimited(ctx context.Context, token common.Address) error
}
