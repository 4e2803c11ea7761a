/*

This file implements basket configuration validation and liquidity route
discovery. The full validation sequence runs before anything is persisted:
a basket that fails any check leaves the caller's previous configuration
untouched.

*/

package basket

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/basketlabs/bvm/internal/logger"
	"github.com/basketlabs/bvm/internal/oracle"
	"github.com/basketlabs/bvm/internal/types"
	"github.com/basketlabs/bvm/internal/venue"
)

// Error definitions for zero-tolerance error handling
var (
	ErrBasketSize     = errors.New("basket length must be between 1 and 6")
	ErrLengthMismatch = errors.New("token, feed and allocation lists must have equal length")
	ErrZeroIdentity   = errors.New("token and feed addresses must be non-zero")
	ErrAllocationSum  = errors.New("target allocations must sum to the allocation scale")
)

// FromComponents assembles a basket from the parallel lists the factory
// collaborator supplies at configuration time.
func FromComponents(tokens, feeds []common.Address, allocations []int64) (types.Basket, error) {
	if len(tokens) != len(feeds) || len(tokens) != len(allocations) {
		return nil, fmt.Errorf("%w: %d tokens, %d feeds, %d allocations",
			ErrLengthMismatch, len(tokens), len(feeds), len(allocations))
	}

	entries := make(types.Basket, len(tokens))
	for i := range tokens {
		entries[i] = types.TokenEntry{
			Token:            tokens[i],
			PriceFeed:        feeds[i],
			TargetAllocation: allocations[i],
		}
	}
	return entries, nil
}

// Validate runs the full basket validation sequence and discovers the
// liquidity route for every unordered pair of distinct basket tokens at the
// given fee tier. It returns the route cache on success and mutates nothing.
func Validate(ctx context.Context, entries types.Basket, source oracle.Source, v venue.Venue, feeTier uint32) (types.RouteCache, error) {
	basketLogger := logger.GetForComponent("basket_manager")

	if len(entries) < types.MinBasketSize || len(entries) > types.MaxBasketSize {
		return nil, fmt.Errorf("%w: got %d", ErrBasketSize, len(entries))
	}

	for i := range entries {
		if entries[i].Token == (common.Address{}) || entries[i].PriceFeed == (common.Address{}) {
			return nil, fmt.Errorf("%w: entry %d", ErrZeroIdentity, i)
		}
	}

	// Every price feed must produce a valid live report.
	for i := range entries {
		price, err := source.GetPrice(ctx, entries[i].PriceFeed)
		if err != nil {
			return nil, fmt.Errorf("feed validation failed for token %s: %w", entries[i].Token.Hex(), err)
		}
		basketLogger.Debug().
			Str("token", entries[i].Token.Hex()).
			Str("price", price.String()).
			Msg("Price feed validated")
	}

	routes, err := discoverRoutes(ctx, entries, v, feeTier, basketLogger)
	if err != nil {
		return nil, err
	}

	if sum := entries.AllocationSum(); sum != types.AllocationScale {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrAllocationSum, sum, types.AllocationScale)
	}

	basketLogger.Info().
		Int("tokens", len(entries)).
		Int("routes", len(routes)).
		Msg("Basket validated and routes discovered")

	return routes, nil
}

// discoverRoutes looks up a pool for every unordered pair of distinct basket
// tokens and requires each to report non-zero liquidity.
func discoverRoutes(ctx context.Context, entries types.Basket, v venue.Venue, feeTier uint32, basketLogger zerolog.Logger) (types.RouteCache, error) {
	routes := make(types.RouteCache)
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			tokenA, tokenB := entries[i].Token, entries[j].Token

			pool, err := v.GetPool(ctx, tokenA, tokenB, feeTier)
			if err != nil {
				return nil, fmt.Errorf("route lookup failed for %s/%s: %w", tokenA.Hex(), tokenB.Hex(), err)
			}

			liquidity, err := v.Liquidity(ctx, pool)
			if err != nil {
				return nil, fmt.Errorf("liquidity check failed for pool %s: %w", pool.Hex(), err)
			}
			if liquidity.IsZero() {
				return nil, fmt.Errorf("%w: pool %s for %s/%s", venue.ErrNoLiquidity, pool.Hex(), tokenA.Hex(), tokenB.Hex())
			}

			routes[types.NewPairKey(tokenA, tokenB)] = pool
			basketLogger.Debug().
				Str("tokenA", tokenA.Hex()).
				Str("tokenB", tokenB.Hex()).
				Str("pool", pool.Hex()).
				Str("liquidity", liquidity.String()).
				Msg("Liquidity route cached")
		}
	}
	return routes, nil
}
