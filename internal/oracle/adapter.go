/*

This file implements the price oracle adapter. It reads the latest report
from an external feed, validates it, and normalizes the answer to the
engine's 18-decimal fixed-point USD representation. Prices are never cached
across operations; every snapshot re-reads live.

*/

package oracle

import (
	"context"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/basketlabs/bvm/internal/logger"
	"github.com/basketlabs/bvm/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrCallFailed    = errors.New("price feed call failed")
	ErrInvalidAnswer = errors.New("price feed answer is not positive")
	ErrInvalidUpdate = errors.New("price feed update timestamp is zero")
)

// Source produces validated, normalized USD prices for basket tokens.
type Source interface {
	// GetPrice returns the feed's current USD price at 18-decimal fixed point.
	GetPrice(ctx context.Context, feed common.Address) (sdkmath.Int, error)
}

// Adapter validates and scales raw feed reports.
type Adapter struct {
	reader FeedReader
	logger zerolog.Logger
}

// NewAdapter creates a price adapter over the given feed reader.
func NewAdapter(reader FeedReader) *Adapter {
	return &Adapter{
		reader: reader,
		logger: logger.GetForComponent("price_oracle"),
	}
}

// GetPrice reads the latest reported value and its update timestamp from the
// feed, rejects stale or non-positive reports, and scales the answer to
// 18 decimals using the feed's reported precision.
func (a *Adapter) GetPrice(ctx context.Context, feed common.Address) (sdkmath.Int, error) {
	round, err := a.reader.LatestRoundData(ctx, feed)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("%w: %s: %w", ErrCallFailed, feed.Hex(), err)
	}

	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return sdkmath.Int{}, fmt.Errorf("%w: feed %s", ErrInvalidAnswer, feed.Hex())
	}
	if round.UpdatedAt == nil || round.UpdatedAt.Sign() == 0 {
		return sdkmath.Int{}, fmt.Errorf("%w: feed %s", ErrInvalidUpdate, feed.Hex())
	}

	decimals, err := a.reader.Decimals(ctx, feed)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("%w: decimals for %s: %w", ErrCallFailed, feed.Hex(), err)
	}

	price, err := utils.ScaleToPrice(round.Answer, decimals)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("failed to scale answer from feed %s: %w", feed.Hex(), err)
	}

	a.logger.Debug().
		Str("feed", feed.Hex()).
		Str("rawAnswer", round.Answer.String()).
		Uint8("decimals", decimals).
		Str("price", price.String()).
		Msg("Price fetched and normalized")

	return price, nil
}
