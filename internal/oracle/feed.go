package oracle

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RoundData is the latest report from an external price feed.
type RoundData struct {
	RoundID         *big.Int
	Answer          *big.Int
	StartedAt       *big.Int
	UpdatedAt       *big.Int
	AnsweredInRound *big.Int
}

// FeedReader abstracts the external aggregator contract surface. The live
// implementation speaks to Chainlink-style feeds over JSON-RPC; tests supply
// in-memory fakes.
type FeedReader interface {
	// LatestRoundData returns the feed's most recent report.
	LatestRoundData(ctx context.Context, feed common.Address) (RoundData, error)

	// Decimals returns the decimal precision the feed reports answers at.
	Decimals(ctx context.Context, feed common.Address) (uint8, error)
}
