/*

This file implements the live feed reader over Ethereum JSON-RPC. The
aggregator surface is small enough that the ABI is parsed inline and calls
are packed by hand rather than generated.

*/

package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// AggregatorABI is the subset of the aggregator contract surface the engine consumes.
const AggregatorABI = `[
	{
		"inputs": [],
		"name": "latestRoundData",
		"outputs": [
			{"name": "roundId", "type": "uint80"},
			{"name": "answer", "type": "int256"},
			{"name": "startedAt", "type": "uint256"},
			{"name": "updatedAt", "type": "uint256"},
			{"name": "answeredInRound", "type": "uint80"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "decimals",
		"outputs": [{"name": "", "type": "uint8"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// ChainlinkReader reads aggregator contracts over an Ethereum RPC connection.
type ChainlinkReader struct {
	client *ethclient.Client
	abi    abi.ABI
}

// NewChainlinkReader creates a feed reader bound to the given RPC client.
func NewChainlinkReader(client *ethclient.Client) (*ChainlinkReader, error) {
	parsed, err := abi.JSON(strings.NewReader(AggregatorABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse aggregator ABI: %w", err)
	}
	return &ChainlinkReader{client: client, abi: parsed}, nil
}

// LatestRoundData calls latestRoundData() on the feed contract.
func (r *ChainlinkReader) LatestRoundData(ctx context.Context, feed common.Address) (RoundData, error) {
	data, err := r.abi.Pack("latestRoundData")
	if err != nil {
		return RoundData{}, fmt.Errorf("failed to pack latestRoundData: %w", err)
	}

	result, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: data}, nil)
	if err != nil {
		return RoundData{}, fmt.Errorf("latestRoundData call to %s failed: %w", feed.Hex(), err)
	}

	values, err := r.abi.Unpack("latestRoundData", result)
	if err != nil {
		return RoundData{}, fmt.Errorf("failed to unpack latestRoundData from %s: %w", feed.Hex(), err)
	}
	if len(values) != 5 {
		return RoundData{}, fmt.Errorf("latestRoundData from %s returned %d values, want 5", feed.Hex(), len(values))
	}

	round := RoundData{
		RoundID:         values[0].(*big.Int),
		Answer:          values[1].(*big.Int),
		StartedAt:       values[2].(*big.Int),
		UpdatedAt:       values[3].(*big.Int),
		AnsweredInRound: values[4].(*big.Int),
	}
	return round, nil
}

// Decimals calls decimals() on the feed contract.
func (r *ChainlinkReader) Decimals(ctx context.Context, feed common.Address) (uint8, error) {
	data, err := r.abi.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("failed to pack decimals: %w", err)
	}

	result, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("decimals call to %s failed: %w", feed.Hex(), err)
	}

	var decimals uint8
	if err := r.abi.UnpackIntoInterface(&decimals, "decimals", result); err != nil {
		return 0, fmt.Errorf("failed to unpack decimals from %s: %w", feed.Hex(), err)
	}
	return decimals, nil
}
