/*

This file implements the live venue client. Pool discovery and liquidity
reads go through eth_call; swaps are signed transactions whose output
amounts are recovered from the pool's Swap log. The swap is submitted with
the widest possible price bound and no minimum output, mirroring the
engine's unconstrained execution semantics.

*/

package venue

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/basketlabs/bvm/internal/logger"
	"github.com/basketlabs/bvm/internal/utils"
)

// FactoryABI is the pool-discovery surface of the venue factory.
const FactoryABI = `[
	{
		"inputs": [
			{"name": "tokenA", "type": "address"},
			{"name": "tokenB", "type": "address"},
			{"name": "fee", "type": "uint24"}
		],
		"name": "getPool",
		"outputs": [{"name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// PoolABI is the subset of the pool contract the engine consumes.
const PoolABI = `[
	{
		"inputs": [],
		"name": "liquidity",
		"outputs": [{"name": "", "type": "uint128"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "recipient", "type": "address"},
			{"name": "zeroForOne", "type": "bool"},
			{"name": "amountSpecified", "type": "int256"},
			{"name": "sqrtPriceLimitX96", "type": "uint160"},
			{"name": "data", "type": "bytes"}
		],
		"name": "swap",
		"outputs": [
			{"name": "amount0", "type": "int256"},
			{"name": "amount1", "type": "int256"}
		],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "sender", "type": "address"},
			{"indexed": true, "name": "recipient", "type": "address"},
			{"indexed": false, "name": "amount0", "type": "int256"},
			{"indexed": false, "name": "amount1", "type": "int256"},
			{"indexed": false, "name": "sqrtPriceX96", "type": "uint160"},
			{"indexed": false, "name": "liquidity", "type": "uint128"},
			{"indexed": false, "name": "tick", "type": "int24"}
		],
		"name": "Swap",
		"type": "event"
	}
]`

// Widest acceptable sqrt price bounds. Submitting these makes the swap
// effectively unbounded in price.
var (
	minSqrtRatio    = big.NewInt(4295128739)
	maxSqrtRatio, _ = new(big.Int).SetString("1461446703485210103287273052203988822378723970342", 10)
)

// Client is the live venue client backed by an Ethereum RPC connection.
type Client struct {
	client     *ethclient.Client
	factory    common.Address
	privateKey *ecdsa.PrivateKey
	wallet     common.Address
	chainID    *big.Int

	factoryABI abi.ABI
	poolABI    abi.ABI
	erc20ABI   abi.ABI

	logger zerolog.Logger
}

// NewClient creates a venue client for the given factory, signing with key.
func NewClient(client *ethclient.Client, factory common.Address, key *ecdsa.PrivateKey, chainID *big.Int) (*Client, error) {
	factoryABI, err := abi.JSON(strings.NewReader(FactoryABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse factory ABI: %w", err)
	}
	poolABI, err := abi.JSON(strings.NewReader(PoolABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool ABI: %w", err)
	}
	erc20ABI, err := abi.JSON(strings.NewReader(ERC20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}

	return &Client{
		client:     client,
		factory:    factory,
		privateKey: key,
		wallet:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:    chainID,
		factoryABI: factoryABI,
		poolABI:    poolABI,
		erc20ABI:   erc20ABI,
		logger:     logger.GetForComponent("venue_client"),
	}, nil
}

// Wallet returns the vault custody address the client signs for.
func (c *Client) Wallet() common.Address {
	return c.wallet
}

// GetPool calls getPool on the venue factory.
func (c *Client) GetPool(ctx context.Context, tokenA, tokenB common.Address, feeTier uint32) (common.Address, error) {
	data, err := c.factoryABI.Pack("getPool", tokenA, tokenB, big.NewInt(int64(feeTier)))
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to pack getPool: %w", err)
	}

	result, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &c.factory, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("getPool call failed: %w", err)
	}

	var pool common.Address
	if err := c.factoryABI.UnpackIntoInterface(&pool, "getPool", result); err != nil {
		return common.Address{}, fmt.Errorf("failed to unpack getPool result: %w", err)
	}
	if pool == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s/%s at tier %d", ErrNoRoute, tokenA.Hex(), tokenB.Hex(), feeTier)
	}
	return pool, nil
}

// Liquidity calls liquidity() on the pool contract.
func (c *Client) Liquidity(ctx context.Context, pool common.Address) (sdkmath.Int, error) {
	data, err := c.poolABI.Pack("liquidity")
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("failed to pack liquidity: %w", err)
	}

	result, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &pool, Data: data}, nil)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("liquidity call to %s failed: %w", pool.Hex(), err)
	}

	var liquidity *big.Int
	if err := c.poolABI.UnpackIntoInterface(&liquidity, "liquidity", result); err != nil {
		return sdkmath.Int{}, fmt.Errorf("failed to unpack liquidity from %s: %w", pool.Hex(), err)
	}
	return utils.SDKFromBig(liquidity)
}

// Swap sells amountIn of tokenIn to the pool and returns the amount of
// tokenOut received, recovered from the pool's Swap log.
func (c *Client) Swap(ctx context.Context, pool, tokenIn, tokenOut common.Address, amountIn sdkmath.Int) (sdkmath.Int, error) {
	amount, err := utils.BigFromSDK(amountIn)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("%w: %w", ErrSwapFailed, err)
	}

	// token0 is the lower address; selling token0 drives the price down.
	zeroForOne := bytes.Compare(tokenIn.Bytes(), tokenOut.Bytes()) < 0
	priceLimit := new(big.Int).Sub(maxSqrtRatio, big.NewInt(1))
	if zeroForOne {
		priceLimit = new(big.Int).Add(minSqrtRatio, big.NewInt(1))
	}

	data, err := c.poolABI.Pack("swap", c.wallet, zeroForOne, amount, priceLimit, []byte{})
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("%w: failed to pack swap: %w", ErrSwapFailed, err)
	}

	receipt, err := c.transact(ctx, pool, data)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("%w: %w", ErrSwapFailed, err)
	}

	amountOut, err := c.swapAmountOut(receipt, pool, zeroForOne)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("%w: %w", ErrSwapFailed, err)
	}

	c.logger.Info().
		Str("pool", pool.Hex()).
		Str("tokenIn", tokenIn.Hex()).
		Str("tokenOut", tokenOut.Hex()).
		Str("amountIn", amountIn.String()).
		Str("amountOut", amountOut.String()).
		Str("txHash", receipt.TxHash.Hex()).
		Msg("Swap confirmed")

	return amountOut, nil
}

// swapAmountOut extracts the received amount from the pool's Swap log. Pool
// amounts are signed from the pool's perspective; the out side is negative.
func (c *Client) swapAmountOut(receipt *ethtypes.Receipt, pool common.Address, zeroForOne bool) (sdkmath.Int, error) {
	swapTopic := c.poolABI.Events["Swap"].ID
	for _, log := range receipt.Logs {
		if log.Address != pool || len(log.Topics) == 0 || log.Topics[0] != swapTopic {
			continue
		}

		values, err := c.poolABI.Events["Swap"].Inputs.NonIndexed().Unpack(log.Data)
		if err != nil {
			return sdkmath.Int{}, fmt.Errorf("failed to unpack Swap log: %w", err)
		}
		amount0 := values[0].(*big.Int)
		amount1 := values[1].(*big.Int)

		out := amount1
		if !zeroForOne {
			out = amount0
		}
		return utils.SDKFromBig(new(big.Int).Neg(out))
	}
	return sdkmath.Int{}, fmt.Errorf("no Swap log found in transaction %s", receipt.TxHash.Hex())
}

// transact signs, submits and waits for a transaction to the given contract.
func (c *Client) transact(ctx context.Context, to common.Address, data []byte) (*ethtypes.Receipt, error) {
	nonce, err := c.client.PendingNonceAt(ctx, c.wallet)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	gasLimit, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.wallet,
		To:    &to,
		Data:  data,
		Value: big.NewInt(0),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}

	tx := ethtypes.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(c.chainID), c.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, c.client, signedTx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for transaction %s: %w", signedTx.Hash().Hex(), err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("transaction %s reverted", signedTx.Hash().Hex())
	}
	return receipt, nil
}
