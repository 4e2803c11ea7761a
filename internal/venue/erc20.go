package venue

import (
	"context"
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/basketlabs/bvm/internal/utils"
)

// ERC20ABI is the token surface used for custody moves and approvals.
const ERC20ABI = `[
	{
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"}
		],
		"name": "allowance",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "spender", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "approve",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "transfer",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "from", "type": "address"},
			{"name": "to", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "transferFrom",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// maxApproval is the unlimited allowance granted toward the venue.
var maxApproval = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// PullFrom moves amount of token from the principal into vault custody.
func (c *Client) PullFrom(ctx context.Context, token, from common.Address, amount sdkmath.Int) error {
	value, err := utils.BigFromSDK(amount)
	if err != nil {
		return err
	}
	data, err := c.erc20ABI.Pack("transferFrom", from, c.wallet, value)
	if err != nil {
		return fmt.Errorf("failed to pack transferFrom: %w", err)
	}
	if _, err := c.transact(ctx, token, data); err != nil {
		return fmt.Errorf("transferFrom on %s failed: %w", token.Hex(), err)
	}
	return nil
}

// PayTo moves amount of token from vault custody to the principal.
func (c *Client) PayTo(ctx context.Context, token, to common.Address, amount sdkmath.Int) error {
	value, err := utils.BigFromSDK(amount)
	if err != nil {
		return err
	}
	data, err := c.erc20ABI.Pack("transfer", to, value)
	if err != nil {
		return fmt.Errorf("failed to pack transfer: %w", err)
	}
	if _, err := c.transact(ctx, token, data); err != nil {
		return fmt.Errorf("transfer on %s failed: %w", token.Hex(), err)
	}
	return nil
}

// Allowance returns the vault wallet's approval of token toward the factory's
// venue.
func (c *Client) Allowance(ctx context.Context, token common.Address) (sdkmath.Int, error) {
	data, err := c.erc20ABI.Pack("allowance", c.wallet, c.factory)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("failed to pack allowance: %w", err)
	}

	result, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("allowance call on %s failed: %w", token.Hex(), err)
	}

	var allowance *big.Int
	if err := c.erc20ABI.UnpackIntoInterface(&allowance, "allowance", result); err != nil {
		return sdkmath.Int{}, fmt.Errorf("failed to unpack allowance from %s: %w", token.Hex(), err)
	}
	return utils.SDKFromBig(allowance)
}

// ApproveUnlimited grants the venue the maximum possible allowance for token.
func (c *Client) ApproveUnlimited(ctx context.Context, token common.Address) error {
	data, err := c.erc20ABI.Pack("approve", c.factory, maxApproval)
	if err != nil {
		return fmt.Errorf("failed to pack approve: %w", err)
	}
	if _, err := c.transact(ctx, token, data); err != nil {
		return fmt.Errorf("approve on %s failed: %w", token.Hex(), err)
	}

	c.logger.Info().
		Str("token", token.Hex()).
		Str("spender", c.factory.Hex()).
		Msg("Unlimited venue approval granted")
	return nil
}
