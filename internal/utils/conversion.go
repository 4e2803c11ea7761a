/*
This file contains common utility functions for converting between different
numeric representations, particularly raw feed answers, big.Int wire values
and 18-decimal fixed-point SDK math values.
*/

package utils

import (
	"errors"
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidDecimals = errors.New("decimals is invalid")
	ErrAmountNil       = errors.New("amount is nil")
	ErrAmountNegative  = errors.New("amount is negative")
)

// PriceDecimals is the fixed-point precision all USD prices are normalized to.
const PriceDecimals = 18

// ScaleToPrice normalizes a raw feed answer reported at the given decimal
// precision to the engine's 18-decimal fixed-point representation.
func ScaleToPrice(raw *big.Int, decimals uint8) (sdkmath.Int, error) {
	if raw == nil {
		return sdkmath.Int{}, ErrAmountNil
	}
	if raw.Sign() < 0 {
		return sdkmath.Int{}, ErrAmountNegative
	}
	if decimals > 30 {
		return sdkmath.Int{}, fmt.Errorf("%w: %d (must be at most 30)", ErrInvalidDecimals, decimals)
	}

	value := sdkmath.NewIntFromBigInt(new(big.Int).Set(raw))
	switch {
	case decimals == PriceDecimals:
		return value, nil
	case decimals < PriceDecimals:
		return value.Mul(pow10(PriceDecimals - int(decimals))), nil
	default:
		return value.Quo(pow10(int(decimals) - PriceDecimals)), nil
	}
}

// BigFromSDK converts an SDK Int to a fresh big.Int for wire encoding.
func BigFromSDK(amount sdkmath.Int) (*big.Int, error) {
	if amount.IsNil() {
		return nil, ErrAmountNil
	}
	return new(big.Int).Set(amount.BigInt()), nil
}

// SDKFromBig converts a big.Int wire value to an SDK Int, rejecting negatives.
func SDKFromBig(amount *big.Int) (sdkmath.Int, error) {
	if amount == nil {
		return sdkmath.Int{}, ErrAmountNil
	}
	if amount.Sign() < 0 {
		return sdkmath.Int{}, ErrAmountNegative
	}
	return sdkmath.NewIntFromBigInt(new(big.Int).Set(amount)), nil
}

// pow10 returns 10^n as an SDK Int.
func pow10(n int) sdkmath.Int {
	result := sdkmath.OneInt()
	ten := sdkmath.NewInt(10)
	for i := 0; i < n; i++ {
		result = result.Mul(ten)
	}
	return result
}
