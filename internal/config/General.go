package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// NodeRPC is the JSON-RPC endpoint of the target network.
	NodeRPC string
	// ChainID is the chain ID of the target network.
	ChainID int64

	// VenueFactory is the liquidity venue factory contract address.
	VenueFactory common.Address
	// FeeTier is the fixed fee tier used for all pool route lookups.
	FeeTier uint32

	// SignerKeyHex is the hex-encoded private key of the vault custody wallet.
	SignerKeyHex string

	// OwnerAddress is the controlling principal of this vault instance.
	OwnerAddress common.Address
	// BeneficiaryAddress is the treasury/beneficiary reference.
	BeneficiaryAddress common.Address
	// FeeRate is the immutable vault fee rate in basis points.
	FeeRate uint32

	// RebalanceThreshold is the deviation threshold in parts-per-million.
	RebalanceThreshold int64
	// UpkeepInterval is how often the scheduler loop runs the check/execute pair.
	UpkeepInterval time.Duration

	// BasketTokens, BasketFeeds and BasketAllocations define the initial basket.
	BasketTokens      []common.Address
	BasketFeeds       []common.Address
	BasketAllocations []int64
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	NodeRPC, err = getEnv("BVM_NODE_RPC")
	if err != nil {
		return err
	}

	ChainID, err = getEnvAsInt64("BVM_CHAIN_ID")
	if err != nil {
		return err
	}

	VenueFactory, err = getEnvAsAddress("BVM_VENUE_FACTORY")
	if err != nil {
		return err
	}

	feeTier, err := getEnvAsInt64("BVM_FEE_TIER")
	if err != nil {
		return err
	}
	FeeTier = uint32(feeTier)

	SignerKeyHex, err = getEnv("BVM_SIGNER_KEY")
	if err != nil {
		return err
	}

	OwnerAddress, err = getEnvAsAddress("BVM_OWNER_ADDRESS")
	if err != nil {
		return err
	}

	BeneficiaryAddress, err = getEnvAsAddress("BVM_BENEFICIARY_ADDRESS")
	if err != nil {
		return err
	}

	feeRate, err := getEnvAsInt64("BVM_FEE_RATE_BPS")
	if err != nil {
		return err
	}
	FeeRate = uint32(feeRate)

	RebalanceThreshold, err = getEnvAsInt64("BVM_REBALANCE_THRESHOLD_PPM")
	if err != nil {
		return err
	}

	upkeepSeconds, err := getEnvAsInt64("BVM_UPKEEP_INTERVAL_SECONDS")
	if err != nil {
		return err
	}
	UpkeepInterval = time.Duration(upkeepSeconds) * time.Second

	BasketTokens, err = getEnvAsAddressList("BVM_BASKET_TOKENS")
	if err != nil {
		return err
	}

	BasketFeeds, err = getEnvAsAddressList("BVM_BASKET_FEEDS")
	if err != nil {
		return err
	}

	BasketAllocations, err = getEnvAsInt64List("BVM_BASKET_ALLOCATIONS")
	if err != nil {
		return err
	}

	log.Debug().
		Str("NodeRPC", NodeRPC).
		Int64("ChainID", ChainID).
		Str("Owner", OwnerAddress.Hex()).
		Int("BasketTokens", len(BasketTokens)).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsInt64 retrieves an environment variable as an int64. Returns error if not set or invalid.
func getEnvAsInt64(key string) (int64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid int64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsAddress retrieves an environment variable as a hex contract/account address.
func getEnvAsAddress(key string) (common.Address, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(valueStr) {
		return common.Address{}, errors.New("environment variable " + key + " must be a valid hex address, got: " + valueStr)
	}
	return common.HexToAddress(valueStr), nil
}

// getEnvAsAddressList retrieves an environment variable as a comma-separated address list.
func getEnvAsAddressList(key string) ([]common.Address, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(valueStr, ",")
	addresses := make([]common.Address, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if !common.IsHexAddress(part) {
			return nil, errors.New("environment variable " + key + " contains an invalid hex address: " + part)
		}
		addresses = append(addresses, common.HexToAddress(part))
	}
	return addresses, nil
}

// getEnvAsInt64List retrieves an environment variable as a comma-separated int64 list.
func getEnvAsInt64List(key string) ([]int64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(valueStr, ",")
	values := make([]int64, 0, len(parts))
	for _, part := range parts {
		value, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, errors.New("environment variable " + key + " contains an invalid int64: " + part)
		}
		values = append(values, value)
	}
	return values, nil
}
