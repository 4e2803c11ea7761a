package main

import (
	"context"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/basketlabs/bvm/internal/config"
	"github.com/basketlabs/bvm/internal/engine"
	"github.com/basketlabs/bvm/internal/logger"
	"github.com/basketlabs/bvm/internal/oracle"
	"github.com/basketlabs/bvm/internal/state"
	"github.com/basketlabs/bvm/internal/venue"
	"github.com/basketlabs/bvm/internal/web"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// main is the entry point for the BVM daemon.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("BVM Core Logic Starting...")

	// Initialize Database Connection (event log and rebalance reports)
	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// --- 2. Chain Client Initialization (with Safety Switch) ---
	bvmMode := os.Getenv("BVM_MODE")
	if bvmMode != "live" {
		log.Fatal().Msg("BVM_MODE is not set to 'live'. Halting to prevent accidental execution. Set BVM_MODE=live to run.")
	}
	log.Warn().Msg("Initializing BVM in LIVE mode. Real transactions will be broadcast.")

	ethClient, err := ethclient.Dial(config.NodeRPC)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to JSON-RPC node")
	}
	defer ethClient.Close()
	log.Info().Str("endpoint", config.NodeRPC).Msg("JSON-RPC connected")

	signerKey, err := crypto.HexToECDSA(strings.TrimPrefix(config.SignerKeyHex, "0x"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to parse signer key")
	}

	feedReader, err := oracle.NewChainlinkReader(ethClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize price feed reader")
	}
	priceSource := oracle.NewAdapter(feedReader)

	venueClient, err := venue.NewClient(ethClient, config.VenueFactory, signerKey, big.NewInt(config.ChainID))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize venue client")
	}
	log.Info().
		Str("factory", config.VenueFactory.Hex()).
		Str("wallet", venueClient.Wallet().Hex()).
		Msg("Venue client initialized")

	// --- 3. Create Vault Instance with Dependency Injection ---
	log.Info().Msg("Creating vault instance with dependency injection...")

	vaultConfig := engine.Config{
		Oracle:   priceSource,
		Venue:    venueClient,
		Custody:  venueClient,
		Recorder: state.NewEventRecorder(),
	}

	vault, err := engine.NewVault(vaultConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create vault instance")
	}

	ctx := context.Background()

	configureParams := engine.ConfigureParams{
		Owner:       config.OwnerAddress,
		Tokens:      config.BasketTokens,
		Feeds:       config.BasketFeeds,
		Allocations: config.BasketAllocations,
		Threshold:   config.RebalanceThreshold,
		FeeTier:     config.FeeTier,
		FeeRate:     config.FeeRate,
		Beneficiary: config.BeneficiaryAddress,
	}
	if err := vault.Configure(ctx, configureParams); err != nil {
		log.Fatal().Err(err).Msg("Failed to configure vault")
	}
	log.Info().Int("basket_size", len(config.BasketTokens)).Msg("Vault configured")

	if err := vault.SetAutomation(config.OwnerAddress, true); err != nil {
		log.Fatal().Err(err).Msg("Failed to enable automation")
	}

	// --- Start Web Server ---
	webPort := os.Getenv("WEB_PORT")
	if webPort == "" {
		webPort = "8080"
	}

	webServer := web.NewWebServer(webPort, vault)
	go func() {
		log.Info().Str("port", webPort).Str("url", "http://localhost:"+webPort).Msg("Starting BVM web API")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 4. Start Upkeep Loop ---
	scheduler, err := engine.NewScheduler(vault)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}

	log.Info().Str("interval", config.UpkeepInterval.String()).Msg("Starting upkeep loop")
	scheduler.RunLoop(ctx, config.UpkeepInterval)
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
