// Package config handles loading and validating configuration from
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the settlement engine.
type Config struct {
	// HTTP
	HTTPAddr string

	// Storage
	DatabaseURL string // empty → in-memory ledger
	RedisURL    string // empty → no read cache

	// Events
	KafkaBrokers string // comma-separated; empty → events disabled
	KafkaTopic   string

	// Chain
	RPCURL         string // empty → stub client (local development)
	TokenMint      string
	BaseMint       string // the mint buyback proceeds accumulate in
	ConfirmTimeout time.Duration
	RetryAttempts  int

	// Custody wallets
	ColdWallet    string
	HotWallet     string
	HotWalletKey  string // base58 64-byte secret, signs payouts and burns
	ColdWalletKey string // base58 64-byte secret, signs top-ups

	// Stakes
	StakePerSample uint64
	MinSamples     int
	MaxSamples     int
	CommitTTL      time.Duration

	// Circuit breaker
	MaxSinglePayout   uint64
	MaxDailyPayout    uint64
	MinHotReserve     uint64
	MaxSingleTransfer uint64
	MaxDailyTransfer  uint64

	// Bankroll management
	HotLowWater   uint64
	HotTarget     uint64
	TopUpInterval time.Duration

	// Buyback and burn
	SwapAPIURL         string
	BuybackInterval    time.Duration
	BuybackMinProceeds uint64
	FeeBufferLamports  uint64
	MaxPriceImpactBps  int
	SlippageBps        int

	// Janitor
	SweepInterval time.Duration

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables with fallback to
// a .env file. Priority: environment > .env > defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		KafkaBrokers: getEnv("KAFKA_BROKERS", ""),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "settlement.resolved"),

		RPCURL:         getEnv("RPC_URL", ""),
		TokenMint:      getEnv("TOKEN_MINT", ""),
		BaseMint:       getEnv("BASE_MINT", "So11111111111111111111111111111111111111112"),
		ConfirmTimeout: time.Duration(getEnvInt("CONFIRM_TIMEOUT_SECONDS", 60)) * time.Second,
		RetryAttempts:  getEnvInt("RETRY_ATTEMPTS", 3),

		ColdWallet:    getEnv("COLD_WALLET", ""),
		HotWallet:     getEnv("HOT_WALLET", ""),
		HotWalletKey:  getEnv("HOT_WALLET_KEY", ""),
		ColdWalletKey: getEnv("COLD_WALLET_KEY", ""),

		StakePerSample: getEnvUint64("STAKE_PER_SAMPLE", 5000),
		MinSamples:     getEnvInt("MIN_SAMPLES", 1),
		MaxSamples:     getEnvInt("MAX_SAMPLES", 10),
		CommitTTL:      time.Duration(getEnvInt("COMMIT_TTL_SECONDS", 300)) * time.Second,

		MaxSinglePayout:   getEnvUint64("MAX_SINGLE_PAYOUT", 1_000_000),
		MaxDailyPayout:    getEnvUint64("MAX_DAILY_PAYOUT", 10_000_000),
		MinHotReserve:     getEnvUint64("MIN_HOT_RESERVE", 500_000),
		MaxSingleTransfer: getEnvUint64("MAX_SINGLE_TRANSFER", 5_000_000),
		MaxDailyTransfer:  getEnvUint64("MAX_DAILY_TRANSFER", 20_000_000),

		HotLowWater:   getEnvUint64("HOT_LOW_WATER", 1_000_000),
		HotTarget:     getEnvUint64("HOT_TARGET", 2_000_000),
		TopUpInterval: time.Duration(getEnvInt("TOPUP_INTERVAL_SECONDS", 60)) * time.Second,

		SwapAPIURL:         getEnv("SWAP_API_URL", "https://quote-api.jup.ag/v6"),
		BuybackInterval:    time.Duration(getEnvInt("BUYBACK_INTERVAL_MINUTES", 60)) * time.Minute,
		BuybackMinProceeds: getEnvUint64("BUYBACK_MIN_PROCEEDS", 100_000),
		FeeBufferLamports:  getEnvUint64("FEE_BUFFER_LAMPORTS", 10_000),
		MaxPriceImpactBps:  getEnvInt("MAX_PRICE_IMPACT_BPS", 150),
		SlippageBps:        getEnvInt("SLIPPAGE_BPS", 50),

		SweepInterval: time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 60)) * time.Second,

		LogLevel: getEnv("LOG_LEVEL", "INFO"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks that required configuration values are set and valid.
func (c *Config) Validate() error {
	if c.StakePerSample == 0 {
		return fmt.Errorf("STAKE_PER_SAMPLE must be positive")
	}
	if c.MinSamples < 1 {
		return fmt.Errorf("MIN_SAMPLES must be at least 1")
	}
	if c.MaxSamples < c.MinSamples {
		return fmt.Errorf("MAX_SAMPLES must be >= MIN_SAMPLES")
	}
	if c.CommitTTL <= 0 {
		return fmt.Errorf("COMMIT_TTL_SECONDS must be positive")
	}
	if c.MaxSinglePayout == 0 || c.MaxDailyPayout == 0 {
		return fmt.Errorf("payout limits must be positive")
	}
	if c.MaxSingleTransfer == 0 || c.MaxDailyTransfer == 0 {
		return fmt.Errorf("transfer limits must be positive")
	}
	if c.HotTarget < c.HotLowWater {
		return fmt.Errorf("HOT_TARGET must be >= HOT_LOW_WATER")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("RETRY_ATTEMPTS must be at least 1")
	}
	if c.RPCURL != "" {
		if c.TokenMint == "" {
			return fmt.Errorf("TOKEN_MINT is required when RPC_URL is set")
		}
		if c.ColdWallet == "" || c.HotWallet == "" {
			return fmt.Errorf("COLD_WALLET and HOT_WALLET are required when RPC_URL is set")
		}
		if c.HotWalletKey == "" {
			return fmt.Errorf("HOT_WALLET_KEY is required when RPC_URL is set")
		}
	}
	return nil
}

// MaskedHotKey returns the hot wallet key with most characters hidden
// for logging.
func (c *Config) MaskedHotKey() string {
	return maskSecret(c.HotWalletKey)
}

// MaskedColdKey returns the cold wallet key with most characters hidden
// for logging.
func (c *Config) MaskedColdKey() string {
	return maskSecret(c.ColdWalletKey)
}

// maskSecret hides all but the first and last 4 characters of a secret.
func maskSecret(s string) string {
	if len(s) <= 8 {
		if len(s) == 0 {
			return "(not set)"
		}
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as an integer or returns a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvUint64 retrieves an environment variable as a uint64 or returns a default.
func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseUint(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}
