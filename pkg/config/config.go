package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/speedrun-hq/offramp-settler/pkg/logger"
	"github.com/speedrun-hq/offramp-settler/pkg/models"
	"github.com/speedrun-hq/offramp-settler/pkg/store"
)

// Config holds the configuration for the settler service
type Config struct {
	ChainID          int
	RPCURL           string
	EscrowAddress    string
	PrivateKey       string
	SignerEndpoint   string
	WalletType       models.WalletType
	GasPriceInterval time.Duration
	Bridge           BridgeConfig
	Retry            RetryConfig
	AutoAcceptQuotes bool
	Proof            ProofConfig
	Store            store.Config
	MetricsPort      string
	MetricsAPIKey    string
	CircuitBreaker   CircuitBreakerConfig
	LoggerConfig     LoggerConfig
}

// ProviderConfig holds the configuration of one bridge provider
type ProviderConfig struct {
	Name              string
	URL               string
	APIKey            string
	SingleHashWallets []models.WalletType
}

// BridgeConfig holds the bridge quoting and execution configuration
type BridgeConfig struct {
	// Providers are in rank order
	Providers         []ProviderConfig
	FallbackEnabled   bool
	RateLimit         float64
	RefreshInterval   time.Duration
	CompletionTimeout time.Duration
}

// RetryConfig holds the backoff table and retry ceilings
type RetryConfig struct {
	BackoffTable        []time.Duration
	MaxQuoteRetries     int
	MaxExecutionRetries int
}

// ProofConfig holds the proof service configuration
type ProofConfig struct {
	Endpoint     string
	PollInterval time.Duration
	Timeout      time.Duration
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables
func LoadConfig(envFiles ...string) (*Config, error) {
	// Load environment variables from the env files, .env when none is given
	if err := godotenv.Load(envFiles...); err != nil {
		log.Printf("Warning: env file not loaded (%v), using environment variables", err)
	}

	chainID, err := GetEnvChainID()
	if err != nil {
		return nil, err
	}

	rpcURL, err := GetEnvRPCURL()
	if err != nil {
		return nil, err
	}

	escrowAddress, err := GetEnvEscrowAddress()
	if err != nil {
		return nil, err
	}

	walletType, err := GetEnvWalletType()
	if err != nil {
		return nil, err
	}

	gasPriceInterval, err := GetEnvGasPriceInterval()
	if err != nil {
		return nil, err
	}

	providers, err := GetEnvBridgeProviders()
	if err != nil {
		return nil, err
	}

	fallbackEnabled, err := GetEnvBridgeFallbackEnabled()
	if err != nil {
		return nil, err
	}

	rateLimit, err := GetEnvBridgeRateLimit()
	if err != nil {
		return nil, err
	}

	refreshInterval, err := GetEnvQuoteRefreshInterval()
	if err != nil {
		return nil, err
	}

	completionTimeout, err := GetEnvBridgeCompletionTimeout()
	if err != nil {
		return nil, err
	}

	backoffTable, err := GetEnvRetryBackoffTable()
	if err != nil {
		return nil, err
	}

	maxQuoteRetries, err := GetEnvMaxQuoteRetries()
	if err != nil {
		return nil, err
	}

	maxExecutionRetries, err := GetEnvMaxExecutionRetries()
	if err != nil {
		return nil, err
	}

	autoAccept, err := GetEnvAutoAcceptQuotes()
	if err != nil {
		return nil, err
	}

	proofEndpoint, err := GetEnvProofAPIEndpoint()
	if err != nil {
		return nil, err
	}

	proofPollInterval, err := GetEnvProofPollInterval()
	if err != nil {
		return nil, err
	}

	proofTimeout, err := GetEnvProofTimeout()
	if err != nil {
		return nil, err
	}

	storeConfig, err := GetEnvRecordStore()
	if err != nil {
		return nil, err
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ChainID:          chainID,
		RPCURL:           rpcURL,
		EscrowAddress:    escrowAddress,
		PrivateKey:       os.Getenv("PRIVATE_KEY"),
		SignerEndpoint:   os.Getenv("SIGNER_ENDPOINT"),
		WalletType:       walletType,
		GasPriceInterval: gasPriceInterval,
		Bridge: BridgeConfig{
			Providers:         providers,
			FallbackEnabled:   fallbackEnabled,
			RateLimit:         rateLimit,
			RefreshInterval:   refreshInterval,
			CompletionTimeout: completionTimeout,
		},
		Retry: RetryConfig{
			BackoffTable:        backoffTable,
			MaxQuoteRetries:     maxQuoteRetries,
			MaxExecutionRetries: maxExecutionRetries,
		},
		AutoAcceptQuotes: autoAccept,
		Proof: ProofConfig{
			Endpoint:     proofEndpoint,
			PollInterval: proofPollInterval,
			Timeout:      proofTimeout,
		},
		Store:         storeConfig,
		MetricsPort:   metricsPort,
		MetricsAPIKey: os.Getenv("METRICS_API_KEY"),
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}

	// Validate required environment variables
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.PrivateKey == "" && cfg.SignerEndpoint == "" {
		return fmt.Errorf("PRIVATE_KEY or SIGNER_ENDPOINT environment variable is required")
	}
	if cfg.EscrowAddress == "" {
		return fmt.Errorf("ESCROW_ADDRESS environment variable is required")
	}
	if !common.IsHexAddress(cfg.EscrowAddress) {
		return fmt.Errorf("invalid ESCROW_ADDRESS value: %s, must be a valid Ethereum address", cfg.EscrowAddress)
	}
	if len(cfg.Bridge.Providers) == 0 {
		return fmt.Errorf("at least one bridge provider is required in BRIDGE_PROVIDERS")
	}
	switch cfg.Store.Backend {
	case store.BackendFile:
		if cfg.Store.Path == "" {
			return fmt.Errorf("RECORD_STORE_PATH is required for the file record store")
		}
	case store.BackendPostgres:
		if cfg.Store.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres record store")
		}
	case store.BackendRedis:
		if cfg.Store.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis record store")
		}
	}
	return nil
}
