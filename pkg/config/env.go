package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/speedrun-hq/offramp-settler/pkg/bridge"
	"github.com/speedrun-hq/offramp-settler/pkg/chains"
	"github.com/speedrun-hq/offramp-settler/pkg/logger"
	"github.com/speedrun-hq/offramp-settler/pkg/models"
	"github.com/speedrun-hq/offramp-settler/pkg/proofclient"
	"github.com/speedrun-hq/offramp-settler/pkg/retry"
	"github.com/speedrun-hq/offramp-settler/pkg/store"
)

const (
	// DefaultChainID is the chain the escrow contract lives on
	DefaultChainID = chains.Base

	// DefaultRPCURL is the public RPC of the default chain
	DefaultRPCURL = "https://mainnet.base.org"

	// DefaultWalletType is the signer kind used when WALLET_TYPE is unset
	DefaultWalletType = models.WalletExternal

	// DefaultGasPriceInterval defines how often the gas price is refreshed, in seconds
	DefaultGasPriceInterval = 30

	// DefaultMetricsPort defines the default port for the metrics server
	DefaultMetricsPort = "8080"

	// DefaultBridgeFallbackEnabled defines whether lower ranked providers are tried
	DefaultBridgeFallbackEnabled = true

	// DefaultBridgeRateLimit is the request rate per second allowed against each provider
	DefaultBridgeRateLimit = 5.0

	// DefaultAutoAcceptQuotes defines whether the first quote is executed without confirmation
	DefaultAutoAcceptQuotes = true

	// DefaultProofAPIEndpoint defines the default proof service endpoint
	DefaultProofAPIEndpoint = "https://proofs.speedrun.exchange"

	// DefaultRecordStore defines the default record store backend
	DefaultRecordStore = store.BackendFile

	// DefaultRecordStorePath defines where the file record store writes
	DefaultRecordStorePath = "settlement-records.json"

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 5

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 15

	// DefaultLogColoring defines whether log lines are colored per chain
	DefaultLogColoring = true
)

// GetEnvChainID returns the chain ID of the escrow contract from environment variables
func GetEnvChainID() (int, error) {
	chainID := os.Getenv("CHAIN_ID")
	if chainID == "" {
		return DefaultChainID, nil
	}

	id, err := strconv.Atoi(chainID)
	if err != nil {
		return 0, fmt.Errorf("invalid CHAIN_ID value: %s, must be an integer", chainID)
	}
	if id <= 0 {
		return 0, fmt.Errorf("CHAIN_ID must be greater than 0")
	}
	return id, nil
}

// GetEnvRPCURL returns the RPC URL from environment variables
func GetEnvRPCURL() (string, error) {
	rpcURL := os.Getenv("RPC_URL")
	if rpcURL == "" {
		return DefaultRPCURL, nil
	}

	if _, err := url.ParseRequestURI(rpcURL); err != nil {
		return "", fmt.Errorf("invalid RPC_URL value: %s, must be a valid URL", rpcURL)
	}
	return rpcURL, nil
}

// GetEnvEscrowAddress returns the escrow contract address from environment variables
func GetEnvEscrowAddress() (string, error) {
	escrow := os.Getenv("ESCROW_ADDRESS")
	if escrow == "" {
		return "", nil
	}

	if !common.IsHexAddress(escrow) {
		return "", fmt.Errorf("invalid ESCROW_ADDRESS value: %s, must be a valid Ethereum address", escrow)
	}
	return escrow, nil
}

// GetEnvWalletType returns the wallet type of the fulfilling account
func GetEnvWalletType() (models.WalletType, error) {
	walletType := os.Getenv("WALLET_TYPE")
	if walletType == "" {
		return DefaultWalletType, nil
	}
	return parseWalletType("WALLET_TYPE", walletType)
}

// GetEnvGasPriceInterval returns the gas price refresh interval
func GetEnvGasPriceInterval() (time.Duration, error) {
	interval := os.Getenv("GAS_PRICE_INTERVAL")
	if interval == "" {
		return DefaultGasPriceInterval * time.Second, nil
	}
	return parsePositiveDuration("GAS_PRICE_INTERVAL", interval)
}

// GetEnvBridgeProviders returns the ranked bridge providers
// BRIDGE_PROVIDERS is a comma separated list of name=url pairs, highest rank first.
// BRIDGE_API_KEY_<NAME> and SINGLE_HASH_WALLETS_<NAME> configure each provider.
func GetEnvBridgeProviders() ([]ProviderConfig, error) {
	raw := os.Getenv("BRIDGE_PROVIDERS")
	if raw == "" {
		return nil, nil
	}

	var providers []ProviderConfig
	seen := make(map[string]bool)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, rawURL, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		rawURL = strings.TrimSpace(rawURL)
		if !ok || name == "" || rawURL == "" {
			return nil, fmt.Errorf("invalid BRIDGE_PROVIDERS entry: %s, must be name=url", entry)
		}
		if _, err := url.ParseRequestURI(rawURL); err != nil {
			return nil, fmt.Errorf("invalid BRIDGE_PROVIDERS url for %s: %s, must be a valid URL", name, rawURL)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate bridge provider in BRIDGE_PROVIDERS: %s", name)
		}
		seen[name] = true

		envName := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		wallets, err := getEnvWalletList("SINGLE_HASH_WALLETS_" + envName)
		if err != nil {
			return nil, err
		}
		providers = append(providers, ProviderConfig{
			Name:              name,
			URL:               rawURL,
			APIKey:            os.Getenv("BRIDGE_API_KEY_" + envName),
			SingleHashWallets: wallets,
		})
	}
	return providers, nil
}

// GetEnvBridgeFallbackEnabled returns whether lower ranked providers are tried on a missing route
func GetEnvBridgeFallbackEnabled() (bool, error) {
	return parseBool("BRIDGE_FALLBACK_ENABLED", DefaultBridgeFallbackEnabled)
}

// GetEnvBridgeRateLimit returns the per provider request rate
func GetEnvBridgeRateLimit() (float64, error) {
	rateLimit := os.Getenv("BRIDGE_RATE_LIMIT")
	if rateLimit == "" {
		return DefaultBridgeRateLimit, nil
	}

	parsed, err := strconv.ParseFloat(rateLimit, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid BRIDGE_RATE_LIMIT value: %s, must be a number", rateLimit)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("BRIDGE_RATE_LIMIT must be greater than 0")
	}
	return parsed, nil
}

// GetEnvQuoteRefreshInterval returns how often a ready quote is refreshed
func GetEnvQuoteRefreshInterval() (time.Duration, error) {
	interval := os.Getenv("QUOTE_REFRESH_INTERVAL")
	if interval == "" {
		return bridge.DefaultRefreshInterval, nil
	}
	return parsePositiveDuration("QUOTE_REFRESH_INTERVAL", interval)
}

// GetEnvBridgeCompletionTimeout returns how long a pending bridge with transaction references is awaited
func GetEnvBridgeCompletionTimeout() (time.Duration, error) {
	timeout := os.Getenv("BRIDGE_COMPLETION_TIMEOUT")
	if timeout == "" {
		return bridge.DefaultCompletionTimeout, nil
	}
	return parsePositiveDuration("BRIDGE_COMPLETION_TIMEOUT", timeout)
}

// GetEnvRetryBackoffTable returns the escalating retry delays
func GetEnvRetryBackoffTable() ([]time.Duration, error) {
	raw := os.Getenv("RETRY_BACKOFF_TABLE")
	if raw == "" {
		return append([]time.Duration(nil), retry.DefaultBackoffTable...), nil
	}

	var table []time.Duration
	for _, entry := range strings.Split(raw, ",") {
		d, err := parsePositiveDuration("RETRY_BACKOFF_TABLE", strings.TrimSpace(entry))
		if err != nil {
			return nil, err
		}
		table = append(table, d)
	}
	return table, nil
}

// GetEnvMaxQuoteRetries returns the automatic quote retry ceiling
func GetEnvMaxQuoteRetries() (int, error) {
	return parsePositiveInt("MAX_QUOTE_RETRIES", retry.DefaultQuoteCeiling)
}

// GetEnvMaxExecutionRetries returns the automatic bridge execution retry ceiling
func GetEnvMaxExecutionRetries() (int, error) {
	return parsePositiveInt("MAX_EXECUTION_RETRIES", retry.DefaultExecutionCeiling)
}

// GetEnvAutoAcceptQuotes returns whether fetched quotes are executed without confirmation
func GetEnvAutoAcceptQuotes() (bool, error) {
	return parseBool("AUTO_ACCEPT_QUOTES", DefaultAutoAcceptQuotes)
}

// GetEnvProofAPIEndpoint returns the proof service endpoint
func GetEnvProofAPIEndpoint() (string, error) {
	endpoint := os.Getenv("PROOF_API_ENDPOINT")
	if endpoint == "" {
		return DefaultProofAPIEndpoint, nil
	}

	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return "", fmt.Errorf("invalid PROOF_API_ENDPOINT value: %s, must be a valid URL", endpoint)
	}
	return endpoint, nil
}

// GetEnvProofPollInterval returns the interval between proof status requests
func GetEnvProofPollInterval() (time.Duration, error) {
	interval := os.Getenv("PROOF_POLL_INTERVAL")
	if interval == "" {
		return proofclient.DefaultPollInterval, nil
	}
	return parsePositiveDuration("PROOF_POLL_INTERVAL", interval)
}

// GetEnvProofTimeout returns the hard ceiling for proof generation
func GetEnvProofTimeout() (time.Duration, error) {
	timeout := os.Getenv("PROOF_TIMEOUT")
	if timeout == "" {
		return proofclient.DefaultTimeout, nil
	}
	return parsePositiveDuration("PROOF_TIMEOUT", timeout)
}

// GetEnvRecordStore returns the settlement record store configuration
func GetEnvRecordStore() (store.Config, error) {
	backend := os.Getenv("RECORD_STORE")
	if backend == "" {
		backend = DefaultRecordStore
	}

	switch backend {
	case store.BackendMemory, store.BackendFile, store.BackendPostgres, store.BackendRedis:
	default:
		return store.Config{}, fmt.Errorf("invalid RECORD_STORE value: %s, must be 'memory', 'file', 'postgres' or 'redis'", backend)
	}

	path := os.Getenv("RECORD_STORE_PATH")
	if path == "" {
		path = DefaultRecordStorePath
	}

	redisDB := 0
	if raw := os.Getenv("REDIS_DB"); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil || db < 0 {
			return store.Config{}, fmt.Errorf("invalid REDIS_DB value: %s, must be a non-negative integer", raw)
		}
		redisDB = db
	}

	return store.Config{
		Backend:       backend,
		Path:          path,
		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
	}, nil
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		return DefaultMetricsPort, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(metricsPort); err != nil {
		return "", fmt.Errorf("invalid METRICS_PORT value: %s, must be a valid integer", metricsPort)
	}
	return metricsPort, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	return parseBool("CIRCUIT_BREAKER_ENABLED", DefaultCircuitBreakerEnabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	return parsePositiveInt("CIRCUIT_BREAKER_THRESHOLD", DefaultCircuitBreakerThreshold)
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	window := os.Getenv("CIRCUIT_BREAKER_WINDOW")
	if window == "" {
		return DefaultCircuitBreakerWindow * time.Second, nil
	}

	// Validate duration format
	parsed, err := time.ParseDuration(window)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_WINDOW value: %s, must be a valid duration string", window)
	}
	return parsed, nil
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	reset := os.Getenv("CIRCUIT_BREAKER_RESET")
	if reset == "" {
		return DefaultCircuitBreakerReset * time.Second, nil
	}

	// Validate duration format
	parsed, err := time.ParseDuration(reset)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_RESET value: %s, must be a valid duration string", reset)
	}
	return parsed, nil
}

// GetEnvLogLevel returns the minimum log level
func GetEnvLogLevel() (logger.Level, error) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return logger.InfoLevel, fmt.Errorf("invalid LOG_LEVEL value: %w", err)
	}
	return level, nil
}

// GetEnvLogColoring returns whether log lines are colored
func GetEnvLogColoring() (bool, error) {
	return parseBool("LOG_COLORING", DefaultLogColoring)
}

func parseBool(name string, def bool) (bool, error) {
	value := os.Getenv(name)
	if value == "" {
		return def, nil
	}

	if value == "true" {
		return true, nil
	} else if value == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid %s value: %s, must be 'true' or 'false'", name, value)
}

func parsePositiveInt(name string, def int) (int, error) {
	value := os.Getenv(name)
	if value == "" {
		return def, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be an integer", name, value)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", name)
	}
	return parsed, nil
}

func parsePositiveDuration(name, value string) (time.Duration, error) {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be a valid duration string", name, value)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", name)
	}
	return parsed, nil
}

func parseWalletType(name, value string) (models.WalletType, error) {
	switch wt := models.WalletType(strings.ToLower(strings.TrimSpace(value))); wt {
	case models.WalletExternal, models.WalletEmbedded, models.WalletSmart:
		return wt, nil
	}
	return "", fmt.Errorf("invalid %s value: %s, must be 'external', 'embedded' or 'smart'", name, value)
}

func getEnvWalletList(name string) ([]models.WalletType, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return nil, nil
	}

	var wallets []models.WalletType
	for _, entry := range strings.Split(raw, ",") {
		wt, err := parseWalletType(name, entry)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, wt)
	}
	return wallets, nil
}
