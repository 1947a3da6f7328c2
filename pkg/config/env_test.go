package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/offramp-settler/pkg/logger"
	"github.com/speedrun-hq/offramp-settler/pkg/models"
	"github.com/speedrun-hq/offramp-settler/pkg/retry"
	"github.com/speedrun-hq/offramp-settler/pkg/store"
)

func TestGetEnvBridgeProviders(t *testing.T) {
	t.Run("ranked providers with keys and wallet overrides", func(t *testing.T) {
		t.Setenv("BRIDGE_PROVIDERS", "relay=https://api.relay.test, fast-swap=https://fast.test/v1")
		t.Setenv("BRIDGE_API_KEY_RELAY", "secret")
		t.Setenv("SINGLE_HASH_WALLETS_FAST_SWAP", "embedded,Smart")

		providers, err := GetEnvBridgeProviders()
		require.NoError(t, err)
		require.Len(t, providers, 2)

		assert.Equal(t, "relay", providers[0].Name)
		assert.Equal(t, "https://api.relay.test", providers[0].URL)
		assert.Equal(t, "secret", providers[0].APIKey)
		assert.Empty(t, providers[0].SingleHashWallets)

		assert.Equal(t, "fast-swap", providers[1].Name)
		assert.Equal(t, []models.WalletType{models.WalletEmbedded, models.WalletSmart}, providers[1].SingleHashWallets)
	})

	tests := []struct {
		name  string
		value string
	}{
		{"missing url", "relay"},
		{"invalid url", "relay=not a url"},
		{"duplicate", "relay=https://a.test,relay=https://b.test"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("BRIDGE_PROVIDERS", tt.value)
			_, err := GetEnvBridgeProviders()
			assert.Error(t, err)
		})
	}
}

func TestGetEnvRetryBackoffTable(t *testing.T) {
	t.Setenv("RETRY_BACKOFF_TABLE", "")
	table, err := GetEnvRetryBackoffTable()
	require.NoError(t, err)
	assert.Equal(t, retry.DefaultBackoffTable, table)

	t.Setenv("RETRY_BACKOFF_TABLE", "1s, 5s,30s")
	table, err = GetEnvRetryBackoffTable()
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}, table)

	t.Setenv("RETRY_BACKOFF_TABLE", "1s,-2s")
	_, err = GetEnvRetryBackoffTable()
	assert.Error(t, err)
}

func TestGetEnvRecordStore(t *testing.T) {
	t.Setenv("RECORD_STORE", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")

	cfg, err := GetEnvRecordStore()
	require.NoError(t, err)
	assert.Equal(t, store.BackendRedis, cfg.Backend)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.RedisDB)

	t.Setenv("REDIS_DB", "-1")
	_, err = GetEnvRecordStore()
	assert.Error(t, err)

	t.Setenv("RECORD_STORE", "sqlite")
	_, err = GetEnvRecordStore()
	assert.Error(t, err)
}

func TestSimpleGetters(t *testing.T) {
	t.Run("wallet type", func(t *testing.T) {
		t.Setenv("WALLET_TYPE", "")
		wt, err := GetEnvWalletType()
		require.NoError(t, err)
		assert.Equal(t, models.WalletExternal, wt)

		t.Setenv("WALLET_TYPE", "hardware")
		_, err = GetEnvWalletType()
		assert.Error(t, err)
	})

	t.Run("booleans", func(t *testing.T) {
		t.Setenv("AUTO_ACCEPT_QUOTES", "false")
		accept, err := GetEnvAutoAcceptQuotes()
		require.NoError(t, err)
		assert.False(t, accept)

		t.Setenv("BRIDGE_FALLBACK_ENABLED", "yes")
		_, err = GetEnvBridgeFallbackEnabled()
		assert.Error(t, err)
	})

	t.Run("ceilings", func(t *testing.T) {
		t.Setenv("MAX_QUOTE_RETRIES", "")
		ceiling, err := GetEnvMaxQuoteRetries()
		require.NoError(t, err)
		assert.Equal(t, retry.DefaultQuoteCeiling, ceiling)

		t.Setenv("MAX_EXECUTION_RETRIES", "0")
		_, err = GetEnvMaxExecutionRetries()
		assert.Error(t, err)
	})

	t.Run("log level", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "debug")
		level, err := GetEnvLogLevel()
		require.NoError(t, err)
		assert.Equal(t, logger.DebugLevel, level)

		t.Setenv("LOG_LEVEL", "verbose")
		_, err = GetEnvLogLevel()
		assert.Error(t, err)
	})

	t.Run("escrow address", func(t *testing.T) {
		t.Setenv("ESCROW_ADDRESS", "0x1234")
		_, err := GetEnvEscrowAddress()
		assert.Error(t, err)
	})
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("PRIVATE_KEY", "")
	t.Setenv("SIGNER_ENDPOINT", "")
	t.Setenv("ESCROW_ADDRESS", "0x999fce149FD078DCFaa2C681e060e00F528552f4")
	t.Setenv("BRIDGE_PROVIDERS", "relay=https://api.relay.test")
	t.Setenv("RECORD_STORE", "memory")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "PRIVATE_KEY")

	t.Setenv("PRIVATE_KEY", "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultChainID, cfg.ChainID)
	assert.Equal(t, store.BackendMemory, cfg.Store.Backend)
	assert.Len(t, cfg.Bridge.Providers, 1)
	assert.Equal(t, 15*time.Second, cfg.CircuitBreaker.ResetTimeout)

	t.Setenv("RECORD_STORE", "postgres")
	t.Setenv("POSTGRES_DSN", "")
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "POSTGRES_DSN")
}
