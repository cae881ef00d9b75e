package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWallet = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

func cleanupEnv() {
	for _, key := range []string{
		"SERVER_ADDR", "LOG_LEVEL", "PRESALE_WALLET", "SOLANA_RPC_ENDPOINTS",
		"MONGO_URL", "MONGO_DATABASE", "NATS_URL",
		"METRICS_TTL", "STORE_METRICS_TTL", "STORE_TRANSACTION_TTL",
		"REFRESH_INTERVAL", "PROBE_INTERVAL", "PRICE_TTL",
		"MAX_SIGNATURES", "FETCH_CONCURRENCY", "MAX_RETRIES",
		"LEADERBOARD_SIZE", "MIN_LEADERBOARD_USD", "DUST_LAMPORTS",
		"PUSH_EVENTS", "HISTORICAL_SNAPSHOTS", "CONTRIBUTOR_TRACKING",
	} {
		os.Unsetenv(key)
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	os.Setenv("PRESALE_WALLET", testWallet)
	os.Setenv("SOLANA_RPC_ENDPOINTS", "helius=https://rpc.helius.example/?api-key=abc=10,public=https://api.mainnet-beta.solana.com=2")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, testWallet, cfg.PresaleWallet.String())
	assert.Equal(t, ":8080", cfg.ServerAddr) // Default
	assert.Equal(t, "info", cfg.LogLevel)    // Default
	assert.Equal(t, 60*time.Second, cfg.MetricsTTL)
	assert.Equal(t, 60*time.Second, cfg.RefreshInterval)
	assert.Equal(t, 5000, cfg.MaxSignatures)
	assert.Equal(t, 40, cfg.FetchConcurrency)
	assert.True(t, cfg.PushEvents)
	assert.True(t, cfg.HistoricalSnapshots)
	assert.True(t, cfg.ContributorTracking)

	require.Len(t, cfg.RPCEndpoints, 2)
	assert.Equal(t, "helius", cfg.RPCEndpoints[0].Name)
	assert.Equal(t, "https://rpc.helius.example/?api-key=abc", cfg.RPCEndpoints[0].URL)
	assert.Equal(t, 1, cfg.RPCEndpoints[0].Priority)
	assert.Equal(t, 10.0, cfg.RPCEndpoints[0].RequestsPerSecond)
	assert.Equal(t, "public", cfg.RPCEndpoints[1].Name)
	assert.Equal(t, 2, cfg.RPCEndpoints[1].Priority)
}

func TestLoad_MissingWallet(t *testing.T) {
	os.Setenv("SOLANA_RPC_ENDPOINTS", "public=https://api.mainnet-beta.solana.com=2")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "PRESALE_WALLET is required")
}

func TestLoad_InvalidWallet(t *testing.T) {
	os.Setenv("PRESALE_WALLET", "not-a-solana-address!")
	os.Setenv("SOLANA_RPC_ENDPOINTS", "public=https://api.mainnet-beta.solana.com=2")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid address")
}

func TestLoad_MissingEndpoints(t *testing.T) {
	os.Setenv("PRESALE_WALLET", testWallet)
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "SOLANA_RPC_ENDPOINTS is required")
}

func TestLoad_InvalidDuration(t *testing.T) {
	os.Setenv("PRESALE_WALLET", testWallet)
	os.Setenv("SOLANA_RPC_ENDPOINTS", "public=https://api.mainnet-beta.solana.com=2")
	os.Setenv("REFRESH_INTERVAL", "soon")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoad_FeatureFlags(t *testing.T) {
	os.Setenv("PRESALE_WALLET", testWallet)
	os.Setenv("SOLANA_RPC_ENDPOINTS", "public=https://api.mainnet-beta.solana.com=2")
	os.Setenv("HISTORICAL_SNAPSHOTS", "false")
	os.Setenv("PUSH_EVENTS", "true")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.PushEvents)
	assert.False(t, cfg.HistoricalSnapshots)
	assert.True(t, cfg.ContributorTracking)
}

func TestLoad_InvalidBool(t *testing.T) {
	os.Setenv("PRESALE_WALLET", testWallet)
	os.Setenv("SOLANA_RPC_ENDPOINTS", "public=https://api.mainnet-beta.solana.com=2")
	os.Setenv("CONTRIBUTOR_TRACKING", "maybe")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid boolean")
}

func TestParseEndpoints(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
		count   int
	}{
		{name: "single", raw: "a=https://a.example=5", count: 1},
		{name: "trailing comma", raw: "a=https://a.example=5,", count: 1},
		{name: "missing rate", raw: "a=https://a.example", wantErr: "must be name=url=rps"},
		{name: "bad rate", raw: "a=https://a.example=fast", wantErr: "invalid rate"},
		{name: "empty name", raw: "=https://a.example=5", wantErr: "name and url are required"},
		{name: "duplicate name", raw: "a=https://a.example=5,a=https://b.example=5", wantErr: "duplicate endpoint name"},
		{name: "empty", raw: "", wantErr: "no endpoints configured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eps, err := ParseEndpoints(tt.raw)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, eps, tt.count)
		})
	}
}

func TestValidate_EndpointRules(t *testing.T) {
	os.Setenv("PRESALE_WALLET", testWallet)
	os.Setenv("SOLANA_RPC_ENDPOINTS", "bad=ftp://a.example=5")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "URL must be http(s)")
}

func TestValidate_ZeroRate(t *testing.T) {
	os.Setenv("PRESALE_WALLET", testWallet)
	os.Setenv("SOLANA_RPC_ENDPOINTS", "a=https://a.example=0")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "requests per second must be positive")
}
