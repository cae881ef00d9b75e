package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	solanago "github.com/gagliardetto/solana-go"

	"github.com/alien88ted/presale-monitor/service/solana"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Presale wallet being monitored
	PresaleWallet solanago.PublicKey

	// RPC endpoints in failover priority order
	RPCEndpoints []solana.EndpointConfig

	// MongoDB configuration. Empty MongoURL runs the service in degraded
	// mode on the memory tier only.
	MongoURL      string
	MongoDatabase string

	// NATS configuration. Empty disables event publishing.
	NATSURL string

	// Cache TTLs
	MetricsTTL          time.Duration
	StoreMetricsTTL     time.Duration
	StoreTransactionTTL time.Duration

	// Refresh and probe loops
	RefreshInterval time.Duration
	ProbeInterval   time.Duration

	// Fetch shape
	MaxSignatures    int
	FetchConcurrency int
	MaxRetries       int

	// Leaderboard
	MinLeaderboardUSD float64
	LeaderboardSize   int

	// Classifier dust thresholds
	DustLamports uint64

	// Price memoization
	PriceTTL time.Duration

	// Feature flags, all enabled by default. PushEvents still needs
	// NATSURL to be set to take effect.
	PushEvents          bool
	HistoricalSnapshots bool
	ContributorTracking bool
}

// Load reads configuration from environment variables and validates all
// required fields. Returns an error listing everything that is missing
// or invalid, not just the first problem.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	wallet := os.Getenv("PRESALE_WALLET")
	if wallet == "" {
		errs = append(errs, fmt.Errorf("PRESALE_WALLET is required"))
	} else {
		pk, err := solanago.PublicKeyFromBase58(wallet)
		if err != nil {
			errs = append(errs, fmt.Errorf("PRESALE_WALLET: invalid address %q: %w", wallet, err))
		} else {
			cfg.PresaleWallet = pk
		}
	}

	endpoints := os.Getenv("SOLANA_RPC_ENDPOINTS")
	if endpoints == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_ENDPOINTS is required"))
	} else {
		parsed, err := ParseEndpoints(endpoints)
		if err != nil {
			errs = append(errs, err)
		} else {
			cfg.RPCEndpoints = parsed
		}
	}

	cfg.MongoURL = os.Getenv("MONGO_URL")
	cfg.MongoDatabase = getEnvOrDefault("MONGO_DATABASE", "presale_monitor")
	cfg.NATSURL = os.Getenv("NATS_URL")

	var err error
	if cfg.MetricsTTL, err = parseDuration("METRICS_TTL", "60s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.StoreMetricsTTL, err = parseDuration("STORE_METRICS_TTL", "5m"); err != nil {
		errs = append(errs, err)
	}
	if cfg.StoreTransactionTTL, err = parseDuration("STORE_TRANSACTION_TTL", "720h"); err != nil {
		errs = append(errs, err)
	}
	if cfg.RefreshInterval, err = parseDuration("REFRESH_INTERVAL", "60s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.ProbeInterval, err = parseDuration("PROBE_INTERVAL", "30s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.PriceTTL, err = parseDuration("PRICE_TTL", "30s"); err != nil {
		errs = append(errs, err)
	}

	if cfg.MaxSignatures, err = parseInt("MAX_SIGNATURES", 5000); err != nil {
		errs = append(errs, err)
	}
	if cfg.FetchConcurrency, err = parseInt("FETCH_CONCURRENCY", 40); err != nil {
		errs = append(errs, err)
	}
	if cfg.MaxRetries, err = parseInt("MAX_RETRIES", 3); err != nil {
		errs = append(errs, err)
	}
	if cfg.LeaderboardSize, err = parseInt("LEADERBOARD_SIZE", 20); err != nil {
		errs = append(errs, err)
	}

	if raw := os.Getenv("MIN_LEADERBOARD_USD"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MIN_LEADERBOARD_USD: invalid number %q: %w", raw, err))
		} else {
			cfg.MinLeaderboardUSD = v
		}
	}

	if cfg.PushEvents, err = parseBool("PUSH_EVENTS", true); err != nil {
		errs = append(errs, err)
	}
	if cfg.HistoricalSnapshots, err = parseBool("HISTORICAL_SNAPSHOTS", true); err != nil {
		errs = append(errs, err)
	}
	if cfg.ContributorTracking, err = parseBool("CONTRIBUTOR_TRACKING", true); err != nil {
		errs = append(errs, err)
	}

	if raw := os.Getenv("DUST_LAMPORTS"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("DUST_LAMPORTS: invalid integer %q: %w", raw, err))
		} else {
			cfg.DustLamports = v
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.PresaleWallet.IsZero() {
		errs = append(errs, fmt.Errorf("PresaleWallet is required"))
	}
	if len(c.RPCEndpoints) == 0 {
		errs = append(errs, fmt.Errorf("at least one RPC endpoint is required"))
	}
	for _, ep := range c.RPCEndpoints {
		if !strings.HasPrefix(ep.URL, "http://") && !strings.HasPrefix(ep.URL, "https://") {
			errs = append(errs, fmt.Errorf("endpoint %q: URL must be http(s), got %q", ep.Name, ep.URL))
		}
		if ep.RequestsPerSecond <= 0 {
			errs = append(errs, fmt.Errorf("endpoint %q: requests per second must be positive", ep.Name))
		}
	}

	if c.MetricsTTL < time.Second {
		errs = append(errs, fmt.Errorf("MetricsTTL must be at least 1 second"))
	}
	if c.RefreshInterval < time.Second {
		errs = append(errs, fmt.Errorf("RefreshInterval must be at least 1 second"))
	}
	if c.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("MaxRetries must be at least 1"))
	}
	if c.FetchConcurrency < 1 {
		errs = append(errs, fmt.Errorf("FetchConcurrency must be at least 1"))
	}
	if c.MinLeaderboardUSD < 0 {
		errs = append(errs, fmt.Errorf("MinLeaderboardUSD cannot be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}
	return nil
}

// ParseEndpoints parses the SOLANA_RPC_ENDPOINTS format:
//
//	name=url=rps[,name=url=rps...]
//
// Priority follows position: the first endpoint is tried first.
func ParseEndpoints(raw string) ([]solana.EndpointConfig, error) {
	var out []solana.EndpointConfig
	seen := make(map[string]struct{})

	for i, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		// Provider URLs may embed API keys with '=' in the query string,
		// so the name ends at the first '=' and the rate starts after the
		// last one.
		first := strings.Index(part, "=")
		last := strings.LastIndex(part, "=")
		if first < 0 || first == last {
			return nil, fmt.Errorf("SOLANA_RPC_ENDPOINTS: entry %q must be name=url=rps", part)
		}

		name := strings.TrimSpace(part[:first])
		url := strings.TrimSpace(part[first+1 : last])
		rawRate := strings.TrimSpace(part[last+1:])
		rps, err := strconv.ParseFloat(rawRate, 64)
		if err != nil {
			return nil, fmt.Errorf("SOLANA_RPC_ENDPOINTS: entry %q: invalid rate %q: %w", name, rawRate, err)
		}
		if name == "" || url == "" {
			return nil, fmt.Errorf("SOLANA_RPC_ENDPOINTS: entry %q: name and url are required", part)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("SOLANA_RPC_ENDPOINTS: duplicate endpoint name %q", name)
		}
		seen[name] = struct{}{}

		out = append(out, solana.EndpointConfig{
			Name:              name,
			URL:               url,
			Priority:          i + 1,
			RequestsPerSecond: rps,
		})
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("SOLANA_RPC_ENDPOINTS: no endpoints configured")
	}
	return out, nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseBool parses a boolean from an environment variable or uses a default.
func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
