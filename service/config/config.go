package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/brojonat/txnorm/service/normalizer"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	ServerAddr  string
	LogLevel    string
	MetricsAddr string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Solana configuration. Each network may list several RPC endpoints;
	// one is picked at random per client.
	SolanaMainnetRPCURLs []string
	SolanaDevnetRPCURLs  []string
	RPCRequestInterval   time.Duration
	RPCBackoffBase       time.Duration

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Sync configuration
	DefaultSyncInterval time.Duration
	MinSyncInterval     time.Duration
	SyncLimit           int

	// Normalization constants
	DustThreshold           decimal.Decimal
	DefaultComputeUnitLimit uint64
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9090")

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	cfg.SolanaMainnetRPCURLs = parseList("SOLANA_MAINNET_RPC_URLS", "")
	if len(cfg.SolanaMainnetRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SOLANA_MAINNET_RPC_URLS is required"))
	}
	cfg.SolanaDevnetRPCURLs = parseList("SOLANA_DEVNET_RPC_URLS", "https://api.devnet.solana.com")

	interval, err := parseDuration("RPC_REQUEST_INTERVAL", "600ms")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RPCRequestInterval = interval
	}
	backoff, err := parseDuration("RPC_BACKOFF_BASE", "1s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RPCBackoffBase = backoff
	}

	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "txnorm-sync")

	defaultInterval, err := parseDuration("DEFAULT_SYNC_INTERVAL", "5m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.DefaultSyncInterval = defaultInterval
	}
	minInterval, err := parseDuration("MIN_SYNC_INTERVAL", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MinSyncInterval = minInterval
	}
	if cfg.MinSyncInterval > cfg.DefaultSyncInterval {
		errs = append(errs, fmt.Errorf("MIN_SYNC_INTERVAL (%v) cannot be greater than DEFAULT_SYNC_INTERVAL (%v)",
			cfg.MinSyncInterval, cfg.DefaultSyncInterval))
	}

	limit, err := parseInt("SYNC_LIMIT", 100)
	if err != nil {
		errs = append(errs, err)
	} else if limit <= 0 {
		errs = append(errs, fmt.Errorf("SYNC_LIMIT must be positive, got %d", limit))
	} else {
		cfg.SyncLimit = limit
	}

	dust, err := parseDecimal("DUST_THRESHOLD", normalizer.DefaultDustThreshold)
	if err != nil {
		errs = append(errs, err)
	} else if !dust.IsPositive() {
		errs = append(errs, fmt.Errorf("DUST_THRESHOLD must be positive, got %s", dust))
	} else {
		cfg.DustThreshold = dust
	}

	cuLimit, err := parseInt("DEFAULT_COMPUTE_UNIT_LIMIT", int(normalizer.DefaultComputeUnitLimit))
	if err != nil {
		errs = append(errs, err)
	} else if cuLimit <= 0 {
		errs = append(errs, fmt.Errorf("DEFAULT_COMPUTE_UNIT_LIMIT must be positive, got %d", cuLimit))
	} else {
		cfg.DefaultComputeUnitLimit = uint64(cuLimit)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// LoadDotEnv copies variables from the env file at path into the process
// environment. Variables that are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for worker initialization where misconfiguration should halt startup.
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

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}
	if len(c.SolanaMainnetRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SolanaMainnetRPCURLs is required"))
	}
	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}
	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}
	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}
	if c.MinSyncInterval > c.DefaultSyncInterval {
		errs = append(errs, fmt.Errorf("MinSyncInterval cannot be greater than DefaultSyncInterval"))
	}
	if c.DefaultSyncInterval < time.Second {
		errs = append(errs, fmt.Errorf("DefaultSyncInterval must be at least 1 second"))
	}
	if c.SyncLimit <= 0 {
		errs = append(errs, fmt.Errorf("SyncLimit must be positive"))
	}
	if !c.DustThreshold.IsPositive() {
		errs = append(errs, fmt.Errorf("DustThreshold must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// RPCURLs returns the RPC endpoints configured for a network.
func (c *Config) RPCURLs(network string) ([]string, error) {
	switch network {
	case "mainnet":
		return c.SolanaMainnetRPCURLs, nil
	case "devnet":
		return c.SolanaDevnetRPCURLs, nil
	default:
		return nil, fmt.Errorf("no RPC endpoints for network %q", network)
	}
}

// NormalizerOptions returns the pipeline options derived from the configuration.
func (c *Config) NormalizerOptions() normalizer.Options {
	return normalizer.Options{
		DustThreshold:           c.DustThreshold,
		DefaultComputeUnitLimit: c.DefaultComputeUnitLimit,
	}
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

// parseDecimal parses an exact decimal from an environment variable or uses a default.
func parseDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid decimal %q: %w", key, value, err)
	}
	return result, nil
}

// parseList splits a comma-separated environment variable, dropping blanks.
func parseList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnvOrDefault(key, defaultValue), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
