// Package config defines the top-level configuration for the whale tracing
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by WHALETRACE_* environment
// variables.
type Config struct {
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	EthRPC    EthRPCConfig    `toml:"ethrpc"`
	Etherscan EtherscanConfig `toml:"etherscan"`
	Engine    EngineConfig    `toml:"engine"`
	Discovery DiscoveryConfig `toml:"discovery"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN          string `toml:"dsn"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for run snapshot
// archival. Archival is disabled when Bucket is empty.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// EthRPCConfig holds Ethereum JSON-RPC endpoints and fetch controls.
type EthRPCConfig struct {
	HTTPURL        string   `toml:"http_url"`
	WSURL          string   `toml:"ws_url"`
	RequestTimeout duration `toml:"request_timeout"`
	MaxRetries     int      `toml:"max_retries"`
}

// EtherscanConfig holds the Etherscan-compatible scan API parameters used by
// discovery and backfill.
type EtherscanConfig struct {
	BaseURL        string   `toml:"base_url"`
	APIKey         string   `toml:"api_key"`
	RequestTimeout duration `toml:"request_timeout"`
}

// EngineConfig holds the scoring pipeline parameters.
type EngineConfig struct {
	WindowDays      int      `toml:"window_days"`
	Concurrency     int      `toml:"concurrency"`
	TimeBudget      duration `toml:"time_budget"`
	MinTradeCount   int      `toml:"min_trade_count"`
	IncludeUnpriced bool     `toml:"include_unpriced"`
	MaxWallets      int      `toml:"max_wallets"`
}

// DiscoveryConfig holds the smart-money discovery gates and run bounds.
type DiscoveryConfig struct {
	MinPricedTrades    int      `toml:"min_priced_trades"`
	MinCoveragePct     float64  `toml:"min_coverage_pct"`
	MinUniqueProtocols int      `toml:"min_unique_protocols"`
	MinSharpe          float64  `toml:"min_sharpe"`
	MinSwaps           int      `toml:"min_swaps"`
	MaxRoutersPerRun   int      `toml:"max_routers_per_run"`
	MaxCandidates      int      `toml:"max_candidates"`
	TimeBudget         duration `toml:"time_budget"`
	LookupTimeout      duration `toml:"lookup_timeout"`
	WindowHours        int      `toml:"window_hours"`
	SortKey            string   `toml:"sort_key"`
	PricedOnly         bool     `toml:"priced_only"`
	Offline            bool     `toml:"offline"`
	MinCEXWithdrawETH  float64  `toml:"min_cex_withdraw_eth"`
	BackfillMaxTx      int      `toml:"backfill_max_tx"`
}

// Defaults returns the built-in default configuration.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			PoolMaxConns: 8,
			PoolMinConns: 2,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		EthRPC: EthRPCConfig{
			RequestTimeout: duration{8 * time.Second},
			MaxRetries:     3,
		},
		Etherscan: EtherscanConfig{
			BaseURL:        "https://api.etherscan.io/api",
			RequestTimeout: duration{5 * time.Second},
		},
		Engine: EngineConfig{
			WindowDays:    90,
			Concurrency:   8,
			TimeBudget:    duration{10 * time.Minute},
			MinTradeCount: 3,
			MaxWallets:    500,
		},
		Discovery: DiscoveryConfig{
			MinPricedTrades:    5,
			MinCoveragePct:     60,
			MinUniqueProtocols: 1,
			MinSharpe:          0.5,
			MinSwaps:           10,
			MaxRoutersPerRun:   5,
			MaxCandidates:      50,
			TimeBudget:         duration{60 * time.Second},
			LookupTimeout:      duration{5 * time.Second},
			WindowHours:        24,
			SortKey:            "sharpe",
			MinCEXWithdrawETH:  0.1,
			BackfillMaxTx:      2500,
		},
		Mode:     "refresh",
		LogLevel: "info",
	}
}

// Validate checks the configuration for structural problems. Malformed
// configuration is fatal to the run.
func (c *Config) Validate() error {
	var problems []string

	switch strings.ToLower(c.Mode) {
	case "refresh", "discover", "watch", "full":
	default:
		problems = append(problems, fmt.Sprintf("unsupported mode %q", c.Mode))
	}

	if c.Postgres.DSN == "" {
		problems = append(problems, "postgres.dsn is required")
	}
	if c.Engine.WindowDays <= 0 {
		problems = append(problems, "engine.window_days must be positive")
	}
	if c.Engine.Concurrency <= 0 {
		problems = append(problems, "engine.concurrency must be positive")
	}
	if c.Engine.MinTradeCount < 0 {
		problems = append(problems, "engine.min_trade_count must not be negative")
	}
	if c.Discovery.MinCoveragePct < 0 || c.Discovery.MinCoveragePct > 100 {
		problems = append(problems, "discovery.min_coverage_pct must be in [0,100]")
	}
	if c.Discovery.MaxRoutersPerRun < 0 {
		problems = append(problems, "discovery.max_routers_per_run must not be negative")
	}
	if c.Discovery.TimeBudget.Duration <= 0 {
		problems = append(problems, "discovery.time_budget must be positive")
	}
	switch c.Discovery.SortKey {
	case "sharpe", "pnl", "activity", "win_rate", "last_activity":
	default:
		problems = append(problems, fmt.Sprintf("unsupported discovery.sort_key %q", c.Discovery.SortKey))
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
