package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies WHALETRACE_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known WHALETRACE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Postgres.DSN, "WHALETRACE_POSTGRES_DSN")
	setInt(&cfg.Postgres.PoolMaxConns, "WHALETRACE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "WHALETRACE_POSTGRES_POOL_MIN_CONNS")

	setStr(&cfg.Redis.Addr, "WHALETRACE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WHALETRACE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WHALETRACE_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "WHALETRACE_REDIS_TLS_ENABLED")

	setStr(&cfg.S3.Endpoint, "WHALETRACE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WHALETRACE_S3_REGION")
	setStr(&cfg.S3.Bucket, "WHALETRACE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WHALETRACE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WHALETRACE_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "WHALETRACE_S3_FORCE_PATH_STYLE")

	setStr(&cfg.EthRPC.HTTPURL, "WHALETRACE_ETHRPC_HTTP_URL")
	setStr(&cfg.EthRPC.WSURL, "WHALETRACE_ETHRPC_WS_URL")
	setDur(&cfg.EthRPC.RequestTimeout, "WHALETRACE_ETHRPC_REQUEST_TIMEOUT")
	setInt(&cfg.EthRPC.MaxRetries, "WHALETRACE_ETHRPC_MAX_RETRIES")

	setStr(&cfg.Etherscan.BaseURL, "WHALETRACE_ETHERSCAN_BASE_URL")
	setStr(&cfg.Etherscan.APIKey, "WHALETRACE_ETHERSCAN_API_KEY")
	setDur(&cfg.Etherscan.RequestTimeout, "WHALETRACE_ETHERSCAN_REQUEST_TIMEOUT")

	setInt(&cfg.Engine.WindowDays, "WHALETRACE_ENGINE_WINDOW_DAYS")
	setInt(&cfg.Engine.Concurrency, "WHALETRACE_ENGINE_CONCURRENCY")
	setDur(&cfg.Engine.TimeBudget, "WHALETRACE_ENGINE_TIME_BUDGET")
	setInt(&cfg.Engine.MinTradeCount, "WHALETRACE_ENGINE_MIN_TRADE_COUNT")
	setBool(&cfg.Engine.IncludeUnpriced, "WHALETRACE_ENGINE_INCLUDE_UNPRICED")
	setInt(&cfg.Engine.MaxWallets, "WHALETRACE_ENGINE_MAX_WALLETS")

	setInt(&cfg.Discovery.MinPricedTrades, "WHALETRACE_DISCOVERY_MIN_PRICED_TRADES")
	setFloat(&cfg.Discovery.MinCoveragePct, "WHALETRACE_DISCOVERY_MIN_COVERAGE_PCT")
	setInt(&cfg.Discovery.MinUniqueProtocols, "WHALETRACE_DISCOVERY_MIN_UNIQUE_PROTOCOLS")
	setFloat(&cfg.Discovery.MinSharpe, "WHALETRACE_DISCOVERY_MIN_SHARPE")
	setInt(&cfg.Discovery.MinSwaps, "WHALETRACE_DISCOVERY_MIN_SWAPS")
	setInt(&cfg.Discovery.MaxRoutersPerRun, "WHALETRACE_DISCOVERY_MAX_ROUTERS_PER_RUN")
	setInt(&cfg.Discovery.MaxCandidates, "WHALETRACE_DISCOVERY_MAX_CANDIDATES")
	setDur(&cfg.Discovery.TimeBudget, "WHALETRACE_DISCOVERY_TIME_BUDGET")
	setDur(&cfg.Discovery.LookupTimeout, "WHALETRACE_DISCOVERY_LOOKUP_TIMEOUT")
	setInt(&cfg.Discovery.WindowHours, "WHALETRACE_DISCOVERY_WINDOW_HOURS")
	setStr(&cfg.Discovery.SortKey, "WHALETRACE_DISCOVERY_SORT_KEY")
	setBool(&cfg.Discovery.PricedOnly, "WHALETRACE_DISCOVERY_PRICED_ONLY")
	setBool(&cfg.Discovery.Offline, "WHALETRACE_DISCOVERY_OFFLINE")

	setStr(&cfg.Mode, "WHALETRACE_MODE")
	setStr(&cfg.LogLevel, "WHALETRACE_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDur(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
