package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DEXARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known DEXARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setInt64(&cfg.Chain.ChainID, "DEXARB_CHAIN_ID")
	setStr(&cfg.Chain.WsEndpoint, "DEXARB_CHAIN_WS_ENDPOINT")
	setStr(&cfg.Chain.PrivateRelayURL, "DEXARB_CHAIN_PRIVATE_RELAY_URL")
	setStr(&cfg.Chain.FlashloanContract, "DEXARB_CHAIN_FLASHLOAN_CONTRACT")
	setStr(&cfg.Chain.WalletPrivateKey, "DEXARB_CHAIN_WALLET_PRIVATE_KEY")
	setStr(&cfg.Chain.NativeToken, "DEXARB_CHAIN_NATIVE_TOKEN")
	setDuration(&cfg.Chain.RequestTimeout, "DEXARB_CHAIN_REQUEST_TIMEOUT")
	// Comma-separated endpoint URLs; priority follows list order.
	if urls := os.Getenv("DEXARB_CHAIN_ENDPOINTS"); urls != "" {
		var eps []EndpointConfig
		for i, u := range strings.Split(urls, ",") {
			u = strings.TrimSpace(u)
			if u != "" {
				eps = append(eps, EndpointConfig{URL: u, Priority: i + 1})
			}
		}
		if len(eps) > 0 {
			cfg.Chain.Endpoints = eps
		}
	}

	// ── Registry ──
	setStr(&cfg.RegistryPath, "DEXARB_REGISTRY_PATH")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "DEXARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "DEXARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DEXARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DEXARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DEXARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DEXARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DEXARB_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "DEXARB_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "DEXARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "DEXARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DEXARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DEXARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DEXARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DEXARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DEXARB_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DEXARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DEXARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DEXARB_POSTGRES_RUN_MIGRATIONS")

	// ── Cache ──
	setDuration(&cfg.Cache.PairPriceTTL, "DEXARB_CACHE_PAIR_PRICE_TTL")
	setDuration(&cfg.Cache.TVLTTL, "DEXARB_CACHE_TVL_TTL")
	setDuration(&cfg.Cache.GeneralTTL, "DEXARB_CACHE_GENERAL_TTL")

	// ── Fetcher ──
	setFloat64(&cfg.Fetcher.MinTVLUSD, "DEXARB_FETCHER_MIN_TVL_USD")
	setInt(&cfg.Fetcher.Concurrency, "DEXARB_FETCHER_CONCURRENCY")
	setStr(&cfg.Fetcher.PriceSourceURL, "DEXARB_FETCHER_PRICE_SOURCE_URL")
	setDuration(&cfg.Fetcher.RequestTimeout, "DEXARB_FETCHER_REQUEST_TIMEOUT")

	// ── Search ──
	setStringSlice(&cfg.Search.BaseTokens, "DEXARB_SEARCH_BASE_TOKENS")
	setInt(&cfg.Search.MaxHops, "DEXARB_SEARCH_MAX_HOPS")
	setFloat64(&cfg.Search.PruneRetentionRatio, "DEXARB_SEARCH_PRUNE_RETENTION_RATIO")

	// ── Decision ──
	setFloat64(&cfg.Decision.MinPoolTVLUSD, "DEXARB_DECISION_MIN_POOL_TVL_USD")
	setFloat64(&cfg.Decision.MaxSlippagePct, "DEXARB_DECISION_MAX_SLIPPAGE_PCT")
	setFloat64(&cfg.Decision.MinProfitUSD, "DEXARB_DECISION_MIN_PROFIT_USD")
	setFloat64(&cfg.Decision.MinProfitAfterFeesUSD, "DEXARB_DECISION_MIN_PROFIT_AFTER_FEES_USD")
	setInt(&cfg.Decision.MaxTradesPerMinute, "DEXARB_DECISION_MAX_TRADES_PER_MINUTE")
	setFloat64(&cfg.Decision.MaxGasPerHourUSD, "DEXARB_DECISION_MAX_GAS_PER_HOUR_USD")
	setDuration(&cfg.Decision.Cooldown, "DEXARB_DECISION_COOLDOWN")
	setBool(&cfg.Decision.PreferBalancer, "DEXARB_DECISION_PREFER_BALANCER")
	setFloat64(&cfg.Decision.BalancerMaxNotionalUSD, "DEXARB_DECISION_BALANCER_MAX_NOTIONAL_USD")
	setInt64(&cfg.Decision.AaveFeeBps, "DEXARB_DECISION_AAVE_FEE_BPS")

	// ── Gas ──
	setFloat64(&cfg.Gas.PriorityFeeFloorGwei, "DEXARB_GAS_PRIORITY_FEE_FLOOR_GWEI")
	setFloat64(&cfg.Gas.PriorityFeeCeilingGwei, "DEXARB_GAS_PRIORITY_FEE_CEILING_GWEI")
	setUint64(&cfg.Gas.GasUnitsBase, "DEXARB_GAS_UNITS_BASE")
	setUint64(&cfg.Gas.GasUnitsPerHop, "DEXARB_GAS_UNITS_PER_HOP")
	setInt(&cfg.Gas.GasPaddingPct, "DEXARB_GAS_PADDING_PCT")
	setInt(&cfg.Gas.FeeHistoryBlocks, "DEXARB_GAS_FEE_HISTORY_BLOCKS")
	setInt(&cfg.Gas.RewardPercentile, "DEXARB_GAS_REWARD_PERCENTILE")
	setDuration(&cfg.Gas.ConfirmTimeout, "DEXARB_GAS_CONFIRM_TIMEOUT")

	// ── Orchestrator ──
	setDuration(&cfg.Orchestrator.ScanInterval, "DEXARB_ORCHESTRATOR_SCAN_INTERVAL")
	setInt(&cfg.Orchestrator.BreakerThreshold, "DEXARB_ORCHESTRATOR_BREAKER_THRESHOLD")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DEXARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "DEXARB_SERVER_PORT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DEXARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DEXARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DEXARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DEXARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "DEXARB_MODE")
	setStr(&cfg.LogLevel, "DEXARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
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

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
