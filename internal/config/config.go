// Package config defines the top-level configuration for the dexarb engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DEXARB_* environment variables.
type Config struct {
	Chain        ChainConfig        `toml:"chain"`
	RegistryPath string             `toml:"registry_path"`
	Redis        RedisConfig        `toml:"redis"`
	Postgres     PostgresConfig     `toml:"postgres"`
	Cache        CacheConfig        `toml:"cache"`
	Fetcher      FetcherConfig      `toml:"fetcher"`
	Search       SearchConfig       `toml:"search"`
	Decision     DecisionConfig     `toml:"decision"`
	Gas          GasConfig          `toml:"gas"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Server       ServerConfig       `toml:"server"`
	Notify       NotifyConfig       `toml:"notify"`
	Mode         string             `toml:"mode"`
	LogLevel     string             `toml:"log_level"`
}

// EndpointConfig is one JSON-RPC provider entry. Lower priority wins among
// equally healthy endpoints.
type EndpointConfig struct {
	URL      string `toml:"url"`
	Priority int    `toml:"priority"`
}

// ChainConfig holds chain parameters, node endpoints and wallet credentials.
type ChainConfig struct {
	ChainID           int64            `toml:"chain_id"`
	Endpoints         []EndpointConfig `toml:"endpoints"`
	WsEndpoint        string           `toml:"ws_endpoint"`
	PrivateRelayURL   string           `toml:"private_relay_url"`
	FlashloanContract string           `toml:"flashloan_contract"`
	WalletPrivateKey  string           `toml:"wallet_private_key"`
	NativeToken       string           `toml:"native_token"`
	RequestTimeout    duration         `toml:"request_timeout"`
}

// RedisConfig holds Redis connection parameters. When disabled the engine
// falls back to the in-memory cache.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds the attempt-store connection parameters. Optional;
// when disabled attempts are not recorded.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// CacheConfig holds per-namespace TTLs.
type CacheConfig struct {
	PairPriceTTL duration `toml:"pair_price_ttl"`
	TVLTTL       duration `toml:"tvl_ttl"`
	GeneralTTL   duration `toml:"general_ttl"`
}

// FetcherConfig holds pool/price fetching parameters.
type FetcherConfig struct {
	MinTVLUSD      float64  `toml:"min_tvl_usd"`
	Concurrency    int      `toml:"concurrency"`
	PriceSourceURL string   `toml:"price_source_url"`
	RequestTimeout duration `toml:"request_timeout"`
}

// SearchConfig holds graph-search parameters.
type SearchConfig struct {
	BaseTokens          []string  `toml:"base_tokens"`
	MaxHops             int       `toml:"max_hops"`
	TestNotionalsUSD    []float64 `toml:"test_notionals_usd"`
	PruneRetentionRatio float64   `toml:"prune_retention_ratio"`
}

// DecisionConfig holds the execution gate limits.
type DecisionConfig struct {
	MinPoolTVLUSD          float64  `toml:"min_pool_tvl_usd"`
	MaxSlippagePct         float64  `toml:"max_slippage_pct"`
	MinProfitUSD           float64  `toml:"min_profit_usd"`
	MinProfitAfterFeesUSD  float64  `toml:"min_profit_after_fees_usd"`
	MaxTradesPerMinute     int      `toml:"max_trades_per_minute"`
	MaxGasPerHourUSD       float64  `toml:"max_gas_per_hour_usd"`
	Cooldown               duration `toml:"cooldown"`
	PreferBalancer         bool     `toml:"prefer_balancer"`
	BalancerMaxNotionalUSD float64  `toml:"balancer_max_notional_usd"`
	AaveFeeBps             int64    `toml:"aave_fee_bps"`
}

// GasConfig holds EIP-1559 fee parameters.
type GasConfig struct {
	PriorityFeeFloorGwei   float64  `toml:"priority_fee_floor_gwei"`
	PriorityFeeCeilingGwei float64  `toml:"priority_fee_ceiling_gwei"`
	GasUnitsBase           uint64   `toml:"gas_units_base"`
	GasUnitsPerHop         uint64   `toml:"gas_units_per_hop"`
	GasPaddingPct          int      `toml:"gas_padding_pct"`
	FeeHistoryBlocks       int      `toml:"fee_history_blocks"`
	RewardPercentile       int      `toml:"reward_percentile"`
	ConfirmTimeout         duration `toml:"confirm_timeout"`
}

// OrchestratorConfig holds scan-loop parameters.
type OrchestratorConfig struct {
	ScanInterval     duration `toml:"scan_interval"`
	BreakerThreshold int      `toml:"breaker_threshold"`
}

// ServerConfig holds HTTP status-server parameters.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:        137,
			NativeToken:    "WMATIC",
			RequestTimeout: duration{10 * time.Second},
		},
		RegistryPath: "registry.json",
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "dexarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Cache: CacheConfig{
			PairPriceTTL: duration{1 * time.Hour},
			TVLTTL:       duration{3 * time.Hour},
			GeneralTTL:   duration{24 * time.Hour},
		},
		Fetcher: FetcherConfig{
			MinTVLUSD:      5000,
			Concurrency:    8,
			PriceSourceURL: "https://api.coingecko.com/api/v3/simple/price",
			RequestTimeout: duration{15 * time.Second},
		},
		Search: SearchConfig{
			BaseTokens:          []string{"USDC", "WETH", "WMATIC"},
			MaxHops:             3,
			TestNotionalsUSD:    []float64{1000, 5000, 15000, 50000},
			PruneRetentionRatio: 0.90,
		},
		Decision: DecisionConfig{
			MinPoolTVLUSD:          5000,
			MaxSlippagePct:         3.0,
			MinProfitUSD:           1.0,
			MinProfitAfterFeesUSD:  1.0,
			MaxTradesPerMinute:     10,
			MaxGasPerHourUSD:       5.0,
			Cooldown:               duration{100 * time.Millisecond},
			PreferBalancer:         true,
			BalancerMaxNotionalUSD: 250_000,
			AaveFeeBps:             5,
		},
		Gas: GasConfig{
			PriorityFeeFloorGwei:   30,
			PriorityFeeCeilingGwei: 100,
			GasUnitsBase:           250_000,
			GasUnitsPerHop:         75_000,
			GasPaddingPct:          7,
			FeeHistoryBlocks:       5,
			RewardPercentile:       50,
			ConfirmTimeout:         duration{90 * time.Second},
		},
		Orchestrator: OrchestratorConfig{
			ScanInterval:     duration{30 * time.Second},
			BreakerThreshold: 10,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_executed", "breaker_tripped", "error"},
		},
		Mode:     "scan",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"scan":    true,
	"execute": true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scan, execute, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if len(c.Chain.Endpoints) == 0 && c.Mode != "monitor" {
		errs = append(errs, "chain: at least one endpoint is required for mode "+c.Mode)
	}
	for i, ep := range c.Chain.Endpoints {
		if ep.URL == "" {
			errs = append(errs, fmt.Sprintf("chain: endpoints[%d].url must not be empty", i))
		}
	}
	if c.Chain.NativeToken == "" {
		errs = append(errs, "chain: native_token must not be empty")
	}
	if c.Mode == "execute" {
		if c.Chain.WalletPrivateKey == "" {
			errs = append(errs, "chain: wallet_private_key is required for execute mode")
		}
		if c.Chain.FlashloanContract == "" {
			errs = append(errs, "chain: flashloan_contract is required for execute mode")
		}
	}

	// Registry
	if c.RegistryPath == "" && c.Mode != "monitor" {
		errs = append(errs, "registry_path must not be empty for mode "+c.Mode)
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Cache
	if c.Cache.PairPriceTTL.Duration <= 0 {
		errs = append(errs, "cache: pair_price_ttl must be > 0")
	}
	if c.Cache.TVLTTL.Duration <= 0 {
		errs = append(errs, "cache: tvl_ttl must be > 0")
	}
	if c.Cache.GeneralTTL.Duration <= 0 {
		errs = append(errs, "cache: general_ttl must be > 0")
	}

	// Fetcher
	if c.Fetcher.MinTVLUSD < 0 {
		errs = append(errs, "fetcher: min_tvl_usd must be >= 0")
	}
	if c.Fetcher.Concurrency < 1 {
		errs = append(errs, "fetcher: concurrency must be >= 1")
	}

	// Search
	if len(c.Search.BaseTokens) == 0 {
		errs = append(errs, "search: at least one base token is required")
	}
	if c.Search.MaxHops < 2 || c.Search.MaxHops > 4 {
		errs = append(errs, fmt.Sprintf("search: max_hops must be 2-4, got %d", c.Search.MaxHops))
	}
	if len(c.Search.TestNotionalsUSD) == 0 {
		errs = append(errs, "search: at least one test notional is required")
	}
	for _, n := range c.Search.TestNotionalsUSD {
		if n <= 0 {
			errs = append(errs, "search: test notionals must be > 0")
			break
		}
	}
	if c.Search.PruneRetentionRatio <= 0 || c.Search.PruneRetentionRatio > 1 {
		errs = append(errs, "search: prune_retention_ratio must be in (0, 1]")
	}

	// Decision
	if c.Decision.MaxSlippagePct <= 0 {
		errs = append(errs, "decision: max_slippage_pct must be > 0")
	}
	if c.Decision.MinProfitUSD < 0 {
		errs = append(errs, "decision: min_profit_usd must be >= 0")
	}
	if c.Decision.MaxTradesPerMinute < 1 {
		errs = append(errs, "decision: max_trades_per_minute must be >= 1")
	}
	if c.Decision.MaxGasPerHourUSD <= 0 {
		errs = append(errs, "decision: max_gas_per_hour_usd must be > 0")
	}
	if c.Decision.AaveFeeBps < 0 {
		errs = append(errs, "decision: aave_fee_bps must be >= 0")
	}

	// Gas
	if c.Gas.PriorityFeeFloorGwei < 0 {
		errs = append(errs, "gas: priority_fee_floor_gwei must be >= 0")
	}
	if c.Gas.PriorityFeeCeilingGwei < c.Gas.PriorityFeeFloorGwei {
		errs = append(errs, "gas: priority_fee_ceiling_gwei must be >= priority_fee_floor_gwei")
	}
	if c.Gas.GasUnitsBase == 0 {
		errs = append(errs, "gas: gas_units_base must be > 0")
	}
	if c.Gas.RewardPercentile < 1 || c.Gas.RewardPercentile > 99 {
		errs = append(errs, fmt.Sprintf("gas: reward_percentile must be 1-99, got %d", c.Gas.RewardPercentile))
	}

	// Orchestrator
	if c.Orchestrator.ScanInterval.Duration <= 0 {
		errs = append(errs, "orchestrator: scan_interval must be > 0")
	}
	if c.Orchestrator.BreakerThreshold < 1 {
		errs = append(errs, "orchestrator: breaker_threshold must be >= 1")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
