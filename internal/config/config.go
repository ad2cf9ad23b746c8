// Package config defines the top-level configuration for the new-market bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by NEWMARKETBOT_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Subgraph   SubgraphConfig   `toml:"subgraph"`
	Discovery  DiscoveryConfig  `toml:"discovery"`
	Trading    TradingConfig    `toml:"trading"`
	Monitor    MonitorConfig    `toml:"monitor"`
	Feed       FeedConfig       `toml:"feed"`
	Balance    BalanceConfig    `toml:"balance"`
	Storage    StorageConfig    `toml:"storage"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials. Address is the account
// whose positions and balance are tracked; when empty it is derived from the
// private key.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	Address          string `toml:"address"`
	ProxyAddress     string `toml:"proxy_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost          string  `toml:"clob_host"`
	GammaHost         string  `toml:"gamma_host"`
	DataHost          string  `toml:"data_host"`
	WsURL             string  `toml:"ws_url"`
	ChainID           int     `toml:"chain_id"`
	SignatureType     int     `toml:"signature_type"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// SubgraphConfig points at The Graph gateway used as the primary market source.
type SubgraphConfig struct {
	URL        string `toml:"url"` // overrides the gateway URL built from api_key and subgraph_id
	APIKey     string `toml:"api_key"`
	SubgraphID string `toml:"subgraph_id"`
	PageSize   int    `toml:"page_size"`
}

// Endpoint returns the GraphQL endpoint, or "" when the subgraph is not
// configured.
func (s SubgraphConfig) Endpoint() string {
	if s.URL != "" {
		return s.URL
	}
	if s.APIKey == "" || s.SubgraphID == "" {
		return ""
	}
	return fmt.Sprintf("https://gateway.thegraph.com/api/%s/subgraphs/id/%s", s.APIKey, s.SubgraphID)
}

// DiscoveryConfig controls the market discovery loop.
type DiscoveryConfig struct {
	Interval      duration `toml:"interval"`
	MaxAgeMinutes int      `toml:"max_age_minutes"`
	GammaPageSize int      `toml:"gamma_page_size"`
	GammaMaxPages int      `toml:"gamma_max_pages"`
}

// MaxAge returns the discovery window as a duration.
func (d DiscoveryConfig) MaxAge() time.Duration {
	return time.Duration(d.MaxAgeMinutes) * time.Minute
}

// TradingConfig holds entry sizing and exit rules.
type TradingConfig struct {
	Side                        string  `toml:"side"`
	PositionSizeUSD             float64 `toml:"position_size_usd"`
	MaxPositionPercentOfBalance float64 `toml:"max_position_percent_of_balance"`
	MaxEntryPrice               float64 `toml:"max_entry_price"`
	ProfitTargetPercent         float64 `toml:"profit_target_percent"`
	StopLossPercent             float64 `toml:"stop_loss_percent"`
	MaxHoldingHours             float64 `toml:"max_holding_hours"`
	MaxOpenPositions            int     `toml:"max_open_positions"`
	MinLiquidityUSD             float64 `toml:"min_liquidity_usd"`
	Strategy                    string  `toml:"strategy"`
	MaxDailyTradesConservative  int     `toml:"max_daily_trades_conservative"`
	MaxDailyTradesAggressive    int     `toml:"max_daily_trades_aggressive"`
	// SellOnClose places a SELL order before marking a position closed.
	// Off, closes are bookkeeping only.
	SellOnClose bool `toml:"sell_on_close"`
}

// MaxDailyTrades returns the daily trade cap for the selected strategy preset.
func (t TradingConfig) MaxDailyTrades() int {
	if strings.EqualFold(t.Strategy, "aggressive") {
		return t.MaxDailyTradesAggressive
	}
	return t.MaxDailyTradesConservative
}

// MonitorConfig holds the intervals of the periodic engine tasks.
type MonitorConfig struct {
	PositionInterval  duration `toml:"position_interval"`
	BalanceInterval   duration `toml:"balance_interval"`
	ReconcileInterval duration `toml:"reconcile_interval"`
}

// FeedConfig holds live price feed parameters.
type FeedConfig struct {
	Enabled               bool     `toml:"enabled"`
	PingInterval          duration `toml:"ping_interval"`
	PongTimeout           duration `toml:"pong_timeout"`
	MaxAttempts           int      `toml:"max_attempts"`
	BaseDelay             duration `toml:"base_delay"`
	MaxDelay              duration `toml:"max_delay"`
	BackoffCap            int      `toml:"backoff_cap"`
	FallbackEnabled       bool     `toml:"fallback_enabled"`
	FallbackPollInterval  duration `toml:"fallback_poll_interval"`
	FallbackRetryInterval duration `toml:"fallback_retry_interval"`
	TopK                  int      `toml:"top_k"`
	StopTimeout           duration `toml:"stop_timeout"`
}

// BalanceConfig holds balance source and alerting parameters.
type BalanceConfig struct {
	RPCEndpoints       []string `toml:"rpc_endpoints"`
	USDCContracts      []string `toml:"usdc_contracts"`
	SentinelUSD        float64  `toml:"sentinel_usd"`
	CriticalLowUSD     float64  `toml:"critical_low_usd"`
	ChangeAlertPercent float64  `toml:"change_alert_percent"`
}

// StorageConfig selects the position store driver.
type StorageConfig struct {
	Driver     string `toml:"driver"` // "postgres" or "sqlite"
	SQLitePath string `toml:"sqlite_path"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	PriceTTL     duration `toml:"price_ttl"`
	EventsStream string   `toml:"events_stream"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// ServerConfig holds HTTP status server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"` // empty disables auth
	CORSOrigins []string `toml:"cors_origins"`
	// Per client IP; zero disables limiting.
	RateLimitPerSecond float64 `toml:"rate_limit_per_second"`
	RateLimitBurst     int     `toml:"rate_limit_burst"`
}

// NotifyConfig holds notification channel credentials. Events lists the
// event kinds that are delivered; an empty list delivers everything.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:          "https://clob.polymarket.com",
			GammaHost:         "https://gamma-api.polymarket.com",
			DataHost:          "https://data-api.polymarket.com",
			WsURL:             "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			ChainID:           137,
			SignatureType:     2,
			RequestsPerSecond: 10,
		},
		Subgraph: SubgraphConfig{
			SubgraphID: "Bx1W4S7kDVxs9gC3s2G6DS8kdNBJNVhMviCtin2DiBp",
			PageSize:   100,
		},
		Discovery: DiscoveryConfig{
			Interval:      duration{60 * time.Second},
			MaxAgeMinutes: 10,
			GammaPageSize: 100,
			GammaMaxPages: 5,
		},
		Trading: TradingConfig{
			Side:                        "NO",
			PositionSizeUSD:             1.0,
			MaxPositionPercentOfBalance: 10,
			MaxEntryPrice:               0.85,
			ProfitTargetPercent:         10,
			StopLossPercent:             -20,
			MaxHoldingHours:             24,
			MaxOpenPositions:            3,
			MinLiquidityUSD:             100,
			Strategy:                    "conservative",
			MaxDailyTradesConservative:  10,
			MaxDailyTradesAggressive:    25,
		},
		Monitor: MonitorConfig{
			PositionInterval:  duration{10 * time.Second},
			BalanceInterval:   duration{5 * time.Minute},
			ReconcileInterval: duration{5 * time.Minute},
		},
		Feed: FeedConfig{
			Enabled:               true,
			PingInterval:          duration{20 * time.Second},
			PongTimeout:           duration{10 * time.Second},
			MaxAttempts:           10,
			BaseDelay:             duration{time.Second},
			MaxDelay:              duration{60 * time.Second},
			BackoffCap:            6,
			FallbackEnabled:       true,
			FallbackPollInterval:  duration{30 * time.Second},
			FallbackRetryInterval: duration{5 * time.Minute},
			TopK:                  50,
			StopTimeout:           duration{5 * time.Second},
		},
		Balance: BalanceConfig{
			RPCEndpoints: []string{
				"https://polygon-rpc.com",
				"https://polygon.llamarpc.com",
				"https://rpc.ankr.com/polygon",
			},
			USDCContracts: []string{
				"0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", // native USDC
				"0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174", // bridged USDC.e
			},
			SentinelUSD:        0,
			CriticalLowUSD:     5,
			ChangeAlertPercent: 20,
		},
		Storage: StorageConfig{
			Driver:     "sqlite",
			SQLitePath: "newmarketbot.db",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			PriceTTL:     duration{10 * time.Minute},
			EventsStream: "newmarketbot:events",
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "newmarketbot",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:            true,
			Port:               8000,
			RateLimitPerSecond: 10,
			RateLimitBurst:     20,
		},
		Notify: NotifyConfig{
			Events: []string{"new_market", "trade_placed", "position_closed", "error", "balance_alert", "feed_status"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet: a missing key only disables trading, but a half-configured
	// encrypted key is a mistake.
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType < 0 || c.Polymarket.SignatureType > 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 0 (EOA), 1 (proxy) or 2 (Safe), got %d", c.Polymarket.SignatureType))
	}
	if c.Polymarket.RequestsPerSecond <= 0 {
		errs = append(errs, "polymarket: requests_per_second must be > 0")
	}

	if c.Subgraph.PageSize < 1 || c.Subgraph.PageSize > 1000 {
		errs = append(errs, fmt.Sprintf("subgraph: page_size must be 1-1000, got %d", c.Subgraph.PageSize))
	}

	if c.Discovery.Interval.Duration <= 0 {
		errs = append(errs, "discovery: interval must be > 0")
	}
	if c.Discovery.MaxAgeMinutes < 1 {
		errs = append(errs, "discovery: max_age_minutes must be >= 1")
	}
	if c.Discovery.GammaPageSize < 1 {
		errs = append(errs, "discovery: gamma_page_size must be >= 1")
	}

	side := strings.ToUpper(c.Trading.Side)
	if side != "YES" && side != "NO" {
		errs = append(errs, fmt.Sprintf("trading: side must be YES or NO, got %q", c.Trading.Side))
	}
	if c.Trading.PositionSizeUSD <= 0 {
		errs = append(errs, "trading: position_size_usd must be > 0")
	}
	if c.Trading.MaxPositionPercentOfBalance <= 0 || c.Trading.MaxPositionPercentOfBalance > 100 {
		errs = append(errs, "trading: max_position_percent_of_balance must be in (0, 100]")
	}
	if c.Trading.MaxEntryPrice <= 0 || c.Trading.MaxEntryPrice >= 1 {
		errs = append(errs, "trading: max_entry_price must be in (0, 1)")
	}
	if c.Trading.ProfitTargetPercent <= 0 {
		errs = append(errs, "trading: profit_target_percent must be > 0")
	}
	if c.Trading.StopLossPercent >= 0 {
		errs = append(errs, "trading: stop_loss_percent must be < 0")
	}
	if c.Trading.MaxHoldingHours <= 0 {
		errs = append(errs, "trading: max_holding_hours must be > 0")
	}
	if c.Trading.MaxOpenPositions < 1 {
		errs = append(errs, "trading: max_open_positions must be >= 1")
	}
	switch strings.ToLower(c.Trading.Strategy) {
	case "conservative", "aggressive":
	default:
		errs = append(errs, fmt.Sprintf("trading: strategy must be conservative or aggressive, got %q", c.Trading.Strategy))
	}

	if c.Monitor.PositionInterval.Duration <= 0 {
		errs = append(errs, "monitor: position_interval must be > 0")
	}
	if c.Monitor.BalanceInterval.Duration <= 0 {
		errs = append(errs, "monitor: balance_interval must be > 0")
	}

	if c.Feed.Enabled {
		if c.Polymarket.WsURL == "" {
			errs = append(errs, "polymarket: ws_url must not be empty when the feed is enabled")
		}
		if c.Feed.MaxAttempts < 1 {
			errs = append(errs, "feed: max_attempts must be >= 1")
		}
		if c.Feed.BaseDelay.Duration <= 0 || c.Feed.MaxDelay.Duration < c.Feed.BaseDelay.Duration {
			errs = append(errs, "feed: base_delay must be > 0 and max_delay >= base_delay")
		}
		if c.Feed.PingInterval.Duration <= 0 {
			errs = append(errs, "feed: ping_interval must be > 0")
		}
		if c.Feed.TopK < 1 {
			errs = append(errs, "feed: top_k must be >= 1")
		}
	}

	if c.Balance.CriticalLowUSD < 0 {
		errs = append(errs, "balance: critical_low_usd must be >= 0")
	}
	if c.Balance.ChangeAlertPercent <= 0 {
		errs = append(errs, "balance: change_alert_percent must be > 0")
	}

	switch strings.ToLower(c.Storage.Driver) {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			errs = append(errs, "storage: sqlite_path must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: postgres, sqlite)", c.Storage.Driver))
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty when enabled")
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty when enabled")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimitPerSecond < 0 {
		errs = append(errs, "server: rate_limit_per_second must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
