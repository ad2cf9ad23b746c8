package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies NEWMARKETBOT_* environment variable overrides, and
// returns the final Config. A missing file is not an error: the bot can run
// from defaults and environment alone. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known NEWMARKETBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. Bare
// names used by earlier deployments (PRIVATE_KEY, DATABASE_URL, ...) are
// accepted as aliases.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "PRIVATE_KEY")
	setStr(&cfg.Wallet.PrivateKey, "NEWMARKETBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.Address, "NEWMARKETBOT_WALLET_ADDRESS")
	setStr(&cfg.Wallet.ProxyAddress, "POLYMARKET_PROXY_ADDRESS")
	setStr(&cfg.Wallet.ProxyAddress, "NEWMARKETBOT_WALLET_PROXY_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "NEWMARKETBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "NEWMARKETBOT_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "NEWMARKETBOT_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "NEWMARKETBOT_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.DataHost, "NEWMARKETBOT_POLYMARKET_DATA_HOST")
	setStr(&cfg.Polymarket.WsURL, "NEWMARKETBOT_POLYMARKET_WS_URL")
	setInt(&cfg.Polymarket.ChainID, "CHAIN_ID")
	setInt(&cfg.Polymarket.ChainID, "NEWMARKETBOT_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "NEWMARKETBOT_POLYMARKET_SIGNATURE_TYPE")
	setFloat64(&cfg.Polymarket.RequestsPerSecond, "NEWMARKETBOT_POLYMARKET_REQUESTS_PER_SECOND")

	// ── Subgraph ──
	setStr(&cfg.Subgraph.URL, "NEWMARKETBOT_SUBGRAPH_URL")
	setStr(&cfg.Subgraph.APIKey, "THEGRAPH_API_KEY")
	setStr(&cfg.Subgraph.APIKey, "NEWMARKETBOT_SUBGRAPH_API_KEY")
	setStr(&cfg.Subgraph.SubgraphID, "NEWMARKETBOT_SUBGRAPH_ID")
	setInt(&cfg.Subgraph.PageSize, "NEWMARKETBOT_SUBGRAPH_PAGE_SIZE")

	// ── Discovery ──
	setDuration(&cfg.Discovery.Interval, "NEWMARKETBOT_DISCOVERY_INTERVAL")
	setInt(&cfg.Discovery.MaxAgeMinutes, "TIME_WINDOW_MINUTES")
	setInt(&cfg.Discovery.MaxAgeMinutes, "NEWMARKETBOT_DISCOVERY_MAX_AGE_MINUTES")
	setInt(&cfg.Discovery.GammaPageSize, "NEWMARKETBOT_DISCOVERY_GAMMA_PAGE_SIZE")
	setInt(&cfg.Discovery.GammaMaxPages, "NEWMARKETBOT_DISCOVERY_GAMMA_MAX_PAGES")

	// ── Trading ──
	setStr(&cfg.Trading.Side, "NEWMARKETBOT_TRADING_SIDE")
	setFloat64(&cfg.Trading.PositionSizeUSD, "NEWMARKETBOT_TRADING_POSITION_SIZE_USD")
	setFloat64(&cfg.Trading.MaxPositionPercentOfBalance, "NEWMARKETBOT_TRADING_MAX_POSITION_PERCENT_OF_BALANCE")
	setFloat64(&cfg.Trading.MaxEntryPrice, "NEWMARKETBOT_TRADING_MAX_ENTRY_PRICE")
	setFloat64(&cfg.Trading.ProfitTargetPercent, "NEWMARKETBOT_TRADING_PROFIT_TARGET_PERCENT")
	setFloat64(&cfg.Trading.StopLossPercent, "NEWMARKETBOT_TRADING_STOP_LOSS_PERCENT")
	setFloat64(&cfg.Trading.MaxHoldingHours, "NEWMARKETBOT_TRADING_MAX_HOLDING_HOURS")
	setInt(&cfg.Trading.MaxOpenPositions, "NEWMARKETBOT_TRADING_MAX_OPEN_POSITIONS")
	setFloat64(&cfg.Trading.MinLiquidityUSD, "NEWMARKETBOT_TRADING_MIN_LIQUIDITY_USD")
	setStr(&cfg.Trading.Strategy, "NEWMARKETBOT_TRADING_STRATEGY")
	setBool(&cfg.Trading.SellOnClose, "NEWMARKETBOT_TRADING_SELL_ON_CLOSE")

	// ── Monitor ──
	setDuration(&cfg.Monitor.PositionInterval, "NEWMARKETBOT_MONITOR_POSITION_INTERVAL")
	setDuration(&cfg.Monitor.BalanceInterval, "NEWMARKETBOT_MONITOR_BALANCE_INTERVAL")
	setDuration(&cfg.Monitor.ReconcileInterval, "NEWMARKETBOT_MONITOR_RECONCILE_INTERVAL")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "NEWMARKETBOT_FEED_ENABLED")
	setDuration(&cfg.Feed.PingInterval, "NEWMARKETBOT_FEED_PING_INTERVAL")
	setDuration(&cfg.Feed.PongTimeout, "NEWMARKETBOT_FEED_PONG_TIMEOUT")
	setInt(&cfg.Feed.MaxAttempts, "NEWMARKETBOT_FEED_MAX_ATTEMPTS")
	setDuration(&cfg.Feed.BaseDelay, "NEWMARKETBOT_FEED_BASE_DELAY")
	setDuration(&cfg.Feed.MaxDelay, "NEWMARKETBOT_FEED_MAX_DELAY")
	setBool(&cfg.Feed.FallbackEnabled, "NEWMARKETBOT_FEED_FALLBACK_ENABLED")
	setDuration(&cfg.Feed.FallbackPollInterval, "NEWMARKETBOT_FEED_FALLBACK_POLL_INTERVAL")
	setDuration(&cfg.Feed.FallbackRetryInterval, "NEWMARKETBOT_FEED_FALLBACK_RETRY_INTERVAL")
	setInt(&cfg.Feed.TopK, "NEWMARKETBOT_FEED_TOP_K")

	// ── Balance ──
	setStringSlice(&cfg.Balance.RPCEndpoints, "NEWMARKETBOT_BALANCE_RPC_ENDPOINTS")
	setStringSlice(&cfg.Balance.USDCContracts, "NEWMARKETBOT_BALANCE_USDC_CONTRACTS")
	setFloat64(&cfg.Balance.SentinelUSD, "NEWMARKETBOT_BALANCE_SENTINEL_USD")
	setFloat64(&cfg.Balance.CriticalLowUSD, "NEWMARKETBOT_BALANCE_CRITICAL_LOW_USD")
	setFloat64(&cfg.Balance.ChangeAlertPercent, "NEWMARKETBOT_BALANCE_CHANGE_ALERT_PERCENT")

	// ── Storage ──
	setStr(&cfg.Storage.Driver, "NEWMARKETBOT_STORAGE_DRIVER")
	setStr(&cfg.Storage.SQLitePath, "NEWMARKETBOT_STORAGE_SQLITE_PATH")
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Postgres.DSN = v
		cfg.Storage.Driver = "postgres"
	}
	setStr(&cfg.Postgres.DSN, "NEWMARKETBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "NEWMARKETBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "NEWMARKETBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "NEWMARKETBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "NEWMARKETBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "NEWMARKETBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "NEWMARKETBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "NEWMARKETBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "NEWMARKETBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "NEWMARKETBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "NEWMARKETBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "NEWMARKETBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "NEWMARKETBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "NEWMARKETBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "NEWMARKETBOT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "NEWMARKETBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PriceTTL, "NEWMARKETBOT_REDIS_PRICE_TTL")
	setStr(&cfg.Redis.EventsStream, "NEWMARKETBOT_REDIS_EVENTS_STREAM")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "NEWMARKETBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "NEWMARKETBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "NEWMARKETBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "NEWMARKETBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "NEWMARKETBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "NEWMARKETBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "NEWMARKETBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "NEWMARKETBOT_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "NEWMARKETBOT_S3_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "NEWMARKETBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "NEWMARKETBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "NEWMARKETBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "NEWMARKETBOT_SERVER_CORS_ORIGINS")
	setFloat64(&cfg.Server.RateLimitPerSecond, "NEWMARKETBOT_SERVER_RATE_LIMIT_PER_SECOND")
	setInt(&cfg.Server.RateLimitBurst, "NEWMARKETBOT_SERVER_RATE_LIMIT_BURST")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TELEGRAM_BOT_TOKEN")
	setStr(&cfg.Notify.TelegramToken, "NEWMARKETBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.TelegramChatID, "NEWMARKETBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NEWMARKETBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NEWMARKETBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "NEWMARKETBOT_MODE")
	setStr(&cfg.LogLevel, "NEWMARKETBOT_LOG_LEVEL")
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
