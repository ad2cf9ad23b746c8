package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/newmarketbot/internal/balance"
	s3blob "github.com/alanyoungcy/newmarketbot/internal/blob/s3"
	"github.com/alanyoungcy/newmarketbot/internal/cache/redis"
	"github.com/alanyoungcy/newmarketbot/internal/config"
	"github.com/alanyoungcy/newmarketbot/internal/crypto"
	"github.com/alanyoungcy/newmarketbot/internal/discovery"
	"github.com/alanyoungcy/newmarketbot/internal/domain"
	"github.com/alanyoungcy/newmarketbot/internal/engine"
	"github.com/alanyoungcy/newmarketbot/internal/feed"
	"github.com/alanyoungcy/newmarketbot/internal/filter"
	"github.com/alanyoungcy/newmarketbot/internal/notify"
	"github.com/alanyoungcy/newmarketbot/internal/platform/chain"
	"github.com/alanyoungcy/newmarketbot/internal/platform/polymarket"
	"github.com/alanyoungcy/newmarketbot/internal/platform/subgraph"
	"github.com/alanyoungcy/newmarketbot/internal/scheduler"
	"github.com/alanyoungcy/newmarketbot/internal/server/handler"
	"github.com/alanyoungcy/newmarketbot/internal/server/ws"
	"github.com/alanyoungcy/newmarketbot/internal/store/postgres"
	"github.com/alanyoungcy/newmarketbot/internal/store/sqlite"
)

// Storage is the position store plus its audit log.
type Storage interface {
	domain.PositionStore
	domain.EventStream
	domain.EventReader
	Ping(ctx context.Context) error
}

// Dependencies is everything Wire builds. Optional parts are nil when
// disabled in the configuration.
type Dependencies struct {
	UserAddress string
	ReadOnly    bool

	Store      Storage
	PriceCache domain.PriceCache
	Events     *FanOut
	EventLog   domain.EventReader
	Hub        *ws.Hub
	Archiver   *s3blob.Archiver
	Notifier   *notify.Notifier

	Clob      *polymarket.ClobClient
	Discovery *discovery.Discovery
	Filter    *filter.MarketFilter
	Feed      *feed.LiveFeed
	Balance   *balance.Aggregator
	Monitor   *balance.Monitor
	Engine    *engine.Manager

	// HealthChecks are pinged by /api/health.
	HealthChecks map[string]handler.Pinger
	// ExtraTasks run under the engine supervisor.
	ExtraTasks []scheduler.Task
}

// Wire builds all dependencies from cfg. The returned cleanup releases
// them in reverse order and must be called even when Run fails.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.Pinger)}

	// --- Wallet ---
	signer, err := loadSigner(cfg, logger)
	if err != nil {
		return fail(err)
	}
	deps.UserAddress = strings.TrimSpace(cfg.Wallet.Address)
	if deps.UserAddress == "" && signer != nil {
		deps.UserAddress = signer.Address().Hex()
	}
	deps.ReadOnly = signer == nil || strings.EqualFold(cfg.Mode, "monitor")

	// --- Storage ---
	store, closeStore, err := OpenStore(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeStore)
	deps.Store = store
	deps.HealthChecks["store"] = store

	streams := []domain.EventStream{store}
	deps.EventLog = store

	// --- Redis ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MaxRetries:   cfg.Redis.MaxRetries,
			TLSEnabled:   cfg.Redis.TLSEnabled,
			PriceTTL:     cfg.Redis.PriceTTL.Duration,
			EventsStream: cfg.Redis.EventsStream,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.PriceCache = redis.NewPriceCache(rc)
		stream := redis.NewEventStream(rc)
		streams = append(streams, stream)
		deps.EventLog = stream
		deps.HealthChecks["redis"] = rc
	}

	// --- Dashboard push ---
	if cfg.Server.Enabled {
		deps.Hub = ws.NewHub(cfg.Mode, logger)
		streams = append(streams, deps.Hub)
	}
	deps.Events = NewFanOut(logger, streams...)

	// --- S3 archive ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewBlobBackend(sc))
		deps.HealthChecks["s3"] = pingFunc(sc.Health)
		deps.ExtraTasks = append(deps.ExtraTasks, exportTask(deps.Archiver, store, logger))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	relay := engine.NewStatusRelay(deps.Notifier)

	// --- Polymarket clients ---
	limiter := polymarket.NewLimiter(cfg.Polymarket.RequestsPerSecond)
	gamma := polymarket.NewGammaClient(cfg.Polymarket.GammaHost, limiter,
		cfg.Discovery.GammaPageSize, cfg.Discovery.GammaMaxPages, logger)
	clobOpts := polymarket.ClobOptions{
		BaseURL:       cfg.Polymarket.ClobHost,
		Limiter:       limiter,
		Funder:        cfg.Wallet.ProxyAddress,
		SignatureType: cfg.Polymarket.SignatureType,
	}
	if !deps.ReadOnly {
		clobOpts.Signer = signer
	}
	deps.Clob = polymarket.NewClobClient(clobOpts, logger)
	if !deps.ReadOnly {
		if err := deps.Clob.DeriveAPIKey(ctx); err != nil {
			logger.WarnContext(ctx, "wire: derive CLOB API key failed, trading disabled",
				slog.String("error", err.Error()))
			deps.ReadOnly = true
		}
	}
	data := polymarket.NewDataClient(cfg.Polymarket.DataHost, limiter)

	// --- Discovery ---
	var primary domain.MarketSource = gamma
	fallbacks := []domain.MarketSource{deps.Clob}
	if endpoint := cfg.Subgraph.Endpoint(); endpoint != "" {
		primary = subgraph.NewClient(endpoint, cfg.Subgraph.PageSize, limiter, logger)
		fallbacks = []domain.MarketSource{gamma, deps.Clob}
	}
	deps.Discovery = discovery.New(primary, fallbacks, logger)
	deps.Filter = filter.New()

	// --- Live feed ---
	var priceFeed engine.PriceFeed
	if cfg.Feed.Enabled {
		deps.Feed = feed.New(feed.Config{
			PingInterval:          cfg.Feed.PingInterval.Duration,
			PongTimeout:           cfg.Feed.PongTimeout.Duration,
			MaxAttempts:           cfg.Feed.MaxAttempts,
			BaseDelay:             cfg.Feed.BaseDelay.Duration,
			MaxDelay:              cfg.Feed.MaxDelay.Duration,
			BackoffCap:            cfg.Feed.BackoffCap,
			FallbackEnabled:       cfg.Feed.FallbackEnabled,
			FallbackPollInterval:  cfg.Feed.FallbackPollInterval.Duration,
			FallbackRetryInterval: cfg.Feed.FallbackRetryInterval.Duration,
			TopK:                  cfg.Feed.TopK,
			StopTimeout:           cfg.Feed.StopTimeout.Duration,
		}, feed.PolymarketDialer(cfg.Polymarket.WsURL), deps.Clob, deps.PriceCache, relay, logger)
		priceFeed = deps.Feed
	}

	// --- Balance ---
	var sources []domain.BalanceSource
	sources = append(sources, balance.NewPositionsValueSource(data))
	if len(cfg.Balance.RPCEndpoints) > 0 {
		usdc, err := chain.NewUSDCReader(cfg.Balance.RPCEndpoints, cfg.Balance.USDCContracts, nil, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: usdc reader: %w", err))
		}
		closers = append(closers, usdc.Close)
		sources = append(sources,
			balance.NewProxyFreeSource(cfg.Wallet.ProxyAddress, usdc, data),
			balance.NewOnchainSource(usdc),
		)
	}
	deps.Balance = balance.NewAggregator(sources, cfg.Balance.SentinelUSD, relay, logger)

	var (
		resolver engine.BalanceResolver
		checker  engine.BalanceChecker
	)
	if deps.UserAddress != "" {
		deps.Monitor = balance.NewMonitor(deps.Balance, deps.UserAddress, balance.MonitorConfig{
			CriticalLowUSD:     cfg.Balance.CriticalLowUSD,
			ChangeAlertPercent: cfg.Balance.ChangeAlertPercent,
		}, deps.Notifier, logger)
		resolver, checker = deps.Balance, deps.Monitor
	}

	// --- Engine ---
	var (
		gateway  domain.OrderGateway
		archiver domain.PositionArchiver
	)
	if !deps.ReadOnly {
		gateway = deps.Clob
	}
	if deps.Archiver != nil {
		archiver = deps.Archiver
	}

	mgr, err := engine.New(engine.Config{
		ReadOnly:                    deps.ReadOnly,
		UserAddress:                 deps.UserAddress,
		Side:                        cfg.Trading.Side,
		PositionSizeUSD:             cfg.Trading.PositionSizeUSD,
		MaxPositionPercentOfBalance: cfg.Trading.MaxPositionPercentOfBalance,
		MaxEntryPrice:               cfg.Trading.MaxEntryPrice,
		ProfitTargetPercent:         cfg.Trading.ProfitTargetPercent,
		StopLossPercent:             cfg.Trading.StopLossPercent,
		MaxHoldingHours:             cfg.Trading.MaxHoldingHours,
		MaxOpenPositions:            cfg.Trading.MaxOpenPositions,
		MaxDailyTrades:              cfg.Trading.MaxDailyTrades(),
		MinLiquidityUSD:             cfg.Trading.MinLiquidityUSD,
		SellOnClose:                 cfg.Trading.SellOnClose,
		MaxMarketAge:                cfg.Discovery.MaxAge(),
		WatchTokens:                 cfg.Feed.TopK,
		MarketInterval:              cfg.Discovery.Interval.Duration,
		PositionInterval:            cfg.Monitor.PositionInterval.Duration,
		BalanceInterval:             cfg.Monitor.BalanceInterval.Duration,
		ReconcileInterval:           cfg.Monitor.ReconcileInterval.Duration,
	}, engine.Deps{
		Discovery:  deps.Discovery,
		Filter:     deps.Filter,
		Store:      store,
		Gateway:    gateway,
		Prices:     deps.Clob,
		PriceCache: deps.PriceCache,
		Feed:       priceFeed,
		Balance:    resolver,
		Monitor:    checker,
		Notifier:   deps.Notifier,
		Archiver:   archiver,
		Events:     deps.Events,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: engine: %w", err))
	}
	deps.Engine = mgr

	return deps, cleanup, nil
}

// loadSigner returns nil without error when no key is configured, which
// makes the bot read-only.
func loadSigner(cfg *config.Config, logger *slog.Logger) (*crypto.Signer, error) {
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if errors.Is(err, crypto.ErrNoKey) {
		logger.Warn("wire: no private key configured, running read-only")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("wire: load key: %w", err)
	}
	signer, err := crypto.NewSigner(key, cfg.Polymarket.ChainID)
	if err != nil {
		return nil, fmt.Errorf("wire: signer: %w", err)
	}
	return signer, nil
}

// OpenStore opens the configured position store. The returned func closes it.
func OpenStore(ctx context.Context, cfg *config.Config) (Storage, func(), error) {
	switch strings.ToLower(cfg.Storage.Driver) {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				pg.Close()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		return postgresStorage{
			PositionStore: postgres.NewPositionStore(pg.Pool()),
			AuditStore:    postgres.NewAuditStore(pg.Pool()),
			client:        pg,
		}, pg.Close, nil

	default:
		st, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("wire: sqlite: %w", err)
		}
		return st, func() { _ = st.Close() }, nil
	}
}

type postgresStorage struct {
	*postgres.PositionStore
	*postgres.AuditStore
	client *postgres.Client
}

func (s postgresStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// exportTask uploads the previous UTC day's positions once a day.
func exportTask(a *s3blob.Archiver, store s3blob.ClosedLister, logger *slog.Logger) scheduler.Task {
	return scheduler.Task{
		Name:     "archive-export",
		Interval: 24 * time.Hour,
		Run: func(ctx context.Context) error {
			day := time.Now().UTC().AddDate(0, 0, -1)
			n, err := a.ExportDay(ctx, store, day)
			if err != nil {
				return err
			}
			logger.InfoContext(ctx, "app: exported positions",
				slog.String("day", day.Format(time.DateOnly)),
				slog.Int("count", n),
			)
			return nil
		},
	}
}
