// Package engine runs the trading agent: it turns discovered markets into
// positions and manages every open position until one of its exit rules
// fires.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/newmarketbot/internal/balance"
	"github.com/alanyoungcy/newmarketbot/internal/discovery"
	"github.com/alanyoungcy/newmarketbot/internal/domain"
	"github.com/alanyoungcy/newmarketbot/internal/filter"
	"github.com/alanyoungcy/newmarketbot/internal/scheduler"
)

// Reasons AttemptTrade declines a market. They wrap ErrSkipped so callers
// can tell a skip from a failure.
var (
	ErrSkipped          = errors.New("engine: trade skipped")
	ErrInFlight         = fmt.Errorf("%w: attempt already in flight", ErrSkipped)
	ErrPositionLimit    = fmt.Errorf("%w: open position limit reached", ErrSkipped)
	ErrDailyLimit       = fmt.Errorf("%w: daily trade limit reached", ErrSkipped)
	ErrNoOutcomeToken   = fmt.Errorf("%w: no token for configured side", ErrSkipped)
	ErrNoPrice          = fmt.Errorf("%w: no usable price", ErrSkipped)
	ErrPriceAboveLimit  = fmt.Errorf("%w: price above max entry price", ErrSkipped)
	ErrLowLiquidity     = fmt.Errorf("%w: liquidity below minimum", ErrSkipped)
	ErrOrderNotAccepted = errors.New("engine: order not accepted")
)

// Discoverer yields markets not seen before in this process.
type Discoverer interface {
	Discover(ctx context.Context, maxAge time.Duration) (discovery.Result, error)
}

// PriceFeed is the live price feed as seen by the engine.
type PriceFeed interface {
	Events() <-chan domain.PriceEvent
	Price(tokenID string) (float64, time.Time, bool)
	SetTokens(ids []string)
	AddTokens(ids ...string)
}

// BalanceResolver resolves the wallet balance.
type BalanceResolver interface {
	GetBalance(ctx context.Context, address string) domain.BalanceSnapshot
}

// BalanceChecker runs one balance monitoring sample.
type BalanceChecker interface {
	Check(ctx context.Context) balance.CheckResult
}

// Config holds the trading rules and loop intervals.
type Config struct {
	ReadOnly                    bool
	UserAddress                 string
	Side                        string // "YES" or "NO"
	PositionSizeUSD             float64
	MaxPositionPercentOfBalance float64
	MaxEntryPrice               float64
	ProfitTargetPercent         float64
	StopLossPercent             float64
	MaxHoldingHours             float64
	MaxOpenPositions            int
	MaxDailyTrades              int
	MinLiquidityUSD             float64
	SellOnClose                 bool
	MaxMarketAge                time.Duration
	PriceMaxAge                 time.Duration
	WatchTokens                 int

	MarketInterval    time.Duration
	PositionInterval  time.Duration
	BalanceInterval   time.Duration
	ReconcileInterval time.Duration
}

func (c *Config) setDefaults() {
	c.Side = strings.ToUpper(strings.TrimSpace(c.Side))
	if c.Side == "" {
		c.Side = "NO"
	}
	if c.MaxMarketAge <= 0 {
		c.MaxMarketAge = 10 * time.Minute
	}
	if c.PriceMaxAge <= 0 {
		c.PriceMaxAge = 2 * time.Minute
	}
	if c.WatchTokens <= 0 {
		c.WatchTokens = 40
	}
	if c.MarketInterval <= 0 {
		c.MarketInterval = 60 * time.Second
	}
	if c.PositionInterval <= 0 {
		c.PositionInterval = 10 * time.Second
	}
	if c.BalanceInterval <= 0 {
		c.BalanceInterval = 5 * time.Minute
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 5 * time.Minute
	}
}

// Deps are the collaborators of a Manager. Discovery, Filter and Store are
// required; everything else may be nil. A nil Gateway makes the manager
// read-only.
type Deps struct {
	Discovery  Discoverer
	Filter     *filter.MarketFilter
	Store      domain.PositionStore
	Gateway    domain.OrderGateway
	Prices     domain.PriceSource
	PriceCache domain.PriceCache
	Feed       PriceFeed
	Balance    BalanceResolver
	Monitor    BalanceChecker
	Notifier   domain.Notifier
	Archiver   domain.PositionArchiver
	Events     domain.EventStream
}

// Manager is the position manager. Its loops are run by a
// scheduler.Supervisor.
type Manager struct {
	cfg        Config
	discovery  Discoverer
	filter     *filter.MarketFilter
	store      domain.PositionStore
	gateway    domain.OrderGateway
	prices     domain.PriceSource
	priceCache domain.PriceCache
	feed       PriceFeed
	balance    BalanceResolver
	monitor    BalanceChecker
	notifier   domain.Notifier
	archiver   domain.PositionArchiver
	events     domain.EventStream
	logger     *slog.Logger
	now        func() time.Time

	guardMu sync.Mutex
	guard   map[string]struct{}

	mu            sync.Mutex
	day           string
	dailyTrades   int
	watch         []string
	pending       []domain.Position
	sold          map[string]soldPosition
	lastReconcile time.Time
	latest        map[string]domain.PriceEvent
	stats         Stats
	sup           *scheduler.Supervisor
}

// soldPosition is a position whose SELL filled but whose close is not yet
// stored.
type soldPosition struct {
	price  float64
	reason domain.CloseReason
}

// Stats are engine counters for the status API.
type Stats struct {
	MarketCycles    int64     `json:"market_cycles"`
	PositionCycles  int64     `json:"position_cycles"`
	MarketsFound    int64     `json:"markets_found"`
	TradesPlaced    int64     `json:"trades_placed"`
	PositionsClosed int64     `json:"positions_closed"`
	PriceEvents     int64     `json:"price_events"`
	PendingSaves    int       `json:"pending_saves"`
	PendingCloses   int       `json:"pending_closes"`
	DailyTrades     int       `json:"daily_trades"`
	LastDiscovery   time.Time `json:"last_discovery"`
	UsedFallback    bool      `json:"used_fallback"`
	TradingEnabled  bool      `json:"trading_enabled"`
}

// New creates a Manager.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Manager, error) {
	if deps.Discovery == nil || deps.Filter == nil || deps.Store == nil {
		return nil, errors.New("engine: discovery, filter and store are required")
	}
	cfg.setDefaults()
	if cfg.Side != "YES" && cfg.Side != "NO" {
		return nil, fmt.Errorf("engine: side must be YES or NO, got %q", cfg.Side)
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Manager{
		cfg:        cfg,
		discovery:  deps.Discovery,
		filter:     deps.Filter,
		store:      deps.Store,
		gateway:    deps.Gateway,
		prices:     deps.Prices,
		priceCache: deps.PriceCache,
		feed:       deps.Feed,
		balance:    deps.Balance,
		monitor:    deps.Monitor,
		notifier:   notifier,
		archiver:   deps.Archiver,
		events:     deps.Events,
		logger:     logger.With(slog.String("component", "engine")),
		now:        time.Now,
		guard:      make(map[string]struct{}),
		sold:       make(map[string]soldPosition),
		latest:     make(map[string]domain.PriceEvent),
	}, nil
}

// TradingEnabled reports whether AttemptTrade may place orders.
func (m *Manager) TradingEnabled() bool {
	return !m.cfg.ReadOnly && m.gateway != nil
}

// Tasks returns the scheduled loops of the manager. Reconciliation runs
// inside the market task so the filter's sets have a single writer for
// bulk replacement.
func (m *Manager) Tasks() []scheduler.Task {
	tasks := []scheduler.Task{
		{Name: "market", Interval: m.cfg.MarketInterval, Run: m.RunMarketCycle},
		{Name: "position", Interval: m.cfg.PositionInterval, Run: m.RunPositionCycle},
	}
	if m.monitor != nil {
		tasks = append(tasks, scheduler.Task{Name: "balance", Interval: m.cfg.BalanceInterval, Run: m.RunBalanceCycle})
	}
	if m.feed != nil {
		tasks = append(tasks, scheduler.Task{Name: "feed-drain", Run: m.DrainFeed})
	}
	return tasks
}

// Run reconciles the filter with the store and then runs every task, plus
// any extra ones, until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, extra ...scheduler.Task) error {
	if err := m.Reconcile(ctx); err != nil {
		m.logger.WarnContext(ctx, "engine: initial reconcile failed", slog.String("error", err.Error()))
	}
	m.logger.InfoContext(ctx, "engine: starting",
		slog.Bool("trading_enabled", m.TradingEnabled()),
		slog.String("side", m.cfg.Side),
		slog.String("user", m.cfg.UserAddress),
	)

	sup := scheduler.NewSupervisor(m.logger, append(m.Tasks(), extra...)...)
	sup.OnError(func(ctx context.Context, task string, err error) {
		if errors.Is(err, context.Canceled) {
			return
		}
		m.notifier.Error(ctx, task, err)
	})
	m.mu.Lock()
	m.sup = sup
	m.mu.Unlock()
	return sup.Run(ctx)
}

// TaskStats returns the per-task outcomes of the running supervisor, or nil
// before Run.
func (m *Manager) TaskStats() []scheduler.TaskStats {
	m.mu.Lock()
	sup := m.sup
	m.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Stats()
}

// Stats returns a copy of the engine counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.PendingSaves = len(m.pending)
	s.PendingCloses = len(m.sold)
	s.DailyTrades = m.dailyTrades
	s.TradingEnabled = m.TradingEnabled()
	return s
}

// OpenPositions lists the open positions of the configured user.
func (m *Manager) OpenPositions(ctx context.Context) ([]domain.Position, error) {
	positions, err := m.store.GetOpenPositions(ctx, m.cfg.UserAddress)
	if err != nil {
		return nil, fmt.Errorf("engine: open positions: %w: %w", domain.ErrPersistence, err)
	}
	return positions, nil
}

// Reconcile rebuilds the filter's open-position cache from the store.
func (m *Manager) Reconcile(ctx context.Context) error {
	m.mu.Lock()
	m.lastReconcile = m.now()
	m.mu.Unlock()

	positions, err := m.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("engine: reconcile: %w", err)
	}
	ids := make([]string, 0, len(positions))
	for _, p := range positions {
		ids = append(ids, p.MarketID)
	}
	added, removed := m.filter.SyncOpenPositions(ids)
	if added > 0 || removed > 0 {
		m.logger.InfoContext(ctx, "engine: open-position cache resynced",
			slog.Int("added", added),
			slog.Int("removed", removed),
		)
	}
	m.refreshFeedTokens(positions)
	return nil
}

// reconcileIfDue runs Reconcile when ReconcileInterval has passed since the
// last run.
func (m *Manager) reconcileIfDue(ctx context.Context) {
	m.mu.Lock()
	due := m.now().Sub(m.lastReconcile) >= m.cfg.ReconcileInterval
	m.mu.Unlock()
	if !due {
		return
	}
	if err := m.Reconcile(ctx); err != nil {
		m.logger.WarnContext(ctx, "engine: reconcile failed", slog.String("error", err.Error()))
	}
}

// RunBalanceCycle takes one balance monitoring sample.
func (m *Manager) RunBalanceCycle(ctx context.Context) error {
	res := m.monitor.Check(ctx)
	if res.Snapshot.Degraded {
		m.logger.DebugContext(ctx, "engine: balance degraded", slog.String("source", res.Snapshot.Source))
	}
	return nil
}

// DrainFeed applies price events to the engine's price map until ctx is
// cancelled.
func (m *Manager) DrainFeed(ctx context.Context) error {
	events := m.feed.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			m.applyPriceEvent(ev)
		}
	}
}

func (m *Manager) applyPriceEvent(ev domain.PriceEvent) {
	if ev.TokenID == "" || ev.Price <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.latest[ev.TokenID]; ok && ev.Timestamp.Before(cur.Timestamp) {
		return
	}
	m.latest[ev.TokenID] = ev
	m.stats.PriceEvents++
}

// refreshFeedTokens resubscribes the feed to recently discovered tokens plus
// the tokens of open positions, which are listed last so they survive the
// feed's top-K trim.
func (m *Manager) refreshFeedTokens(open []domain.Position) {
	if m.feed == nil {
		return
	}
	m.mu.Lock()
	ids := make([]string, 0, len(m.watch)+len(open))
	ids = append(ids, m.watch...)
	m.mu.Unlock()
	for _, p := range open {
		ids = append(ids, p.TokenID)
	}
	m.feed.SetTokens(ids)
}

func (m *Manager) watchTokens(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watch = append(m.watch, ids...)
	if over := len(m.watch) - m.cfg.WatchTokens; over > 0 {
		m.watch = append([]string(nil), m.watch[over:]...)
	}
}

func (m *Manager) appendEvent(ctx context.Context, event string, detail map[string]any) {
	if m.events == nil {
		return
	}
	if err := m.events.Append(ctx, event, detail); err != nil {
		m.logger.WarnContext(ctx, "engine: event stream append failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

type nopNotifier struct{}

func (nopNotifier) NewMarket(context.Context, domain.Market)                                   {}
func (nopNotifier) TradePlaced(context.Context, domain.Position)                               {}
func (nopNotifier) PositionClosed(context.Context, domain.Position, domain.CloseReason, float64) {}
func (nopNotifier) Error(context.Context, string, error)                                       {}
func (nopNotifier) BalanceAlert(context.Context, string, domain.BalanceSnapshot, string)       {}
func (nopNotifier) FeedStatus(context.Context, string, string)                                 {}
