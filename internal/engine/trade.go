package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

// RunMarketCycle resyncs the open-position cache when due, then discovers
// new markets, filters them and attempts a trade on each accepted one.
func (m *Manager) RunMarketCycle(ctx context.Context) error {
	m.reconcileIfDue(ctx)

	res, err := m.discovery.Discover(ctx, m.cfg.MaxMarketAge)
	if err != nil {
		return fmt.Errorf("engine: market cycle: %w", err)
	}

	m.mu.Lock()
	m.stats.MarketCycles++
	m.stats.MarketsFound += int64(len(res.Markets))
	m.stats.LastDiscovery = m.now().UTC()
	m.stats.UsedFallback = res.Fallback
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "engine: discovery complete",
		slog.Int("fetched", res.Fetched),
		slog.Int("new", len(res.Markets)),
		slog.Bool("fallback", res.Fallback),
	)

	var errs []error
	for _, market := range res.Markets {
		if ctx.Err() != nil {
			break
		}
		ok, reason := m.filter.ShouldTrade(market)
		if !ok {
			m.logger.DebugContext(ctx, "engine: market rejected",
				slog.String("market_id", market.ID),
				slog.String("reason", reason),
			)
			continue
		}
		if tok, found := market.TokenForOutcome(m.cfg.Side); found {
			m.watchTokens(tok.TokenID)
		}
		m.notifier.NewMarket(ctx, market)
		m.appendEvent(ctx, "new_market", map[string]any{
			"market_id": market.ID,
			"question":  market.Question,
			"source":    string(market.Source),
		})

		if !m.TradingEnabled() {
			continue
		}
		if _, err := m.AttemptTrade(ctx, market); err != nil {
			if errors.Is(err, ErrSkipped) {
				m.logger.InfoContext(ctx, "engine: trade skipped",
					slog.String("market_id", market.ID),
					slog.String("reason", err.Error()),
				)
				continue
			}
			m.logger.ErrorContext(ctx, "engine: trade failed",
				slog.String("market_id", market.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}

	if open, err := m.store.GetOpenPositions(ctx, m.cfg.UserAddress); err == nil {
		m.refreshFeedTokens(open)
	}
	return errors.Join(errs...)
}

// AttemptTrade opens a position on the configured side of market. It
// returns an error wrapping ErrSkipped when a rule declines the market and
// domain.ErrTradingDisabled when no orders may be placed.
func (m *Manager) AttemptTrade(ctx context.Context, market domain.Market) (domain.Position, error) {
	if !m.TradingEnabled() {
		return domain.Position{}, fmt.Errorf("engine: attempt trade %s: %w", market.ID, domain.ErrTradingDisabled)
	}
	if !m.filter.Claim(market.ID) {
		return domain.Position{}, fmt.Errorf("engine: attempt trade %s: %w", market.ID, ErrInFlight)
	}
	defer m.filter.Release(market.ID)

	open, err := m.store.GetOpenPositions(ctx, m.cfg.UserAddress)
	if err != nil {
		return domain.Position{}, fmt.Errorf("engine: attempt trade: open positions: %w: %w", domain.ErrPersistence, err)
	}
	if m.cfg.MaxOpenPositions > 0 && len(open) >= m.cfg.MaxOpenPositions {
		return domain.Position{}, fmt.Errorf("engine: attempt trade %s: %w (%d open)", market.ID, ErrPositionLimit, len(open))
	}
	if m.cfg.MaxDailyTrades > 0 {
		n, err := m.tradesToday(ctx)
		if err != nil {
			return domain.Position{}, fmt.Errorf("engine: attempt trade: %w", err)
		}
		if n >= m.cfg.MaxDailyTrades {
			return domain.Position{}, fmt.Errorf("engine: attempt trade %s: %w (%d today)", market.ID, ErrDailyLimit, n)
		}
	}
	if m.cfg.MinLiquidityUSD > 0 && market.Liquidity > 0 && market.Liquidity < m.cfg.MinLiquidityUSD {
		return domain.Position{}, fmt.Errorf("engine: attempt trade %s: %w ($%.2f)", market.ID, ErrLowLiquidity, market.Liquidity)
	}

	token, ok := market.TokenForOutcome(m.cfg.Side)
	if !ok || token.TokenID == "" {
		return domain.Position{}, fmt.Errorf("engine: attempt trade %s: %w (%s)", market.ID, ErrNoOutcomeToken, m.cfg.Side)
	}
	price, ok := m.resolvePrice(ctx, token.TokenID)
	if !ok || price <= 0 {
		return domain.Position{}, fmt.Errorf("engine: attempt trade %s: %w", market.ID, ErrNoPrice)
	}
	if m.cfg.MaxEntryPrice > 0 && price > m.cfg.MaxEntryPrice {
		return domain.Position{}, fmt.Errorf("engine: attempt trade %s: %w (%.4f > %.4f)", market.ID, ErrPriceAboveLimit, price, m.cfg.MaxEntryPrice)
	}

	notional := m.notional(ctx)
	size := math.Floor(notional/price*100+1e-9) / 100
	if size <= 0 {
		return domain.Position{}, fmt.Errorf("engine: attempt trade %s: size rounds to zero: %w", market.ID, domain.ErrInvalidOrder)
	}

	result, err := m.gateway.PlaceOrder(ctx, domain.OrderRequest{
		TokenID: token.TokenID,
		Side:    domain.OrderSideBuy,
		Size:    size,
		Price:   price,
		Type:    domain.OrderTypeGTC,
	})
	if err != nil {
		return domain.Position{}, fmt.Errorf("engine: place order %s: %w", market.ID, err)
	}
	if !result.Success {
		return domain.Position{}, fmt.Errorf("engine: place order %s: %w: %s", market.ID, ErrOrderNotAccepted, result.Message)
	}

	now := m.now().UTC()
	entry := price
	pos := domain.Position{
		ID:                  uuid.NewString(),
		TokenID:             token.TokenID,
		MarketID:            market.ID,
		MarketName:          market.Question,
		UserAddress:         m.cfg.UserAddress,
		OrderID:             result.OrderID,
		Side:                strings.ToUpper(token.Outcome),
		Size:                size,
		EntryPrice:          price,
		CurrentPrice:        &entry,
		TargetProfitPercent: m.cfg.ProfitTargetPercent,
		StopLossPercent:     m.cfg.StopLossPercent,
		MaxHoldingHours:     m.cfg.MaxHoldingHours,
		Status:              domain.PositionStatusOpen,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	m.filter.MarkOpenPosition(market.ID)
	m.mu.Lock()
	m.dailyTrades++
	m.stats.TradesPlaced++
	m.mu.Unlock()
	if m.feed != nil {
		m.feed.AddTokens(token.TokenID)
	}

	if err := m.store.SavePosition(ctx, pos); err != nil {
		// The order is live; keep the position and retry the save on the
		// next position cycle.
		m.mu.Lock()
		m.pending = append(m.pending, pos)
		m.mu.Unlock()
		m.logger.ErrorContext(ctx, "engine: save position failed, queued for retry",
			slog.String("position_id", pos.ID),
			slog.String("order_id", pos.OrderID),
			slog.String("error", err.Error()),
		)
	}

	m.logger.InfoContext(ctx, "engine: trade placed",
		slog.String("position_id", pos.ID),
		slog.String("market_id", market.ID),
		slog.String("token_id", token.TokenID),
		slog.Float64("price", price),
		slog.Float64("size", size),
	)
	m.notifier.TradePlaced(ctx, pos)
	m.appendEvent(ctx, "trade_placed", map[string]any{
		"position_id": pos.ID,
		"market_id":   pos.MarketID,
		"token_id":    pos.TokenID,
		"price":       pos.EntryPrice,
		"size":        pos.Size,
	})
	return pos, nil
}

// notional returns the USDC amount to commit to one entry.
func (m *Manager) notional(ctx context.Context) float64 {
	notional := m.cfg.PositionSizeUSD
	if m.balance == nil || m.cfg.MaxPositionPercentOfBalance <= 0 {
		return notional
	}
	snap := m.balance.GetBalance(ctx, m.cfg.UserAddress)
	if snap.Degraded || snap.Total <= 0 {
		return notional
	}
	return math.Min(notional, snap.Total*m.cfg.MaxPositionPercentOfBalance/100)
}

// tradesToday returns the number of entries since UTC midnight. The count
// is loaded from the store on the first call of each day.
func (m *Manager) tradesToday(ctx context.Context) (int, error) {
	now := m.now().UTC()
	day := now.Format(time.DateOnly)

	m.mu.Lock()
	if m.day == day {
		n := m.dailyTrades
		m.mu.Unlock()
		return n, nil
	}
	m.mu.Unlock()

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	positions, err := m.store.ListPositions(ctx, domain.ListOpts{Since: &midnight, Limit: 10000})
	if err != nil {
		return 0, fmt.Errorf("daily trades: %w: %w", domain.ErrPersistence, err)
	}
	n := 0
	for _, p := range positions {
		if m.cfg.UserAddress == "" || strings.EqualFold(p.UserAddress, m.cfg.UserAddress) {
			n++
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.day = day
	m.dailyTrades = n
	return n, nil
}

// resolvePrice returns a current price for tokenID: the freshest feed
// observation, then the REST price source, then the shared price cache.
func (m *Manager) resolvePrice(ctx context.Context, tokenID string) (float64, bool) {
	now := m.now()

	m.mu.Lock()
	ev, ok := m.latest[tokenID]
	m.mu.Unlock()
	if ok && now.Sub(ev.Timestamp) <= m.cfg.PriceMaxAge {
		return ev.Price, true
	}
	if m.feed != nil {
		if p, ts, ok := m.feed.Price(tokenID); ok && p > 0 && now.Sub(ts) <= m.cfg.PriceMaxAge {
			return p, true
		}
	}
	if m.prices != nil {
		p, err := m.prices.CurrentPrice(ctx, tokenID)
		if err == nil && p > 0 {
			return p, true
		}
		if err != nil {
			m.logger.DebugContext(ctx, "engine: price query failed",
				slog.String("token_id", tokenID),
				slog.String("error", err.Error()),
			)
		}
	}
	if m.priceCache != nil {
		if p, ts, err := m.priceCache.GetPrice(ctx, tokenID); err == nil && p > 0 && now.Sub(ts) <= m.cfg.PriceMaxAge {
			return p, true
		}
	}
	return 0, false
}
