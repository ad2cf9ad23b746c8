package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

// ShouldClosePosition evaluates the exit rules of pos at price in fixed
// priority: profit target, then stop loss, then maximum holding time.
// Closed positions never close again.
func (m *Manager) ShouldClosePosition(pos domain.Position, price float64, now time.Time) (bool, domain.CloseReason) {
	return shouldClose(pos, price, now)
}

// pnlEpsilon absorbs float error so a price exactly on a threshold fires it.
const pnlEpsilon = 1e-9

func shouldClose(pos domain.Position, price float64, now time.Time) (bool, domain.CloseReason) {
	if !pos.IsOpen() {
		return false, ""
	}
	if price > 0 && pos.EntryPrice > 0 {
		pnl := pos.PnLPercent(price)
		if pnl >= pos.TargetProfitPercent-pnlEpsilon {
			return true, domain.CloseReasonTarget
		}
		if pnl <= pos.StopLossPercent+pnlEpsilon {
			return true, domain.CloseReasonStopLoss
		}
	}
	if pos.MaxHoldingHours > 0 {
		maxHold := time.Duration(pos.MaxHoldingHours * float64(time.Hour))
		if pos.Age(now) > maxHold {
			return true, domain.CloseReasonTimeout
		}
	}
	return false, ""
}

// ClosePosition closes pos at price for reason. When trading is enabled and
// SellOnClose is set, the position is sold first; a failed sale leaves the
// position open for the next cycle. A position that was sold but whose
// close could not be stored is never sold again: later calls reuse the
// recorded sale and only retry the store write. The market marker is
// released only when the store holds no other open position on the same
// market.
func (m *Manager) ClosePosition(ctx context.Context, pos domain.Position, reason domain.CloseReason, price float64) error {
	if !pos.IsOpen() {
		return fmt.Errorf("engine: close %s: %w", pos.ID, domain.ErrAlreadyClosed)
	}
	if price <= 0 && pos.CurrentPrice != nil {
		price = *pos.CurrentPrice
	}

	if sale, ok := m.soldAwaitingClose(pos.ID); ok {
		price, reason = sale.price, sale.reason
	} else if m.cfg.SellOnClose && m.TradingEnabled() && price > 0 {
		result, err := m.gateway.PlaceOrder(ctx, domain.OrderRequest{
			TokenID: pos.TokenID,
			Side:    domain.OrderSideSell,
			Size:    pos.Size,
			Price:   price,
			Type:    domain.OrderTypeGTC,
		})
		if err != nil {
			return fmt.Errorf("engine: close %s: sell: %w", pos.ID, err)
		}
		if !result.Success {
			return fmt.Errorf("engine: close %s: sell: %w: %s", pos.ID, ErrOrderNotAccepted, result.Message)
		}
		m.mu.Lock()
		m.sold[pos.ID] = soldPosition{price: price, reason: reason}
		m.mu.Unlock()
	}

	pnlPct := pos.PnLPercent(price)
	pnl := pos.Size * pos.EntryPrice * pnlPct / 100
	if price <= 0 {
		pnl = 0
	}

	if err := m.store.ClosePosition(ctx, pos.ID, reason, pnl); err != nil {
		if errors.Is(err, domain.ErrAlreadyClosed) {
			m.forgetSale(pos.ID)
			return fmt.Errorf("engine: close %s: %w", pos.ID, err)
		}
		return fmt.Errorf("engine: close %s: %w: %w", pos.ID, domain.ErrPersistence, err)
	}
	m.forgetSale(pos.ID)

	now := m.now().UTC()
	closed := pos
	closed.Status = domain.PositionStatusClosed
	closed.CloseReason = &reason
	closed.ClosedAt = &now
	closed.UpdatedAt = now
	closed.RealizedPnL = &pnl
	if price > 0 {
		closed.CurrentPrice = &price
	}

	m.mu.Lock()
	m.stats.PositionsClosed++
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "engine: position closed",
		slog.String("position_id", pos.ID),
		slog.String("market_id", pos.MarketID),
		slog.String("reason", string(reason)),
		slog.Float64("price", price),
		slog.Float64("pnl_percent", pnlPct),
		slog.Float64("realized_pnl", pnl),
	)

	if m.archiver != nil {
		if err := m.archiver.ArchivePosition(ctx, closed); err != nil {
			m.logger.WarnContext(ctx, "engine: archive failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	m.notifier.PositionClosed(ctx, closed, reason, pnl)
	m.appendEvent(ctx, "position_closed", map[string]any{
		"position_id":  pos.ID,
		"market_id":    pos.MarketID,
		"reason":       string(reason),
		"price":        price,
		"realized_pnl": pnl,
	})

	m.releaseMarketIfFlat(ctx, pos.MarketID)
	return nil
}

func (m *Manager) releaseMarketIfFlat(ctx context.Context, marketID string) {
	if marketID == "" {
		return
	}
	n, err := m.store.CountOpenByMarket(ctx, marketID)
	if err != nil {
		// Keep the marker; reconcile will correct it.
		m.logger.WarnContext(ctx, "engine: count open by market failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		return
	}
	if n == 0 {
		m.filter.ReleaseOpenPosition(marketID)
	}
}

// RunPositionCycle refreshes the price of every open position and closes
// those whose exit rules fire. Positions are evaluated one at a time.
func (m *Manager) RunPositionCycle(ctx context.Context) error {
	var errs []error
	if err := m.flushPending(ctx); err != nil {
		errs = append(errs, err)
	}

	positions, err := m.OpenPositions(ctx)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	m.mu.Lock()
	m.stats.PositionCycles++
	m.mu.Unlock()

	for _, pos := range positions {
		if ctx.Err() != nil {
			break
		}
		if err := m.evaluate(ctx, pos); err != nil {
			m.logger.WarnContext(ctx, "engine: position evaluation failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) evaluate(ctx context.Context, pos domain.Position) error {
	if !m.acquire(pos.ID) {
		return nil
	}
	defer m.releaseGuard(pos.ID)

	price, ok := m.resolvePrice(ctx, pos.TokenID)
	if ok {
		if pos.CurrentPrice == nil || *pos.CurrentPrice != price {
			if err := m.store.UpdatePositionPrice(ctx, pos.ID, price); err != nil {
				m.logger.WarnContext(ctx, "engine: update price failed",
					slog.String("position_id", pos.ID),
					slog.String("error", err.Error()),
				)
			}
			pos.CurrentPrice = &price
		}
	} else {
		price = 0
	}

	if sale, sold := m.soldAwaitingClose(pos.ID); sold {
		return m.ClosePosition(ctx, pos, sale.reason, sale.price)
	}

	closeNow, reason := shouldClose(pos, price, m.now())
	if !closeNow {
		return nil
	}
	return m.ClosePosition(ctx, pos, reason, price)
}

func (m *Manager) soldAwaitingClose(id string) (soldPosition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sale, ok := m.sold[id]
	return sale, ok
}

func (m *Manager) forgetSale(id string) {
	m.mu.Lock()
	delete(m.sold, id)
	m.mu.Unlock()
}

// flushPending retries saves of positions whose order went through but
// whose first save failed.
func (m *Manager) flushPending(ctx context.Context) error {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	var failed []domain.Position
	var errs []error
	for _, pos := range pending {
		if err := m.store.SavePosition(ctx, pos); err != nil {
			failed = append(failed, pos)
			errs = append(errs, fmt.Errorf("engine: retry save %s: %w: %w", pos.ID, domain.ErrPersistence, err))
			continue
		}
		m.logger.InfoContext(ctx, "engine: queued position saved", slog.String("position_id", pos.ID))
	}
	if len(failed) > 0 {
		m.mu.Lock()
		m.pending = append(failed, m.pending...)
		m.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (m *Manager) acquire(id string) bool {
	m.guardMu.Lock()
	defer m.guardMu.Unlock()
	if _, busy := m.guard[id]; busy {
		return false
	}
	m.guard[id] = struct{}{}
	return true
}

func (m *Manager) releaseGuard(id string) {
	m.guardMu.Lock()
	defer m.guardMu.Unlock()
	delete(m.guard, id)
}
