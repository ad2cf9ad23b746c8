package domain

import "context"

// Alert kinds raised by the balance monitor and the feed.
const (
	AlertCriticalLowBalance = "critical low balance"
	AlertSignificantChange  = "significant change"
	AlertBalanceDegraded    = "balance degraded"
	AlertFeedFallback       = "feed fallback"
	AlertFeedRestored       = "feed restored"
)

// Notifier delivers operator alerts. Every method is fire-and-forget:
// delivery failures are logged by the implementation and never returned.
type Notifier interface {
	NewMarket(ctx context.Context, m Market)
	TradePlaced(ctx context.Context, pos Position)
	PositionClosed(ctx context.Context, pos Position, reason CloseReason, pnl float64)
	Error(ctx context.Context, component string, err error)
	BalanceAlert(ctx context.Context, kind string, snap BalanceSnapshot, detail string)
	FeedStatus(ctx context.Context, kind string, detail string)
}
