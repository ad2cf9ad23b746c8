package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

// StatusRelay forwards feed and balance degradation signals to the
// notifier. It satisfies feed.StatusListener and balance.DegradedListener.
type StatusRelay struct {
	notifier domain.Notifier
}

// NewStatusRelay creates a StatusRelay. A nil notifier drops every signal.
func NewStatusRelay(notifier domain.Notifier) *StatusRelay {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &StatusRelay{notifier: notifier}
}

// FeedFallback reports that the live feed switched to polling.
func (r *StatusRelay) FeedFallback(ctx context.Context, attempts int, lastErr error) {
	detail := fmt.Sprintf("stream unavailable after %d attempts, polling prices", attempts)
	if lastErr != nil {
		detail += ": " + lastErr.Error()
	}
	r.notifier.FeedStatus(ctx, domain.AlertFeedFallback, detail)
}

// FeedRestored reports that the live feed is streaming again.
func (r *StatusRelay) FeedRestored(ctx context.Context, downtime time.Duration) {
	r.notifier.FeedStatus(ctx, domain.AlertFeedRestored,
		fmt.Sprintf("stream restored after %s", downtime.Round(time.Second)))
}

// BalanceDegraded reports that every balance source failed.
func (r *StatusRelay) BalanceDegraded(ctx context.Context, snap domain.BalanceSnapshot, err error) {
	detail := fmt.Sprintf("all balance sources failed, using %s value", snap.Source)
	if err != nil {
		detail += ": " + err.Error()
	}
	r.notifier.BalanceAlert(ctx, domain.AlertBalanceDegraded, snap, detail)
}

// BalanceRestored is a no-op; the next regular sample carries the value.
func (r *StatusRelay) BalanceRestored(context.Context, domain.BalanceSnapshot) {}
