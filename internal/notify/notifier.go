// Package notify delivers operator alerts to Telegram and Discord. Alerts
// are queued and sent by a background loop, filtered by event kind so
// operators receive only what they enable.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

// Event kinds accepted in notify.events.
const (
	EventNewMarket      = "new_market"
	EventTradePlaced    = "trade_placed"
	EventPositionClosed = "position_closed"
	EventError          = "error"
	EventBalanceAlert   = "balance_alert"
	EventFeedStatus     = "feed_status"
)

// EventKinds lists every kind.
var EventKinds = []string{
	EventNewMarket, EventTradePlaced, EventPositionClosed,
	EventError, EventBalanceAlert, EventFeedStatus,
}

const queueSize = 128

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

type message struct {
	event string
	title string
	body  string
}

// Notifier implements domain.Notifier. Methods enqueue and return at once;
// Run performs delivery.
type Notifier struct {
	senders     []Sender
	events      map[string]bool
	queue       chan message
	sendTimeout time.Duration
	logger      *slog.Logger
}

var _ domain.Notifier = (*Notifier)(nil)

// NewNotifier creates a Notifier for senders. Only kinds listed in events
// are delivered; an empty list delivers everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	logger = logger.With(slog.String("component", "notifier"))
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e == "" {
			continue
		}
		if !slices.Contains(EventKinds, e) {
			logger.Warn("notify: unknown event kind ignored", slog.String("event", e))
			continue
		}
		allowed[e] = true
	}
	return &Notifier{
		senders:     senders,
		events:      allowed,
		queue:       make(chan message, queueSize),
		sendTimeout: 15 * time.Second,
		logger:      logger,
	}
}

// Enabled reports whether alerts of kind event are delivered.
func (n *Notifier) Enabled(event string) bool {
	if len(n.senders) == 0 {
		return false
	}
	return len(n.events) == 0 || n.events[event]
}

// Run delivers queued alerts until ctx is cancelled, then flushes what is
// already queued.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case msg := <-n.queue:
			n.deliver(ctx, msg)
		case <-ctx.Done():
			n.flush()
			return nil
		}
	}
}

func (n *Notifier) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), n.sendTimeout)
	defer cancel()
	for {
		select {
		case msg := <-n.queue:
			n.deliver(ctx, msg)
		default:
			return
		}
	}
}

func (n *Notifier) enqueue(ctx context.Context, event, title, body string) {
	if !n.Enabled(event) {
		return
	}
	select {
	case n.queue <- message{event: event, title: title, body: body}:
	default:
		n.logger.WarnContext(ctx, "notify: queue full, dropping alert",
			slog.String("event", event),
			slog.String("title", title),
		)
	}
}

func (n *Notifier) deliver(ctx context.Context, msg message) {
	sendCtx, cancel := context.WithTimeout(ctx, n.sendTimeout)
	defer cancel()
	if err := n.dispatch(sendCtx, msg.title, msg.body); err != nil {
		n.logger.ErrorContext(ctx, "notify: delivery failed",
			slog.String("event", msg.event),
			slog.String("error", err.Error()),
		)
	}
}

// dispatch sends to every sender; one failure does not stop the others.
func (n *Notifier) dispatch(ctx context.Context, title, body string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, body); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	return errors.Join(errs...)
}

// NewMarket announces a newly discovered market.
func (n *Notifier) NewMarket(ctx context.Context, m domain.Market) {
	n.enqueue(ctx, EventNewMarket, "New market", formatMarket(m))
}

// TradePlaced announces an opened position.
func (n *Notifier) TradePlaced(ctx context.Context, pos domain.Position) {
	n.enqueue(ctx, EventTradePlaced, "Trade placed", formatTrade(pos))
}

// PositionClosed announces a closed position with its realized PnL.
func (n *Notifier) PositionClosed(ctx context.Context, pos domain.Position, reason domain.CloseReason, pnl float64) {
	n.enqueue(ctx, EventPositionClosed, "Position closed ("+string(reason)+")", formatClose(pos, pnl))
}

// Error reports a failed background task.
func (n *Notifier) Error(ctx context.Context, component string, err error) {
	if err == nil {
		return
	}
	n.enqueue(ctx, EventError, "Error in "+component, err.Error())
}

// BalanceAlert reports a balance monitor alert.
func (n *Notifier) BalanceAlert(ctx context.Context, kind string, snap domain.BalanceSnapshot, detail string) {
	n.enqueue(ctx, EventBalanceAlert, "Balance: "+kind, formatBalance(snap, detail))
}

// FeedStatus reports a feed fallback or recovery.
func (n *Notifier) FeedStatus(ctx context.Context, kind string, detail string) {
	n.enqueue(ctx, EventFeedStatus, "Feed: "+kind, detail)
}
