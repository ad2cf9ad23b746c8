// Package balance resolves the wallet's spendable value from a ranked list
// of sources and tracks it over time for alerting.
package balance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

// DegradedListener is told when every source starts failing and when a
// source answers again. Each transition is reported once.
type DegradedListener interface {
	BalanceDegraded(ctx context.Context, snap domain.BalanceSnapshot, err error)
	BalanceRestored(ctx context.Context, snap domain.BalanceSnapshot)
}

// Aggregator tries its sources in order and returns the first good reading.
type Aggregator struct {
	sources  []domain.BalanceSource
	sentinel float64
	listener DegradedListener // optional
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	last     *domain.BalanceSnapshot // last good reading
	degraded bool
}

// NewAggregator creates an Aggregator. sentinel is the total reported when
// every source fails and nothing has been read yet.
func NewAggregator(sources []domain.BalanceSource, sentinel float64, listener DegradedListener, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		sources:  sources,
		sentinel: sentinel,
		listener: listener,
		logger:   logger.With(slog.String("component", "balance")),
		now:      time.Now,
	}
}

// GetBalance resolves the balance of address. It never fails: when every
// source errors it returns the last good reading, or the sentinel, marked
// Degraded.
func (a *Aggregator) GetBalance(ctx context.Context, address string) domain.BalanceSnapshot {
	var errs []error
	for _, src := range a.sources {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		snap, err := src.Balance(ctx, address)
		if err != nil {
			a.logger.DebugContext(ctx, "balance: source failed",
				slog.String("source", src.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}
		a.recordSuccess(ctx, snap)
		return snap
	}

	err := fmt.Errorf("balance: all sources failed: %w: %w", domain.ErrBalanceUnavailable, errors.Join(errs...))
	return a.recordFailure(ctx, err)
}

// Last returns the most recent good reading.
func (a *Aggregator) Last() (domain.BalanceSnapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.last == nil {
		return domain.BalanceSnapshot{}, false
	}
	return *a.last, true
}

// Degraded reports whether the last resolution fell back.
func (a *Aggregator) Degraded() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.degraded
}

func (a *Aggregator) recordSuccess(ctx context.Context, snap domain.BalanceSnapshot) {
	a.mu.Lock()
	a.last = &snap
	wasDegraded := a.degraded
	a.degraded = false
	a.mu.Unlock()

	if wasDegraded {
		a.logger.InfoContext(ctx, "balance: sources restored",
			slog.String("source", snap.Source),
			slog.Float64("total", snap.Total),
		)
		if a.listener != nil {
			a.listener.BalanceRestored(ctx, snap)
		}
	}
}

func (a *Aggregator) recordFailure(ctx context.Context, err error) domain.BalanceSnapshot {
	a.mu.Lock()
	var snap domain.BalanceSnapshot
	if a.last != nil {
		snap = *a.last
		snap.Source = SourceLastKnown
	} else {
		snap = domain.BalanceSnapshot{
			Total:     a.sentinel,
			Source:    SourceSentinel,
			Timestamp: a.now().UTC(),
		}
	}
	snap.Degraded = true
	first := !a.degraded
	a.degraded = true
	a.mu.Unlock()

	if first {
		a.logger.WarnContext(ctx, "balance: degraded",
			slog.String("source", snap.Source),
			slog.Float64("total", snap.Total),
			slog.String("error", err.Error()),
		)
		if a.listener != nil {
			a.listener.BalanceDegraded(ctx, snap, err)
		}
	}
	return snap
}
