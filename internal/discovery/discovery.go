// Package discovery finds newly listed markets, falling back from the
// primary source to full listings when the primary is unavailable.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

// Discovery wraps a primary MarketSource and ordered fallbacks. It never
// returns the same market id twice during its lifetime.
type Discovery struct {
	primary   domain.MarketSource
	fallbacks []domain.MarketSource
	logger    *slog.Logger
	now       func() time.Time

	mu   sync.Mutex
	seen map[string]struct{}
}

// New creates a Discovery. primary may be nil, in which case every call
// goes straight to the fallbacks.
func New(primary domain.MarketSource, fallbacks []domain.MarketSource, logger *slog.Logger) *Discovery {
	return &Discovery{
		primary:   primary,
		fallbacks: fallbacks,
		logger:    logger.With(slog.String("component", "discovery")),
		now:       time.Now,
		seen:      make(map[string]struct{}),
	}
}

// Result is the outcome of one Discover call.
type Result struct {
	Markets  []domain.Market
	Fetched  int  // markets returned by the source before dedup
	Fallback bool // true when the primary source was not used
}

// FetchNewMarkets queries the primary source only.
func (d *Discovery) FetchNewMarkets(ctx context.Context, maxAge time.Duration) ([]domain.Market, error) {
	if d.primary == nil {
		return nil, fmt.Errorf("discovery: no primary source: %w", domain.ErrSourceUnavailable)
	}
	markets, err := d.primary.FetchNewMarkets(ctx, maxAge)
	if err != nil {
		return nil, fmt.Errorf("discovery: primary: %w", err)
	}
	return markets, nil
}

// FetchAllMarkets returns the first successful full listing among the
// fallback sources.
func (d *Discovery) FetchAllMarkets(ctx context.Context) ([]domain.Market, error) {
	var errs []error
	for _, src := range d.fallbacks {
		markets, err := src.FetchAllMarkets(ctx)
		if err == nil {
			return markets, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = append(errs, err)
		d.logger.WarnContext(ctx, "discovery: fallback source failed",
			slog.String("error", err.Error()),
		)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("discovery: no fallback source: %w", domain.ErrSourceUnavailable)
	}
	return nil, fmt.Errorf("discovery: all fallbacks failed: %w", errors.Join(append(errs, domain.ErrSourceUnavailable)...))
}

// Discover returns markets created within maxAge that this Discovery has
// not returned before. The primary source is tried first; on failure the
// full listing is filtered locally by creation time.
func (d *Discovery) Discover(ctx context.Context, maxAge time.Duration) (Result, error) {
	var res Result

	markets, err := d.FetchNewMarkets(ctx, maxAge)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		d.logger.WarnContext(ctx, "discovery: primary source unavailable, using full listing",
			slog.String("error", err.Error()),
		)
		all, ferr := d.FetchAllMarkets(ctx)
		if ferr != nil {
			return res, ferr
		}
		markets = domain.FilterByAge(all, d.now(), maxAge)
		res.Fallback = true
	}

	res.Fetched = len(markets)
	res.Markets = d.unseen(markets)

	d.logger.DebugContext(ctx, "discovery: cycle complete",
		slog.Int("fetched", res.Fetched),
		slog.Int("new", len(res.Markets)),
		slog.Bool("fallback", res.Fallback),
	)
	return res, nil
}

// unseen drops ids returned earlier (or repeated within markets) and
// records the rest.
func (d *Discovery) unseen(markets []domain.Market) []domain.Market {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]domain.Market, 0, len(markets))
	for _, m := range markets {
		if m.ID == "" {
			continue
		}
		if _, ok := d.seen[m.ID]; ok {
			continue
		}
		d.seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

// SeenCount returns how many distinct ids have been returned.
func (d *Discovery) SeenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
