package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/newmarketbot/internal/discovery"
	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	saveErr   error
	closes    int

	// failCloses makes the next n ClosePosition calls fail.
	failCloses int
}

func newMemStore(positions ...domain.Position) *memStore {
	s := &memStore{positions: make(map[string]domain.Position)}
	for _, p := range positions {
		s.positions[p.ID] = p
	}
	return s
}

func (s *memStore) SavePosition(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.positions[pos.ID] = pos
	return nil
}

func (s *memStore) GetOpenPositions(_ context.Context, user string) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.IsOpen() && (user == "" || strings.EqualFold(p.UserAddress, user)) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) GetPosition(_ context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memStore) UpdatePositionPrice(_ context.Context, id string, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.CurrentPrice = &price
	s.positions[id] = p
	return nil
}

func (s *memStore) ClosePosition(_ context.Context, id string, reason domain.CloseReason, pnl float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCloses > 0 {
		s.failCloses--
		return errors.New("db down")
	}
	p, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !p.IsOpen() {
		return domain.ErrAlreadyClosed
	}
	now := time.Now().UTC()
	p.Status = domain.PositionStatusClosed
	p.CloseReason = &reason
	p.RealizedPnL = &pnl
	p.ClosedAt = &now
	s.positions[id] = p
	s.closes++
	return nil
}

func (s *memStore) CountOpenByMarket(_ context.Context, marketID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.positions {
		if p.IsOpen() && p.MarketID == marketID {
			n++
		}
	}
	return n, nil
}

func (s *memStore) ListPositions(_ context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.positions {
		if opts.Status != "" && p.Status != opts.Status {
			continue
		}
		if opts.Since != nil && p.CreatedAt.Before(*opts.Since) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *memStore) get(id string) domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions[id]
}

type fakeGateway struct {
	mu     sync.Mutex
	orders []domain.OrderRequest
	reject bool
	err    error
}

func (g *fakeGateway) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return domain.OrderResult{}, g.err
	}
	g.orders = append(g.orders, req)
	if g.reject {
		return domain.OrderResult{Success: false, Message: "not enough balance"}, nil
	}
	return domain.OrderResult{Success: true, OrderID: "ord-1", Status: domain.OrderStatusOpen}, nil
}

func (g *fakeGateway) CancelOrder(context.Context, string) error { return nil }
func (g *fakeGateway) ListOpenOrders(context.Context) ([]domain.Order, error) {
	return nil, nil
}

type fakeDiscoverer struct {
	markets []domain.Market
	err     error
}

func (d *fakeDiscoverer) Discover(context.Context, time.Duration) (discovery.Result, error) {
	if d.err != nil {
		return discovery.Result{}, d.err
	}
	return discovery.Result{Markets: d.markets, Fetched: len(d.markets)}, nil
}

type fakeFeed struct {
	mu     sync.Mutex
	prices map[string]float64
	at     time.Time
	tokens []string
	events chan domain.PriceEvent
}

func newFakeFeed(at time.Time) *fakeFeed {
	return &fakeFeed{prices: make(map[string]float64), at: at, events: make(chan domain.PriceEvent, 8)}
}

func (f *fakeFeed) Events() <-chan domain.PriceEvent { return f.events }

func (f *fakeFeed) Price(tokenID string) (float64, time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[tokenID]
	return p, f.at, ok
}

func (f *fakeFeed) SetTokens(ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append([]string(nil), ids...)
}

func (f *fakeFeed) AddTokens(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, ids...)
}

func (f *fakeFeed) set(tokenID string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[tokenID] = price
}

type fixedBalance struct{ snap domain.BalanceSnapshot }

func (b fixedBalance) GetBalance(context.Context, string) domain.BalanceSnapshot { return b.snap }

type recNotifier struct {
	mu      sync.Mutex
	markets []string
	trades  []string
	closed  []domain.CloseReason
	feed    []string
	balance []string
	errors  []string
}

func (n *recNotifier) NewMarket(_ context.Context, m domain.Market) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.markets = append(n.markets, m.ID)
}

func (n *recNotifier) TradePlaced(_ context.Context, p domain.Position) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.trades = append(n.trades, p.MarketID)
}

func (n *recNotifier) PositionClosed(_ context.Context, _ domain.Position, r domain.CloseReason, _ float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = append(n.closed, r)
}

func (n *recNotifier) Error(_ context.Context, component string, _ error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, component)
}

func (n *recNotifier) BalanceAlert(_ context.Context, kind string, _ domain.BalanceSnapshot, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.balance = append(n.balance, kind)
}

func (n *recNotifier) FeedStatus(_ context.Context, kind, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.feed = append(n.feed, kind)
}

type recArchiver struct {
	archived []domain.Position
}

func (a *recArchiver) ArchivePosition(_ context.Context, p domain.Position) error {
	a.archived = append(a.archived, p)
	return nil
}
