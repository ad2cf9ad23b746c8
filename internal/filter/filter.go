// Package filter decides whether a discovered market is eligible for a
// first trade.
package filter

import (
	"sync"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

// Rejection and acceptance reasons returned by ShouldTrade.
const (
	ReasonAlreadyProcessed = "already processed"
	ReasonNotBinary        = "not binary"
	ReasonNotTradeable     = "not tradeable"
	ReasonPreviouslySeen   = "previously seen"
	ReasonNewMarket        = "new market"
)

// MarketFilter owns the "known markets" and "markets with open positions"
// sets for one engine run. The open-position set is a cache of the store
// and is rebuilt by SyncOpenPositions.
type MarketFilter struct {
	mu            sync.Mutex
	claimed       map[string]struct{} // in-flight trade attempts
	known         map[string]struct{}
	openPositions map[string]struct{}
}

// New creates an empty filter.
func New() *MarketFilter {
	return &MarketFilter{
		claimed:       make(map[string]struct{}),
		known:         make(map[string]struct{}),
		openPositions: make(map[string]struct{}),
	}
}

// ShouldTrade runs the predicate pipeline in fixed order and stops at the
// first rejection. On acceptance the id is recorded as known.
func (f *MarketFilter) ShouldTrade(m domain.Market) (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.claimed[m.ID]; ok {
		return false, ReasonAlreadyProcessed
	}
	if !m.IsBinary() {
		return false, ReasonNotBinary
	}
	if !m.IsTradeable() {
		return false, ReasonNotTradeable
	}
	_, known := f.known[m.ID]
	_, open := f.openPositions[m.ID]
	if known && !open {
		return false, ReasonPreviouslySeen
	}
	f.known[m.ID] = struct{}{}
	return true, ReasonNewMarket
}

// Claim marks id as having a trade attempt in flight. It returns false when
// the id is already claimed.
func (f *MarketFilter) Claim(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.claimed[id]; ok {
		return false
	}
	f.claimed[id] = struct{}{}
	return true
}

// Release ends an in-flight attempt started by Claim.
func (f *MarketFilter) Release(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.claimed, id)
}

// MarkOpenPosition records that the market has at least one open position.
func (f *MarketFilter) MarkOpenPosition(id string) {
	if id == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openPositions[id] = struct{}{}
}

// ReleaseOpenPosition clears the open-position marker for the market.
func (f *MarketFilter) ReleaseOpenPosition(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.openPositions, id)
}

// HasOpenPosition reports whether the market is marked as holding an open
// position.
func (f *MarketFilter) HasOpenPosition(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.openPositions[id]
	return ok
}

// SyncOpenPositions replaces the open-position cache with ids read from the
// store. Synced ids are also marked known. It returns how many markers were
// added and removed.
func (f *MarketFilter) SyncOpenPositions(ids []string) (added, removed int) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			next[id] = struct{}{}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for id := range f.openPositions {
		if _, ok := next[id]; !ok {
			removed++
		}
	}
	for id := range next {
		if _, ok := f.openPositions[id]; !ok {
			added++
		}
		f.known[id] = struct{}{}
	}
	f.openPositions = next
	return added, removed
}

// Stats is a point-in-time view of the filter's sets.
type Stats struct {
	Known         int `json:"known"`
	OpenPositions int `json:"open_positions"`
	InFlight      int `json:"in_flight"`
}

// Stats returns the current set sizes.
func (f *MarketFilter) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		Known:         len(f.known),
		OpenPositions: len(f.openPositions),
		InFlight:      len(f.claimed),
	}
}
