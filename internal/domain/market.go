package domain

import (
	"context"
	"strings"
	"time"
)

// MarketSourceKind names the ingestion path that produced a Market.
type MarketSourceKind string

const (
	SourceSubgraph MarketSourceKind = "subgraph"
	SourceGamma    MarketSourceKind = "gamma"
	SourceClob     MarketSourceKind = "clob"
)

// OutcomeToken is one tradeable outcome of a market.
type OutcomeToken struct {
	TokenID string
	Outcome string
	Price   float64
}

// Market is the canonical market record. Every source converts its own
// payload into this shape at the ingestion boundary.
type Market struct {
	ID              string
	Question        string
	Slug            string
	ConditionID     string
	Tokens          []OutcomeToken
	CreatedAt       time.Time
	Active          bool
	AcceptingOrders bool
	Closed          bool
	Liquidity       float64 // 0 when the source does not report it
	Volume          float64
	Source          MarketSourceKind
}

// IsBinary reports whether the market has exactly two outcome tokens.
func (m Market) IsBinary() bool {
	return len(m.Tokens) == 2
}

// IsTradeable reports whether the venue currently accepts orders for the market.
func (m Market) IsTradeable() bool {
	return m.Active && m.AcceptingOrders && !m.Closed
}

// TokenForOutcome returns the token whose outcome label matches label
// case-insensitively.
func (m Market) TokenForOutcome(label string) (OutcomeToken, bool) {
	for _, t := range m.Tokens {
		if strings.EqualFold(strings.TrimSpace(t.Outcome), label) {
			return t, true
		}
	}
	return OutcomeToken{}, false
}

// TokenIDs returns the token ids in outcome order.
func (m Market) TokenIDs() []string {
	ids := make([]string, 0, len(m.Tokens))
	for _, t := range m.Tokens {
		ids = append(ids, t.TokenID)
	}
	return ids
}

// FilterByAge keeps markets whose CreatedAt falls within maxAge of now.
// Markets with an unknown creation time are dropped.
func FilterByAge(markets []Market, now time.Time, maxAge time.Duration) []Market {
	cutoff := now.Add(-maxAge)
	out := make([]Market, 0, len(markets))
	for _, m := range markets {
		if m.CreatedAt.IsZero() || m.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// MarketSource lists markets from one upstream.
type MarketSource interface {
	FetchNewMarkets(ctx context.Context, maxAge time.Duration) ([]Market, error)
	FetchAllMarkets(ctx context.Context) ([]Market, error)
}
