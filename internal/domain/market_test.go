package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

func TestMarket_TokenForOutcome(t *testing.T) {
	m := domain.Market{Tokens: []domain.OutcomeToken{
		{TokenID: "y", Outcome: "Yes"},
		{TokenID: "n", Outcome: " No "},
	}}
	tok, ok := m.TokenForOutcome("NO")
	require.True(t, ok)
	assert.Equal(t, "n", tok.TokenID)

	_, ok = m.TokenForOutcome("maybe")
	assert.False(t, ok)
	assert.Equal(t, []string{"y", "n"}, m.TokenIDs())
}

func TestFilterByAge_DropsUnknownCreation(t *testing.T) {
	now := time.Now()
	markets := []domain.Market{
		{ID: "recent", CreatedAt: now.Add(-time.Minute)},
		{ID: "unknown"},
		{ID: "old", CreatedAt: now.Add(-time.Hour)},
	}
	out := domain.FilterByAge(markets, now, 10*time.Minute)
	require.Len(t, out, 1)
	assert.Equal(t, "recent", out[0].ID)
}

func TestPosition_PnLPercent(t *testing.T) {
	p := domain.Position{EntryPrice: 0.40, Size: 10}
	assert.InDelta(t, 15.0, p.PnLPercent(0.46), 1e-9)
	assert.InDelta(t, -25.0, p.PnLPercent(0.30), 1e-9)
	assert.InDelta(t, 4.0, p.Notional(), 1e-9)

	assert.Zero(t, domain.Position{}.PnLPercent(0.5))
}
