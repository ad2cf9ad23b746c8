package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
	"github.com/alanyoungcy/newmarketbot/internal/store/sqlite"
)

func newStore(t *testing.T) *sqlite.PositionStore {
	t.Helper()
	s, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func position(id, market, user string, created time.Time) domain.Position {
	entry := 0.40
	return domain.Position{
		ID:                  id,
		TokenID:             market + "-no",
		MarketID:            market,
		MarketName:          "Question " + market,
		UserAddress:         user,
		OrderID:             "ord-" + id,
		Side:                "NO",
		Size:                12.5,
		EntryPrice:          entry,
		CurrentPrice:        &entry,
		TargetProfitPercent: 10,
		StopLossPercent:     -20,
		MaxHoldingHours:     24,
		Status:              domain.PositionStatusOpen,
		CreatedAt:           created,
	}
}

func TestPositionStore_SaveAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 10, 0, 0, 123, time.UTC)

	require.NoError(t, s.SavePosition(ctx, position("p1", "m1", "0xAbC", created)))

	got, err := s.GetPosition(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "m1", got.MarketID)
	assert.Equal(t, "0xAbC", got.UserAddress)
	assert.Equal(t, created, got.CreatedAt)
	require.NotNil(t, got.CurrentPrice)
	assert.InDelta(t, 0.40, *got.CurrentPrice, 1e-12)
	assert.Nil(t, got.ClosedAt)
	assert.Nil(t, got.CloseReason)
	assert.Nil(t, got.RealizedPnL)

	_, err = s.GetPosition(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPositionStore_OpenPositionsByUser(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.SavePosition(ctx, position("p2", "m2", "0xabc", base.Add(time.Minute))))
	require.NoError(t, s.SavePosition(ctx, position("p1", "m1", "0xABC", base)))
	require.NoError(t, s.SavePosition(ctx, position("p3", "m3", "0xother", base)))

	mine, err := s.GetOpenPositions(ctx, "0xabc")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "p1", mine[0].ID)
	assert.Equal(t, "p2", mine[1].ID)

	all, err := s.GetOpenPositions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestPositionStore_CloseIsWriteOnce(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	pos := position("p1", "m1", "0xabc", time.Now().UTC())
	require.NoError(t, s.SavePosition(ctx, pos))

	require.NoError(t, s.UpdatePositionPrice(ctx, "p1", 0.46))
	require.NoError(t, s.ClosePosition(ctx, "p1", domain.CloseReasonTarget, 0.75))

	err := s.ClosePosition(ctx, "p1", domain.CloseReasonStopLoss, -1)
	assert.ErrorIs(t, err, domain.ErrAlreadyClosed)
	assert.ErrorIs(t, s.UpdatePositionPrice(ctx, "p1", 0.10), domain.ErrAlreadyClosed)
	assert.ErrorIs(t, s.ClosePosition(ctx, "nope", domain.CloseReasonTarget, 0), domain.ErrNotFound)

	// A late save of the open copy does not reopen the row.
	require.NoError(t, s.SavePosition(ctx, pos))

	got, err := s.GetPosition(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, got.Status)
	require.NotNil(t, got.CloseReason)
	assert.Equal(t, domain.CloseReasonTarget, *got.CloseReason)
	require.NotNil(t, got.RealizedPnL)
	assert.InDelta(t, 0.75, *got.RealizedPnL, 1e-12)
	require.NotNil(t, got.CurrentPrice)
	assert.InDelta(t, 0.46, *got.CurrentPrice, 1e-12)
	assert.NotNil(t, got.ClosedAt)

	open, err := s.GetOpenPositions(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestPositionStore_CountOpenByMarket(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.SavePosition(ctx, position("p1", "m1", "0xabc", now)))
	require.NoError(t, s.SavePosition(ctx, position("p2", "m1", "0xabc", now)))
	require.NoError(t, s.ClosePosition(ctx, "p1", domain.CloseReasonTimeout, 0))

	n, err := s.CountOpenByMarket(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountOpenByMarket(ctx, "m9")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPositionStore_ListPositions(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.SavePosition(ctx, position(id, "m"+id, "0xabc", base.Add(time.Duration(i)*time.Hour))))
	}
	require.NoError(t, s.ClosePosition(ctx, "a", domain.CloseReasonManual, 0))

	all, err := s.ListPositions(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "d", all[0].ID)

	since := base.Add(90 * time.Minute)
	recent, err := s.ListPositions(ctx, domain.ListOpts{Since: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	closed, err := s.ListPositions(ctx, domain.ListOpts{Status: domain.PositionStatusClosed})
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "a", closed[0].ID)

	page, err := s.ListPositions(ctx, domain.ListOpts{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].ID)
}

func TestPositionStore_AppendEvents(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "trade_placed", map[string]any{"market_id": "m1", "price": 0.4}))
	require.NoError(t, s.Append(ctx, "position_closed", nil))

	events, err := s.RecentEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "position_closed", events[0].Event)
	assert.Equal(t, "2", events[0].ID)
	assert.False(t, events[0].Time.IsZero())
	assert.Empty(t, events[0].Detail)
	assert.Equal(t, "m1", events[1].Detail["market_id"])
	assert.InDelta(t, 0.4, events[1].Detail["price"], 1e-12)
}
