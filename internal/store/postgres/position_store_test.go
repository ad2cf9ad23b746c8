package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

// newTestClient connects to NEWMARKETBOT_TEST_PG_DSN and applies the
// migrations. Tests are skipped when the variable is unset.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("NEWMARKETBOT_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("NEWMARKETBOT_TEST_PG_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	require.NoError(t, c.RunMigrations(ctx))
	return c
}

// scope returns a suffix that keeps rows of one test apart from any other
// data in the database, and deletes those rows afterwards.
func scope(t *testing.T, c *Client) string {
	t.Helper()
	suffix := uuid.NewString()[:8]
	t.Cleanup(func() {
		_, _ = c.Pool().Exec(context.Background(),
			`DELETE FROM positions WHERE id LIKE '%' || $1`, suffix)
	})
	return suffix
}

func testPosition(id, market, user string, created time.Time) domain.Position {
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

func TestPositionStore_SaveAndOpenByUser(t *testing.T) {
	c := newTestClient(t)
	s := NewPositionStore(c.Pool())
	ctx := context.Background()
	sfx := scope(t, c)
	user := "0xAbC" + sfx
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.SavePosition(ctx, testPosition("p2-"+sfx, "m2-"+sfx, user, base.Add(time.Minute))))
	require.NoError(t, s.SavePosition(ctx, testPosition("p1-"+sfx, "m1-"+sfx, user, base)))

	mine, err := s.GetOpenPositions(ctx, "0xabc"+sfx)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "p1-"+sfx, mine[0].ID)
	assert.Equal(t, base, mine[0].CreatedAt.UTC())
	require.NotNil(t, mine[0].CurrentPrice)
	assert.InDelta(t, 0.40, *mine[0].CurrentPrice, 1e-12)
	assert.Nil(t, mine[0].CloseReason)

	_, err = s.GetPosition(ctx, "missing-"+sfx)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPositionStore_CloseIsWriteOnce(t *testing.T) {
	c := newTestClient(t)
	s := NewPositionStore(c.Pool())
	ctx := context.Background()
	sfx := scope(t, c)
	id := "p1-" + sfx
	pos := testPosition(id, "m1-"+sfx, "0xabc", time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, s.SavePosition(ctx, pos))

	require.NoError(t, s.UpdatePositionPrice(ctx, id, 0.46))
	require.NoError(t, s.ClosePosition(ctx, id, domain.CloseReasonTarget, 0.75))

	assert.ErrorIs(t, s.ClosePosition(ctx, id, domain.CloseReasonStopLoss, -1), domain.ErrAlreadyClosed)
	assert.ErrorIs(t, s.UpdatePositionPrice(ctx, id, 0.10), domain.ErrAlreadyClosed)
	assert.ErrorIs(t, s.ClosePosition(ctx, "nope-"+sfx, domain.CloseReasonTarget, 0), domain.ErrNotFound)

	// A late save of the open copy does not reopen the row.
	require.NoError(t, s.SavePosition(ctx, pos))

	got, err := s.GetPosition(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, got.Status)
	require.NotNil(t, got.CloseReason)
	assert.Equal(t, domain.CloseReasonTarget, *got.CloseReason)
	require.NotNil(t, got.RealizedPnL)
	assert.InDelta(t, 0.75, *got.RealizedPnL, 1e-12)
	require.NotNil(t, got.CurrentPrice)
	assert.InDelta(t, 0.46, *got.CurrentPrice, 1e-12)
	assert.NotNil(t, got.ClosedAt)
}

func TestPositionStore_CountOpenByMarket(t *testing.T) {
	c := newTestClient(t)
	s := NewPositionStore(c.Pool())
	ctx := context.Background()
	sfx := scope(t, c)
	market := "m1-" + sfx
	now := time.Now().UTC()

	require.NoError(t, s.SavePosition(ctx, testPosition("p1-"+sfx, market, "0xabc", now)))
	require.NoError(t, s.SavePosition(ctx, testPosition("p2-"+sfx, market, "0xabc", now)))
	require.NoError(t, s.ClosePosition(ctx, "p1-"+sfx, domain.CloseReasonTimeout, 0))

	n, err := s.CountOpenByMarket(ctx, market)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountOpenByMarket(ctx, "m9-"+sfx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAuditStore_AppendAndRecent(t *testing.T) {
	c := newTestClient(t)
	a := NewAuditStore(c.Pool())
	ctx := context.Background()
	event := "test_event_" + uuid.NewString()[:8]
	t.Cleanup(func() {
		_, _ = c.Pool().Exec(context.Background(), `DELETE FROM audit_log WHERE event = $1`, event)
	})

	require.NoError(t, a.Append(ctx, event, map[string]any{"market_id": "m1", "price": 0.4}))

	events, err := a.RecentEvents(ctx, 20)
	require.NoError(t, err)
	var found *domain.AuditEvent
	for i := range events {
		if events[i].Event == event {
			found = &events[i]
			break
		}
	}
	require.NotNil(t, found)
	assert.NotEmpty(t, found.ID)
	assert.False(t, found.Time.IsZero())
	assert.Equal(t, "m1", found.Detail["market_id"])
	assert.InDelta(t, 0.4, found.Detail["price"], 1e-12)
}
