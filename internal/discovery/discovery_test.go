package discovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

type stubSource struct {
	newMarkets []domain.Market
	all        []domain.Market
	newErr     error
	allErr     error
	newCalls   int
	allCalls   int
}

func (s *stubSource) FetchNewMarkets(context.Context, time.Duration) ([]domain.Market, error) {
	s.newCalls++
	return s.newMarkets, s.newErr
}

func (s *stubSource) FetchAllMarkets(context.Context) ([]domain.Market, error) {
	s.allCalls++
	return s.all, s.allErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDiscover_PrimaryDedupsAcrossCalls(t *testing.T) {
	primary := &stubSource{newMarkets: []domain.Market{{ID: "a"}, {ID: "b"}, {ID: "a"}}}
	d := New(primary, nil, testLogger())

	res, err := d.Discover(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.Equal(t, 3, res.Fetched)
	require.Len(t, res.Markets, 2)

	primary.newMarkets = []domain.Market{{ID: "b"}, {ID: "c"}}
	res, err = d.Discover(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, res.Markets, 1)
	assert.Equal(t, "c", res.Markets[0].ID)
	assert.Equal(t, 3, d.SeenCount())
}

func TestDiscover_FallsBackAndFiltersByAge(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	primary := &stubSource{newErr: domain.ErrSourceUnavailable}
	gamma := &stubSource{allErr: errors.New("gamma down")}
	clob := &stubSource{all: []domain.Market{
		{ID: "fresh", CreatedAt: now.Add(-5 * time.Minute)},
		{ID: "old", CreatedAt: now.Add(-2 * time.Hour)},
	}}
	d := New(primary, []domain.MarketSource{gamma, clob}, testLogger())
	d.now = func() time.Time { return now }

	res, err := d.Discover(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	require.Len(t, res.Markets, 1)
	assert.Equal(t, "fresh", res.Markets[0].ID)
	assert.Equal(t, 1, gamma.allCalls)
	assert.Equal(t, 1, clob.allCalls)
}

func TestDiscover_AllSourcesFail(t *testing.T) {
	primary := &stubSource{newErr: errors.New("boom")}
	fb := &stubSource{allErr: errors.New("also boom")}
	d := New(primary, []domain.MarketSource{fb}, testLogger())

	_, err := d.Discover(context.Background(), time.Minute)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSourceUnavailable))
}

func TestDiscover_NilPrimaryUsesFallback(t *testing.T) {
	now := time.Now()
	fb := &stubSource{all: []domain.Market{{ID: "x", CreatedAt: now}}}
	d := New(nil, []domain.MarketSource{fb}, testLogger())

	res, err := d.Discover(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Len(t, res.Markets, 1)
}

func TestDiscover_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	primary := &stubSource{newErr: context.Canceled}
	fb := &stubSource{}
	d := New(primary, []domain.MarketSource{fb}, testLogger())

	_, err := d.Discover(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, fb.allCalls)
}
