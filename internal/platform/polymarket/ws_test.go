package polymarket_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
	"github.com/alanyoungcy/newmarketbot/internal/platform/polymarket"
)

func TestParseFrame_Book(t *testing.T) {
	raw := []byte(`{"event_type":"book","asset_id":"tok","market":"0xm",
		"bids":[{"price":"0.40","size":"100"},{"price":"0.42","size":"5"}],
		"asks":[{"price":"0.47","size":"10"},{"price":"0.44","size":"3"}],
		"timestamp":"1700000000000"}`)

	events, err := polymarket.ParseFrame(raw)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, domain.EventBook, ev.Kind)
	assert.Equal(t, "tok", ev.TokenID)
	assert.InDelta(t, 0.42, ev.BestBid, 1e-9)
	assert.InDelta(t, 0.44, ev.BestAsk, 1e-9)
	assert.InDelta(t, 0.43, ev.Price, 1e-9)
	assert.Equal(t, int64(1700000000000), ev.Timestamp.UnixMilli())
}

func TestParseFrame_PriceChangeArray(t *testing.T) {
	raw := []byte(`[{"event_type":"price_change","market":"0xm","price_changes":[
		{"asset_id":"a","price":"0.5","size":"1","side":"BUY","best_bid":"0.48","best_ask":"0.52"},
		{"asset_id":"b","price":"0.31","size":"1","side":"SELL"},
		{"asset_id":"a","price":"0.5","size":"1","side":"BUY","best_bid":"0.50","best_ask":"0.54"}
	]}]`)

	events, err := polymarket.ParseFrame(raw)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "a", events[0].TokenID)
	assert.InDelta(t, 0.52, events[0].Price, 1e-9)
	assert.Equal(t, "b", events[1].TokenID)
	assert.InDelta(t, 0.31, events[1].Price, 1e-9)
}

func TestParseFrame_LastTrade(t *testing.T) {
	events, err := polymarket.ParseFrame([]byte(`{"event_type":"last_trade_price","asset_id":"tok","price":"0.61","side":"BUY","size":"10"}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventLastTradePrice, events[0].Kind)
	assert.InDelta(t, 0.61, events[0].Price, 1e-9)
}

func TestParseFrame_BadInput(t *testing.T) {
	_, err := polymarket.ParseFrame([]byte(`not json`))
	assert.True(t, errors.Is(err, domain.ErrDataIntegrity))

	_, err = polymarket.ParseFrame([]byte(`{"event_type":"tick_size_change","asset_id":"x"}`))
	assert.True(t, errors.Is(err, polymarket.ErrUnknownFrame))

	_, err = polymarket.ParseFrame(nil)
	assert.True(t, errors.Is(err, domain.ErrDataIntegrity))
}

func TestParseFrame_ArrayKeepsGoodElements(t *testing.T) {
	events, err := polymarket.ParseFrame([]byte(`[{"event_type":"unknown"},{"event_type":"last_trade_price","asset_id":"t","price":0.2}]`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "t", events[0].TokenID)
}

func TestIsPong(t *testing.T) {
	assert.True(t, polymarket.IsPong([]byte("PONG")))
	assert.True(t, polymarket.IsPong([]byte(" PONG\n")))
	assert.False(t, polymarket.IsPong([]byte(`{"event_type":"book"}`)))
}
