package redis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

func TestPriceFieldsRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 42, time.UTC)
	raw := priceFields(0.4725, ts)

	vals := make(map[string]string, len(raw))
	for k, v := range raw {
		vals[k] = v.(string)
	}
	price, got, err := parsePriceFields(vals)
	require.NoError(t, err)
	assert.Equal(t, 0.4725, price)
	assert.True(t, ts.Equal(got))
}

func TestParsePriceFields_Errors(t *testing.T) {
	_, _, err := parsePriceFields(map[string]string{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = parsePriceFields(map[string]string{"price": "0.5"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = parsePriceFields(map[string]string{"price": "abc", "ts": "1"})
	assert.ErrorIs(t, err, domain.ErrDataIntegrity)
}

func TestEventStreamArgs(t *testing.T) {
	c := NewFromClient(nil, ClientConfig{})
	es := NewEventStream(c)
	es.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

	args, err := es.xaddArgs("trade_placed", map[string]any{"market_id": "m1"})
	require.NoError(t, err)
	assert.Equal(t, defaultEventsStream, args.Stream)
	assert.True(t, args.Approx)

	values := args.Values.(map[string]any)
	assert.Equal(t, "trade_placed", values["event"])
	assert.Equal(t, "2026-03-01T00:00:00Z", values["ts"])

	var detail map[string]any
	require.NoError(t, json.Unmarshal([]byte(values["detail"].(string)), &detail))
	assert.Equal(t, "m1", detail["market_id"])

	decoded := decodeEvent(redis.XMessage{ID: "1-0", Values: values})
	assert.Equal(t, "1-0", decoded.ID)
	assert.Equal(t, "trade_placed", decoded.Event)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), decoded.Time)
	assert.Equal(t, "m1", decoded.Detail["market_id"])
}

func TestEventStreamCustomKey(t *testing.T) {
	es := NewEventStream(NewFromClient(nil, ClientConfig{EventsStream: "bot:ev"}))
	assert.Equal(t, "bot:ev", es.stream)
}
