package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClientSubscriptionMatching(t *testing.T) {
	c := &client{subs: map[string]bool{"*": true}}
	assert.True(t, c.isSubscribed("trade_placed"))

	c.applySubscription(subscribeMsg{Subscribe: []string{"position_*"}})
	assert.False(t, c.isSubscribed("trade_placed"))
	assert.True(t, c.isSubscribed("position_closed"))

	c.applySubscription(subscribeMsg{Unsubscribe: []string{"position_*"}})
	assert.False(t, c.isSubscribed("position_closed"))
}

func TestHubBroadcastsAppendedEvents(t *testing.T) {
	hub := NewHub("trade", discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var greet Envelope
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&greet))
	assert.Equal(t, "bot_status", greet.Type)
	assert.Equal(t, "trade", greet.Payload["mode"])

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, hub.Append(ctx, "trade_placed", map[string]any{"market_id": "m1"}))

	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev Envelope
	require.NoError(t, json.Unmarshal(raw, &ev))
	assert.Equal(t, "trade_placed", ev.Type)
	assert.Equal(t, "m1", ev.Payload["market_id"])
}

func httpHandler(h *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", h.HandleWS)
	return mux
}
