package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// handshakeTimeout bounds the websocket upgrade.
	handshakeTimeout = 15 * time.Second

	// PingFrame and PongFrame are the text keep-alive frames used by the
	// market channel.
	PingFrame = "PING"
	PongFrame = "PONG"
)

// ErrUnknownFrame is returned by ParseFrame for well-formed frames of a kind
// the feed does not consume.
var ErrUnknownFrame = errors.New("polymarket/ws: unknown frame kind")

// SubscribeMessage is the market-channel subscription request.
type SubscribeMessage struct {
	Type     string   `json:"type"`
	AssetIDs []string `json:"assets_ids"`
}

// WSConn is a single connection to the CLOB market channel. Writes are
// serialised; reads must come from one goroutine.
type WSConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

// DialMarket opens a connection to the market channel.
//
// wsURL is the CLOB WebSocket endpoint, e.g. "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func DialMarket(ctx context.Context, wsURL string) (*WSConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/ws: connect: %w: %w", domain.ErrTransientNetwork, err)
	}
	return &WSConn{conn: conn}, nil
}

// Subscribe sends the subscription message naming tokenIDs.
func (c *WSConn) Subscribe(tokenIDs []string) error {
	data, err := json.Marshal(SubscribeMessage{Type: "market", AssetIDs: tokenIDs})
	if err != nil {
		return fmt.Errorf("polymarket/ws: marshal subscribe: %w", err)
	}
	if err := c.write(data); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}
	return nil
}

// Ping sends the text keep-alive frame.
func (c *WSConn) Ping() error {
	if err := c.write([]byte(PingFrame)); err != nil {
		return fmt.Errorf("polymarket/ws: ping: %w", err)
	}
	return nil
}

func (c *WSConn) write(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConnectionClosed, err)
	}
	return nil
}

// ReadFrame blocks until the next data frame arrives or the deadline
// passes. Any read failure is reported as ErrConnectionClosed.
func (c *WSConn) ReadFrame(deadline time.Time) ([]byte, error) {
	_ = c.conn.SetReadDeadline(deadline)
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("polymarket/ws: read: %w: %w", domain.ErrConnectionClosed, err)
	}
	return data, nil
}

// Close sends a close frame and tears down the connection. It is safe to
// call more than once.
func (c *WSConn) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.wmu.Unlock()
	return c.conn.Close()
}

// --------------------------------------------------------------------------
// Frame parsing
// --------------------------------------------------------------------------

// IsPong reports whether raw is the keep-alive reply.
func IsPong(raw []byte) bool {
	return string(bytes.TrimSpace(raw)) == PongFrame
}

// PriceLevel is one level of an order book side.
type PriceLevel struct {
	Price flexFloat `json:"price"`
	Size  flexFloat `json:"size"`
}

// BookMessage is a full order book snapshot.
type BookMessage struct {
	EventType string       `json:"event_type"`
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp string       `json:"timestamp"`
}

// PriceChangeItem is one entry of a price_change frame.
type PriceChangeItem struct {
	AssetID string    `json:"asset_id"`
	Price   flexFloat `json:"price"`
	Size    flexFloat `json:"size"`
	Side    string    `json:"side"`
	BestBid flexFloat `json:"best_bid"`
	BestAsk flexFloat `json:"best_ask"`
}

// PriceChangeMessage carries incremental level updates. Older payloads put
// the asset on the envelope and the updates under "changes".
type PriceChangeMessage struct {
	EventType    string            `json:"event_type"`
	Market       string            `json:"market"`
	AssetID      string            `json:"asset_id"`
	PriceChanges []PriceChangeItem `json:"price_changes"`
	Changes      []PriceChangeItem `json:"changes"`
	Timestamp    string            `json:"timestamp"`
}

// LastTradeMessage reports the last traded price for an asset.
type LastTradeMessage struct {
	EventType string    `json:"event_type"`
	AssetID   string    `json:"asset_id"`
	Market    string    `json:"market"`
	Price     flexFloat `json:"price"`
	Side      string    `json:"side"`
	Size      flexFloat `json:"size"`
	Timestamp string    `json:"timestamp"`
}

// ParseFrame decodes a market-channel frame, which may be a single object or
// an array of objects, into price events. Malformed input yields an error
// wrapping ErrDataIntegrity; frames of other kinds yield ErrUnknownFrame. In
// an array, bad elements are dropped as long as at least one element parses.
func ParseFrame(raw []byte) ([]domain.PriceEvent, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("polymarket/ws: empty frame: %w", domain.ErrDataIntegrity)
	}

	if raw[0] != '[' {
		return parseObject(raw)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("polymarket/ws: decode frame array: %w: %w", domain.ErrDataIntegrity, err)
	}
	var (
		events   []domain.PriceEvent
		firstErr error
		parsed   int
	)
	for _, item := range items {
		evs, err := parseObject(item)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		parsed++
		events = append(events, evs...)
	}
	if parsed == 0 && firstErr != nil {
		return nil, firstErr
	}
	return events, nil
}

func parseObject(raw []byte) ([]domain.PriceEvent, error) {
	var envelope struct {
		MsgType string `json:"msg_type"`
		Event   string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("polymarket/ws: decode frame: %w: %w", domain.ErrDataIntegrity, err)
	}
	kind := envelope.Event
	if kind == "" {
		kind = envelope.MsgType
	}

	switch domain.PriceEventKind(kind) {
	case domain.EventBook:
		var msg BookMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("polymarket/ws: decode book: %w: %w", domain.ErrDataIntegrity, err)
		}
		ev, ok := bookToEvent(&msg)
		if !ok {
			return nil, nil
		}
		return []domain.PriceEvent{ev}, nil

	case domain.EventPriceChange:
		var msg PriceChangeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("polymarket/ws: decode price_change: %w: %w", domain.ErrDataIntegrity, err)
		}
		return priceChangeToEvents(&msg), nil

	case domain.EventLastTradePrice:
		var msg LastTradeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("polymarket/ws: decode last_trade_price: %w: %w", domain.ErrDataIntegrity, err)
		}
		if msg.AssetID == "" || msg.Price <= 0 {
			return nil, nil
		}
		return []domain.PriceEvent{{
			Kind:      domain.EventLastTradePrice,
			TokenID:   msg.AssetID,
			MarketID:  msg.Market,
			Price:     float64(msg.Price),
			Timestamp: frameTime(msg.Timestamp),
		}}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, kind)
}

func bookToEvent(msg *BookMessage) (domain.PriceEvent, bool) {
	if msg.AssetID == "" {
		return domain.PriceEvent{}, false
	}
	var bestBid, bestAsk float64
	for _, l := range msg.Bids {
		if p := float64(l.Price); p > bestBid && l.Size > 0 {
			bestBid = p
		}
	}
	for _, l := range msg.Asks {
		if p := float64(l.Price); p > 0 && l.Size > 0 && (bestAsk == 0 || p < bestAsk) {
			bestAsk = p
		}
	}
	price := midpoint(bestBid, bestAsk, 0)
	if price <= 0 {
		return domain.PriceEvent{}, false
	}
	return domain.PriceEvent{
		Kind:      domain.EventBook,
		TokenID:   msg.AssetID,
		MarketID:  msg.Market,
		Price:     price,
		BestBid:   bestBid,
		BestAsk:   bestAsk,
		Timestamp: frameTime(msg.Timestamp),
	}, true
}

func priceChangeToEvents(msg *PriceChangeMessage) []domain.PriceEvent {
	items := msg.PriceChanges
	if len(items) == 0 {
		items = msg.Changes
	}
	ts := frameTime(msg.Timestamp)

	// Keep the last update per asset so one frame yields one price per token.
	latest := make(map[string]domain.PriceEvent, len(items))
	var order []string
	for _, it := range items {
		asset := it.AssetID
		if asset == "" {
			asset = msg.AssetID
		}
		if asset == "" {
			continue
		}
		price := midpoint(float64(it.BestBid), float64(it.BestAsk), float64(it.Price))
		if price <= 0 {
			continue
		}
		if _, seen := latest[asset]; !seen {
			order = append(order, asset)
		}
		latest[asset] = domain.PriceEvent{
			Kind:      domain.EventPriceChange,
			TokenID:   asset,
			MarketID:  msg.Market,
			Price:     price,
			BestBid:   float64(it.BestBid),
			BestAsk:   float64(it.BestAsk),
			Timestamp: ts,
		}
	}
	events := make([]domain.PriceEvent, 0, len(order))
	for _, asset := range order {
		events = append(events, latest[asset])
	}
	return events
}

// midpoint returns the bid/ask midpoint when both sides are present, the
// single available side otherwise, and fallback when neither is.
func midpoint(bid, ask, fallback float64) float64 {
	switch {
	case bid > 0 && ask > 0:
		return (bid + ask) / 2
	case fallback > 0:
		return fallback
	case bid > 0:
		return bid
	default:
		return ask
	}
}

func frameTime(s string) time.Time {
	if t, ok := parseTimestamp(s); ok {
		return t
	}
	return time.Now().UTC()
}
