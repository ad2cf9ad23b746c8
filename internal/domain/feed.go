package domain

import "time"

// FeedState is the connection state of the live price feed.
type FeedState string

const (
	FeedDisconnected    FeedState = "DISCONNECTED"
	FeedConnecting      FeedState = "CONNECTING"
	FeedSubscribed      FeedState = "SUBSCRIBED"
	FeedFallbackPolling FeedState = "FALLBACK_POLLING"
)

// PriceEventKind identifies the frame type a PriceEvent came from.
type PriceEventKind string

const (
	EventBook           PriceEventKind = "book"
	EventPriceChange    PriceEventKind = "price_change"
	EventLastTradePrice PriceEventKind = "last_trade_price"
	EventPolled         PriceEventKind = "polled"
)

// PriceEvent is a normalized price observation for one token.
type PriceEvent struct {
	Kind      PriceEventKind
	TokenID   string
	MarketID  string
	Price     float64 // best estimate: mid for books, trade price otherwise
	BestBid   float64
	BestAsk   float64
	Timestamp time.Time
}
