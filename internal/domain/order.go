package domain

import (
	"context"
	"math/big"
	"time"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusMatched   OrderStatus = "matched"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFailed    OrderStatus = "failed"
)

// OrderRequest is what the engine asks the gateway to place.
type OrderRequest struct {
	TokenID string
	Side    OrderSide
	Size    float64 // outcome tokens
	Price   float64 // USDC per token
	Type    OrderType
}

// Order is an order as reported by the venue.
type Order struct {
	ID          string
	MarketID    string
	TokenID     string
	Side        OrderSide
	Type        OrderType
	Price       float64
	Size        float64
	FilledSize  float64
	MakerAmount *big.Int
	TakerAmount *big.Int
	Status      OrderStatus
	CreatedAt   time.Time
}

// OrderResult wraps the API response after order submission.
type OrderResult struct {
	Success     bool
	OrderID     string
	Status      OrderStatus
	Message     string
	ShouldRetry bool
}

// OrderGateway places and manages orders on the venue.
type OrderGateway interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	ListOpenOrders(ctx context.Context) ([]Order, error)
}

// PriceSource answers point-in-time price queries for a token.
type PriceSource interface {
	CurrentPrice(ctx context.Context, tokenID string) (float64, error)
}
