package domain

import (
	"context"
	"time"
)

// BalanceSnapshot is the result of one balance resolution. It is never
// persisted.
type BalanceSnapshot struct {
	FreeBalance    float64
	PositionsValue float64
	Total          float64
	Source         string
	Timestamp      time.Time
	Degraded       bool // true when every source failed and a fallback value was used
}

// BalanceSource is one ranked way of resolving a wallet balance.
type BalanceSource interface {
	Name() string
	Balance(ctx context.Context, address string) (BalanceSnapshot, error)
}
