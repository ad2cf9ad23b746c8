package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Status PositionStatus // empty means any status
	Since  *time.Time
}

// PositionStore is the system of record for positions. Implementations
// must give last-writer-wins semantics per position id and must refuse to
// close a position twice.
type PositionStore interface {
	SavePosition(ctx context.Context, pos Position) error
	GetOpenPositions(ctx context.Context, userAddress string) ([]Position, error)
	GetPosition(ctx context.Context, id string) (Position, error)
	UpdatePositionPrice(ctx context.Context, id string, price float64) error
	ClosePosition(ctx context.Context, id string, reason CloseReason, pnl float64) error
	CountOpenByMarket(ctx context.Context, marketID string) (int, error)
	ListPositions(ctx context.Context, opts ListOpts) ([]Position, error)
}
