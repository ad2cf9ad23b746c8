package domain

import "time"

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// CloseReason records which exit rule closed a position.
type CloseReason string

const (
	CloseReasonTarget   CloseReason = "target"
	CloseReasonStopLoss CloseReason = "stop-loss"
	CloseReasonTimeout  CloseReason = "timeout"
	CloseReasonManual   CloseReason = "manual"
)

// Position is a single entry into an outcome token. The close fields
// (Status, CloseReason, ClosedAt, RealizedPnL) are written once by the
// close routine and never change afterwards.
type Position struct {
	ID                  string
	TokenID             string
	MarketID            string // empty when the market id is unknown
	MarketName          string
	UserAddress         string
	OrderID             string
	Side                string // outcome label, e.g. "NO"
	Size                float64
	EntryPrice          float64
	CurrentPrice        *float64
	TargetProfitPercent float64
	StopLossPercent     float64
	MaxHoldingHours     float64
	Status              PositionStatus
	CloseReason         *CloseReason
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ClosedAt            *time.Time
	RealizedPnL         *float64
}

// IsOpen reports whether the position still accepts price updates.
func (p Position) IsOpen() bool {
	return p.Status == PositionStatusOpen
}

// PnLPercent returns the return on entry value at price, in percent.
func (p Position) PnLPercent(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice * 100
}

// Notional returns the entry value of the position.
func (p Position) Notional() float64 {
	return p.Size * p.EntryPrice
}

// Age returns how long the position has been held at now.
func (p Position) Age(now time.Time) time.Duration {
	return now.Sub(p.CreatedAt)
}
