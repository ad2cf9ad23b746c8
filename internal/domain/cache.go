package domain

import (
	"context"
	"time"
)

// PriceCache stores the latest observed price per token.
type PriceCache interface {
	SetPrice(ctx context.Context, tokenID string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, tokenID string) (float64, time.Time, error)
}

// EventStream is an append-only stream of engine events for external
// consumers.
type EventStream interface {
	Append(ctx context.Context, event string, detail map[string]any) error
}

// AuditEvent is one recorded engine event.
type AuditEvent struct {
	ID     string
	Event  string
	Detail map[string]any
	Time   time.Time
}

// EventReader reads back recent engine events, newest first.
type EventReader interface {
	RecentEvents(ctx context.Context, limit int) ([]AuditEvent, error)
}
