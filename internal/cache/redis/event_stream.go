package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

// streamMaxLen caps the events stream via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

const defaultEventsStream = "newmarketbot:events"

// EventStream appends engine events to a Redis stream so dashboards and
// other consumers can follow the bot.
type EventStream struct {
	rdb    *redis.Client
	stream string
	now    func() time.Time
}

var (
	_ domain.EventStream = (*EventStream)(nil)
	_ domain.EventReader = (*EventStream)(nil)
)

// NewEventStream creates an EventStream on the configured stream key.
func NewEventStream(c *Client) *EventStream {
	stream := c.cfg.EventsStream
	if stream == "" {
		stream = defaultEventsStream
	}
	return &EventStream{rdb: c.rdb, stream: stream, now: time.Now}
}

// Append adds one event with its JSON-encoded detail.
func (es *EventStream) Append(ctx context.Context, event string, detail map[string]any) error {
	args, err := es.xaddArgs(event, detail)
	if err != nil {
		return err
	}
	if err := es.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: append %s to %s: %w", event, es.stream, err)
	}
	return nil
}

// RecentEvents returns up to limit events, newest first.
func (es *EventStream) RecentEvents(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	msgs, err := es.rdb.XRevRangeN(ctx, es.stream, "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read %s: %w", es.stream, err)
	}
	out := make([]domain.AuditEvent, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, decodeEvent(m))
	}
	return out, nil
}

func (es *EventStream) xaddArgs(event string, detail map[string]any) (*redis.XAddArgs, error) {
	if detail == nil {
		detail = map[string]any{}
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("redis: marshal %s detail: %w", event, err)
	}
	return &redis.XAddArgs{
		Stream: es.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"event":  event,
			"detail": string(raw),
			"ts":     es.now().UTC().Format(time.RFC3339Nano),
		},
	}, nil
}

func decodeEvent(m redis.XMessage) domain.AuditEvent {
	e := domain.AuditEvent{ID: m.ID}
	if v, ok := m.Values["event"].(string); ok {
		e.Event = v
	}
	if v, ok := m.Values["ts"].(string); ok {
		e.Time, _ = time.Parse(time.RFC3339Nano, v)
	}
	if v, ok := m.Values["detail"].(string); ok {
		_ = json.Unmarshal([]byte(v), &e.Detail)
	}
	return e
}
