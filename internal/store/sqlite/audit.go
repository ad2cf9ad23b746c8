package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

var (
	_ domain.EventStream = (*PositionStore)(nil)
	_ domain.EventReader = (*PositionStore)(nil)
)

// Append stores one engine event in the audit_log table.
func (s *PositionStore) Append(ctx context.Context, event string, detail map[string]any) error {
	if detail == nil {
		detail = map[string]any{}
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (event, detail, created_at) VALUES (?, ?, ?)`,
		event, string(raw), formatTime(s.now()),
	); err != nil {
		return fmt.Errorf("sqlite: append audit event %s: %w", event, err)
	}
	return nil
}

// RecentEvents returns up to limit audit entries, newest first.
func (s *PositionStore) RecentEvents(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event, detail, created_at FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: recent events: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEvent
	for rows.Next() {
		var (
			e       domain.AuditEvent
			id      int64
			raw     string
			created string
		)
		if err := rows.Scan(&id, &e.Event, &raw, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &e.Detail); err != nil {
			return nil, fmt.Errorf("sqlite: decode event detail: %w", err)
		}
		if e.Time, err = parseTime(created); err != nil {
			return nil, err
		}
		e.ID = strconv.FormatInt(id, 10)
		out = append(out, e)
	}
	return out, rows.Err()
}
