// Package sqlite implements domain.PositionStore on a single SQLite file
// using the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
    id                    TEXT PRIMARY KEY,
    token_id              TEXT NOT NULL,
    market_id             TEXT NOT NULL DEFAULT '',
    market_name           TEXT NOT NULL DEFAULT '',
    user_address          TEXT NOT NULL DEFAULT '',
    order_id              TEXT NOT NULL DEFAULT '',
    side                  TEXT NOT NULL,
    size                  REAL NOT NULL,
    entry_price           REAL NOT NULL,
    current_price         REAL,
    target_profit_percent REAL NOT NULL,
    stop_loss_percent     REAL NOT NULL,
    max_holding_hours     REAL NOT NULL,
    status                TEXT NOT NULL DEFAULT 'open',
    close_reason          TEXT,
    created_at            TEXT NOT NULL,
    updated_at            TEXT NOT NULL,
    closed_at             TEXT,
    realized_pnl          REAL
);

CREATE INDEX IF NOT EXISTS idx_positions_user_status   ON positions(user_address, status);
CREATE INDEX IF NOT EXISTS idx_positions_market_status ON positions(market_id, status);
CREATE INDEX IF NOT EXISTS idx_positions_created_at    ON positions(created_at);

CREATE TABLE IF NOT EXISTS audit_log (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    event      TEXT NOT NULL,
    detail     TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL
);
`

// Times are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// PositionStore implements domain.PositionStore using SQLite.
type PositionStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ domain.PositionStore = (*PositionStore)(nil)

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(path string) (*PositionStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// SQLite is single-writer; one connection also keeps :memory: shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &PositionStore{db: db, now: time.Now}, nil
}

// Ping checks the database connection.
func (s *PositionStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *PositionStore) Close() error {
	return s.db.Close()
}

const selectCols = `id, token_id, market_id, market_name, user_address, order_id,
	side, size, entry_price, current_price,
	target_profit_percent, stop_loss_percent, max_holding_hours,
	status, close_reason, created_at, updated_at, closed_at, realized_pnl`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (domain.Position, error) {
	var (
		p                    domain.Position
		status               string
		currentPrice, pnl    sql.NullFloat64
		closeReason          sql.NullString
		createdAt, updatedAt string
		closedAt             sql.NullString
	)
	err := row.Scan(
		&p.ID, &p.TokenID, &p.MarketID, &p.MarketName, &p.UserAddress, &p.OrderID,
		&p.Side, &p.Size, &p.EntryPrice, &currentPrice,
		&p.TargetProfitPercent, &p.StopLossPercent, &p.MaxHoldingHours,
		&status, &closeReason, &createdAt, &updatedAt, &closedAt, &pnl,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	if currentPrice.Valid {
		v := currentPrice.Float64
		p.CurrentPrice = &v
	}
	if pnl.Valid {
		v := pnl.Float64
		p.RealizedPnL = &v
	}
	if closeReason.Valid {
		r := domain.CloseReason(closeReason.String)
		p.CloseReason = &r
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Position{}, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return domain.Position{}, err
	}
	if closedAt.Valid {
		t, err := parseTime(closedAt.String)
		if err != nil {
			return domain.Position{}, err
		}
		p.ClosedAt = &t
	}
	return p, nil
}

func scanPositions(rows *sql.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SavePosition inserts or replaces a position. Closed rows are never
// rewritten.
func (s *PositionStore) SavePosition(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, token_id, market_id, market_name, user_address, order_id,
			side, size, entry_price, current_price,
			target_profit_percent, stop_loss_percent, max_holding_hours,
			status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			token_id              = excluded.token_id,
			market_id             = excluded.market_id,
			market_name           = excluded.market_name,
			user_address          = excluded.user_address,
			order_id              = excluded.order_id,
			side                  = excluded.side,
			size                  = excluded.size,
			entry_price           = excluded.entry_price,
			current_price         = excluded.current_price,
			target_profit_percent = excluded.target_profit_percent,
			stop_loss_percent     = excluded.stop_loss_percent,
			max_holding_hours     = excluded.max_holding_hours,
			updated_at            = excluded.updated_at
		WHERE positions.status = 'open'`

	now := s.now().UTC()
	created := p.CreatedAt
	if created.IsZero() {
		created = now
	}
	status := p.Status
	if status == "" {
		status = domain.PositionStatusOpen
	}
	var current any
	if p.CurrentPrice != nil {
		current = *p.CurrentPrice
	}
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.TokenID, p.MarketID, p.MarketName, p.UserAddress, p.OrderID,
		p.Side, p.Size, p.EntryPrice, current,
		p.TargetProfitPercent, p.StopLossPercent, p.MaxHoldingHours,
		string(status), formatTime(created), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save position %s: %w", p.ID, err)
	}
	return nil
}

// GetOpenPositions returns open positions of userAddress, or of every user
// when userAddress is empty, oldest first.
func (s *PositionStore) GetOpenPositions(ctx context.Context, userAddress string) ([]domain.Position, error) {
	query := `SELECT ` + selectCols + ` FROM positions WHERE status = 'open'`
	var args []any
	if userAddress != "" {
		query += ` AND lower(user_address) = lower(?)`
		args = append(args, userAddress)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get open positions: %w", err)
	}
	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan open positions: %w", err)
	}
	return positions, nil
}

// GetPosition retrieves a single position by id.
func (s *PositionStore) GetPosition(ctx context.Context, id string) (domain.Position, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("sqlite: position %s: %w", id, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("sqlite: get position %s: %w", id, err)
	}
	return p, nil
}

// UpdatePositionPrice records the latest mark price of an open position.
func (s *PositionStore) UpdatePositionPrice(ctx context.Context, id string, price float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE positions SET current_price = ?, updated_at = ? WHERE id = ? AND status = 'open'`,
		price, formatTime(s.now().UTC()), id)
	if err != nil {
		return fmt.Errorf("sqlite: update price %s: %w", id, err)
	}
	return s.checkAffected(ctx, res, id)
}

// ClosePosition sets the close fields of an open position. Closing a
// closed position returns domain.ErrAlreadyClosed.
func (s *PositionStore) ClosePosition(ctx context.Context, id string, reason domain.CloseReason, pnl float64) error {
	now := formatTime(s.now().UTC())
	res, err := s.db.ExecContext(ctx, `
		UPDATE positions SET
			status       = 'closed',
			close_reason = ?,
			realized_pnl = ?,
			closed_at    = ?,
			updated_at   = ?
		WHERE id = ? AND status = 'open'`,
		string(reason), pnl, now, now, id)
	if err != nil {
		return fmt.Errorf("sqlite: close position %s: %w", id, err)
	}
	return s.checkAffected(ctx, res, id)
}

// CountOpenByMarket returns the number of open positions on marketID.
func (s *PositionStore) CountOpenByMarket(ctx context.Context, marketID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM positions WHERE market_id = ? AND status = 'open'`, marketID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count open by market %s: %w", marketID, err)
	}
	return n, nil
}

// ListPositions returns positions newest first with optional status and
// time filters.
func (s *PositionStore) ListPositions(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	var (
		where []string
		args  []any
	)
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(opts.Since.UTC()))
	}

	query := `SELECT ` + selectCols + ` FROM positions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list positions: %w", err)
	}
	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan positions: %w", err)
	}
	return positions, nil
}

func (s *PositionStore) checkAffected(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected %s: %w", id, err)
	}
	if n > 0 {
		return nil
	}
	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM positions WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sqlite: position %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("sqlite: lookup position %s: %w", id, err)
	}
	return fmt.Errorf("sqlite: position %s: %w", id, domain.ErrAlreadyClosed)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}
