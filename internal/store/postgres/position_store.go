package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

var _ domain.PositionStore = (*PositionStore)(nil)

const positionSelectCols = `id, token_id, market_id, market_name, user_address, order_id,
	side, size, entry_price, current_price,
	target_profit_percent, stop_loss_percent, max_holding_hours,
	status, close_reason, created_at, updated_at, closed_at, realized_pnl`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p           domain.Position
		status      string
		closeReason *string
	)
	err := row.Scan(
		&p.ID, &p.TokenID, &p.MarketID, &p.MarketName, &p.UserAddress, &p.OrderID,
		&p.Side, &p.Size, &p.EntryPrice, &p.CurrentPrice,
		&p.TargetProfitPercent, &p.StopLossPercent, &p.MaxHoldingHours,
		&status, &closeReason, &p.CreatedAt, &p.UpdatedAt, &p.ClosedAt, &p.RealizedPnL,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	if closeReason != nil {
		r := domain.CloseReason(*closeReason)
		p.CloseReason = &r
	}
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
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
// rewritten, so the close fields stay write-once.
func (s *PositionStore) SavePosition(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, token_id, market_id, market_name, user_address, order_id,
			side, size, entry_price, current_price,
			target_profit_percent, stop_loss_percent, max_holding_hours,
			status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13,
			$14, $15, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			token_id              = EXCLUDED.token_id,
			market_id             = EXCLUDED.market_id,
			market_name           = EXCLUDED.market_name,
			user_address          = EXCLUDED.user_address,
			order_id              = EXCLUDED.order_id,
			side                  = EXCLUDED.side,
			size                  = EXCLUDED.size,
			entry_price           = EXCLUDED.entry_price,
			current_price         = EXCLUDED.current_price,
			target_profit_percent = EXCLUDED.target_profit_percent,
			stop_loss_percent     = EXCLUDED.stop_loss_percent,
			max_holding_hours     = EXCLUDED.max_holding_hours,
			updated_at            = NOW()
		WHERE positions.status = 'open'`

	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	status := p.Status
	if status == "" {
		status = domain.PositionStatusOpen
	}
	_, err := s.pool.Exec(ctx, query,
		p.ID, p.TokenID, p.MarketID, p.MarketName, p.UserAddress, p.OrderID,
		p.Side, p.Size, p.EntryPrice, p.CurrentPrice,
		p.TargetProfitPercent, p.StopLossPercent, p.MaxHoldingHours,
		string(status), created,
	)
	if err != nil {
		return fmt.Errorf("postgres: save position %s: %w", p.ID, err)
	}
	return nil
}

// GetOpenPositions returns open positions of userAddress, or of every user
// when userAddress is empty, oldest first.
func (s *PositionStore) GetOpenPositions(ctx context.Context, userAddress string) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE status = 'open'`
	var args []any
	if userAddress != "" {
		query += ` AND lower(user_address) = lower($1)`
		args = append(args, userAddress)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: get open positions: %w", err)
	}
	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// GetPosition retrieves a single position by id.
func (s *PositionStore) GetPosition(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// UpdatePositionPrice records the latest mark price of an open position.
func (s *PositionStore) UpdatePositionPrice(ctx context.Context, id string, price float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET current_price = $2, updated_at = NOW() WHERE id = $1 AND status = 'open'`,
		id, price)
	if err != nil {
		return fmt.Errorf("postgres: update price %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrClosed(ctx, id)
	}
	return nil
}

// ClosePosition sets the close fields of an open position. Closing a
// closed position returns domain.ErrAlreadyClosed.
func (s *PositionStore) ClosePosition(ctx context.Context, id string, reason domain.CloseReason, pnl float64) error {
	const query = `
		UPDATE positions SET
			status       = 'closed',
			close_reason = $2,
			realized_pnl = $3,
			closed_at    = NOW(),
			updated_at   = NOW()
		WHERE id = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query, id, string(reason), pnl)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrClosed(ctx, id)
	}
	return nil
}

// CountOpenByMarket returns the number of open positions on marketID.
func (s *PositionStore) CountOpenByMarket(ctx context.Context, marketID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM positions WHERE market_id = $1 AND status = 'open'`, marketID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count open by market %s: %w", marketID, err)
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
		args = append(args, string(opts.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if opts.Since != nil {
		args = append(args, *opts.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	query := `SELECT ` + positionSelectCols + ` FROM positions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

func (s *PositionStore) missingOrClosed(ctx context.Context, id string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM positions WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("postgres: lookup position %s: %w", id, err)
	}
	return fmt.Errorf("postgres: position %s: %w", id, domain.ErrAlreadyClosed)
}
