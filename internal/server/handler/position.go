package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

// PositionReader is the read side of the position store.
type PositionReader interface {
	GetOpenPositions(ctx context.Context, userAddress string) ([]domain.Position, error)
	GetPosition(ctx context.Context, id string) (domain.Position, error)
	ListPositions(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error)
}

// PositionHandler serves position endpoints.
type PositionHandler struct {
	positions PositionReader
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionReader, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{positions: positions, logger: logHandler(logger, "positions")}
}

// PositionView is the JSON shape of a position.
type PositionView struct {
	ID                  string     `json:"id"`
	TokenID             string     `json:"token_id"`
	MarketID            string     `json:"market_id,omitempty"`
	MarketName          string     `json:"market_name"`
	UserAddress         string     `json:"user_address"`
	OrderID             string     `json:"order_id"`
	Side                string     `json:"side"`
	Size                float64    `json:"size"`
	EntryPrice          float64    `json:"entry_price"`
	CurrentPrice        *float64   `json:"current_price,omitempty"`
	PnLPercent          *float64   `json:"pnl_percent,omitempty"`
	TargetProfitPercent float64    `json:"target_profit_percent"`
	StopLossPercent     float64    `json:"stop_loss_percent"`
	MaxHoldingHours     float64    `json:"max_holding_hours"`
	Status              string     `json:"status"`
	CloseReason         string     `json:"close_reason,omitempty"`
	RealizedPnL         *float64   `json:"realized_pnl,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	ClosedAt            *time.Time `json:"closed_at,omitempty"`
}

// NewPositionView converts a domain position.
func NewPositionView(p domain.Position) PositionView {
	v := PositionView{
		ID:                  p.ID,
		TokenID:             p.TokenID,
		MarketID:            p.MarketID,
		MarketName:          p.MarketName,
		UserAddress:         p.UserAddress,
		OrderID:             p.OrderID,
		Side:                p.Side,
		Size:                p.Size,
		EntryPrice:          p.EntryPrice,
		CurrentPrice:        p.CurrentPrice,
		TargetProfitPercent: p.TargetProfitPercent,
		StopLossPercent:     p.StopLossPercent,
		MaxHoldingHours:     p.MaxHoldingHours,
		Status:              string(p.Status),
		RealizedPnL:         p.RealizedPnL,
		CreatedAt:           p.CreatedAt,
		ClosedAt:            p.ClosedAt,
	}
	if p.CurrentPrice != nil {
		pct := p.PnLPercent(*p.CurrentPrice)
		v.PnLPercent = &pct
	}
	if p.CloseReason != nil {
		v.CloseReason = string(*p.CloseReason)
	}
	return v
}

type listPositionsResponse struct {
	Positions []PositionView `json:"positions"`
}

// ListPositions lists positions. status=open (default) returns open
// positions, optionally for ?wallet=; status=closed or status=all pages
// through history with limit/offset.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := q.Get("status")

	var (
		positions []domain.Position
		err       error
	)
	switch status {
	case "", "open":
		positions, err = h.positions.GetOpenPositions(r.Context(), q.Get("wallet"))
	case "closed", "all":
		opts := parseListOpts(r)
		if status == "closed" {
			opts.Status = domain.PositionStatusClosed
		}
		positions, err = h.positions.ListPositions(r.Context(), opts)
	default:
		writeError(w, http.StatusBadRequest, "status must be open, closed or all")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("status", status),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	views := make([]PositionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, NewPositionView(p))
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: views})
}

// GetPosition returns one position.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := h.positions.GetPosition(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get position failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get position")
		return
	}
	writeJSON(w, http.StatusOK, NewPositionView(p))
}
