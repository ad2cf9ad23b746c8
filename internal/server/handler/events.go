package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

// EventsHandler serves the recent engine event log.
type EventsHandler struct {
	events domain.EventReader
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(events domain.EventReader, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{events: events, logger: logHandler(logger, "events")}
}

// EventView is the JSON shape of one event.
type EventView struct {
	ID     string         `json:"id"`
	Event  string         `json:"event"`
	Detail map[string]any `json:"detail"`
	Time   time.Time      `json:"time"`
}

type listEventsResponse struct {
	Events []EventView `json:"events"`
}

// ListEvents returns the newest events, up to ?limit= (default 50, max 500).
// GET /api/events
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	events, err := h.events.RecentEvents(r.Context(), opts.Limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list events failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	views := make([]EventView, 0, len(events))
	for _, e := range events {
		views = append(views, EventView{ID: e.ID, Event: e.Event, Detail: e.Detail, Time: e.Time})
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: views})
}
