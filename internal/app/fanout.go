package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

// FanOut appends every event to all of its streams. A failing stream is
// logged and does not stop delivery to the others.
type FanOut struct {
	streams []domain.EventStream
	logger  *slog.Logger
}

// NewFanOut creates a FanOut. Nil streams are skipped.
func NewFanOut(logger *slog.Logger, streams ...domain.EventStream) *FanOut {
	f := &FanOut{logger: logger}
	for _, s := range streams {
		if s != nil {
			f.streams = append(f.streams, s)
		}
	}
	return f
}

var _ domain.EventStream = (*FanOut)(nil)

// Append implements domain.EventStream. It returns the joined errors of
// the streams that failed.
func (f *FanOut) Append(ctx context.Context, event string, detail map[string]any) error {
	var errs []error
	for _, s := range f.streams {
		if err := s.Append(ctx, event, detail); err != nil {
			f.logger.WarnContext(ctx, "app: event stream append failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of streams.
func (f *FanOut) Len() int { return len(f.streams) }
