package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

func TestPrintPositions(t *testing.T) {
	price := 0.5
	reason := domain.CloseReasonTarget
	rows := []domain.Position{
		{
			ID:           "0123456789abcdef",
			MarketName:   "Will it rain tomorrow?",
			Side:         "NO",
			Size:         10,
			EntryPrice:   0.4,
			CurrentPrice: &price,
			Status:       domain.PositionStatusClosed,
			CloseReason:  &reason,
			CreatedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		{ID: "p2", MarketName: "No price yet", Side: "NO", Status: domain.PositionStatusOpen},
	}

	var buf bytes.Buffer
	require.NoError(t, printPositions(&buf, rows))
	out := buf.String()

	assert.Contains(t, out, "0123456…")
	assert.Contains(t, out, "+25.00")
	assert.Contains(t, out, "target")
	assert.Contains(t, out, "2026-03-01 12:00:00")
	assert.Contains(t, out, "2 position(s)")
}

func TestShorten(t *testing.T) {
	assert.Equal(t, "abc", shorten("abc", 5))
	assert.Equal(t, "abcd…", shorten("abcdefgh", 5))
}

func TestPrintEvents(t *testing.T) {
	rows := []domain.AuditEvent{{
		Event:  "position_closed",
		Detail: map[string]any{"reason": "stop-loss"},
		Time:   time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}}

	var buf bytes.Buffer
	require.NoError(t, printEvents(&buf, rows))
	assert.Contains(t, buf.String(), "position_closed")
	assert.Contains(t, buf.String(), "stop-loss")
	assert.Contains(t, buf.String(), "2026-03-01 09:30:00")
}
