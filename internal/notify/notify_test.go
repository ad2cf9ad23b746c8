package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
	"github.com/alanyoungcy/newmarketbot/internal/notify"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recSender struct {
	mu     sync.Mutex
	titles []string
	bodies []string
	err    error
}

func (r *recSender) Send(_ context.Context, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	r.bodies = append(r.bodies, message)
	return r.err
}

func (r *recSender) Name() string { return "rec" }

func (r *recSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.titles)
}

func runNotifier(t *testing.T, n *notify.Notifier) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = n.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestNotifier_FiltersByEvent(t *testing.T) {
	rec := &recSender{}
	n := notify.NewNotifier([]notify.Sender{rec}, []string{notify.EventTradePlaced, " error "}, discardLogger())
	stop := runNotifier(t, n)

	ctx := context.Background()
	n.NewMarket(ctx, domain.Market{Question: "Will it rain?"})
	n.TradePlaced(ctx, domain.Position{MarketName: "Will it rain?", Side: "NO", Size: 10, EntryPrice: 0.4})
	n.Error(ctx, "market", errors.New("boom"))
	n.Error(ctx, "market", nil)
	stop()

	require.Equal(t, 2, rec.count())
	assert.Equal(t, "Trade placed", rec.titles[0])
	assert.Contains(t, rec.bodies[0], "BUY NO 10.00 @ 0.400")
	assert.Equal(t, "Error in market", rec.titles[1])
	assert.False(t, n.Enabled(notify.EventNewMarket))
}

func TestNotifier_SenderFailureDoesNotBlockOthers(t *testing.T) {
	bad := &recSender{err: errors.New("down")}
	good := &recSender{}
	n := notify.NewNotifier([]notify.Sender{bad, good}, nil, discardLogger())
	stop := runNotifier(t, n)

	price := 0.46
	n.PositionClosed(context.Background(), domain.Position{
		MarketName: "Q", Side: "NO", Size: 10, EntryPrice: 0.40, CurrentPrice: &price,
	}, domain.CloseReasonTarget, 0.6)
	stop()

	require.Equal(t, 1, good.count())
	assert.Equal(t, "Position closed (target)", good.titles[0])
	assert.Contains(t, good.bodies[0], "+15.00%")
	assert.Contains(t, good.bodies[0], "PnL: +0.60 USDC")
}

func TestNotifier_NoSendersIsSilent(t *testing.T) {
	n := notify.NewNotifier(nil, nil, discardLogger())
	assert.False(t, n.Enabled(notify.EventError))
	n.FeedStatus(context.Background(), domain.AlertFeedFallback, "polling")
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := notify.NewTelegramSenderWithBase("TOKEN", "42", srv.URL, &http.Client{Timeout: time.Second})
	require.NoError(t, s.Send(context.Background(), "Title", "body_with_underscores"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "Title\nbody_with_underscores", got["text"])
	assert.NotContains(t, got, "parse_mode")
}

func TestTelegramSender_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := notify.NewTelegramSenderWithBase("T", "1", srv.URL, srv.Client())
	err := s.Send(context.Background(), "a", "b")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestDiscordSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := notify.NewDiscordSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), "Feed: feed fallback", "polling"))
	assert.Equal(t, "**Feed: feed fallback**\npolling", got["content"])

	srv.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad webhook"))
	})
	err := s.Send(context.Background(), "x", "y")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad webhook")
}
