// Package feed maintains the streaming price subscription for the tokens
// the engine cares about. It reconnects with backoff, keeps the connection
// alive with text heartbeats, and degrades to REST polling when the stream
// cannot be established.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
	"github.com/alanyoungcy/newmarketbot/internal/platform/polymarket"
)

// ErrNoPong means the peer stopped answering heartbeats while still sending
// other frames.
var ErrNoPong = errors.New("feed: no heartbeat reply")

// Conn is one live streaming connection.
type Conn interface {
	Subscribe(tokenIDs []string) error
	Ping() error
	ReadFrame(deadline time.Time) ([]byte, error)
	Close() error
}

// Dialer opens a new Conn.
type Dialer func(ctx context.Context) (Conn, error)

// StatusListener is told when the feed degrades to polling and when the
// stream comes back. Each transition is reported exactly once.
type StatusListener interface {
	FeedFallback(ctx context.Context, attempts int, lastErr error)
	FeedRestored(ctx context.Context, downtime time.Duration)
}

// Config tunes the feed.
type Config struct {
	PingInterval          time.Duration
	PongTimeout           time.Duration
	DialTimeout           time.Duration
	MaxAttempts           int
	BaseDelay             time.Duration
	MaxDelay              time.Duration
	BackoffCap            int
	FallbackEnabled       bool
	FallbackPollInterval  time.Duration
	FallbackRetryInterval time.Duration
	TopK                  int
	StopTimeout           time.Duration
	EventBuffer           int
}

func (c *Config) setDefaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 10 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 15 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 60 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 6
	}
	if c.FallbackPollInterval <= 0 {
		c.FallbackPollInterval = 30 * time.Second
	}
	if c.FallbackRetryInterval <= 0 {
		c.FallbackRetryInterval = 5 * time.Minute
	}
	if c.TopK <= 0 {
		c.TopK = 50
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
}

// Status is a point-in-time view of the feed.
type Status struct {
	State      domain.FeedState `json:"state"`
	Tokens     int              `json:"tokens"`
	Attempts   int              `json:"attempts"`
	Reconnects int64            `json:"reconnects"`
	Frames     int64            `json:"frames"`
	BadFrames  int64            `json:"bad_frames"`
	Dropped    int64            `json:"dropped_events"`
	LastEvent  time.Time        `json:"last_event"`
	Degraded   bool             `json:"degraded"`
}

// LiveFeed is the streaming price feed. It owns its goroutine and hands
// events to the engine through Events().
type LiveFeed struct {
	cfg      Config
	dial     Dialer
	prices   domain.PriceSource // polled in fallback mode; may be nil
	cache    domain.PriceCache  // optional
	listener StatusListener     // optional
	logger   *slog.Logger
	jitter   func() time.Duration

	events chan domain.PriceEvent
	resub  chan struct{}

	mu         sync.RWMutex
	state      domain.FeedState
	tokens     []string
	latest     map[string]domain.PriceEvent
	conn       Conn
	attempts   int
	degradedAt time.Time
	reconnects int64
	frames     int64
	badFrames  int64
	dropped    int64
	lastEvent  time.Time

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a LiveFeed. prices, cache and listener may be nil.
func New(cfg Config, dial Dialer, prices domain.PriceSource, cache domain.PriceCache, listener StatusListener, logger *slog.Logger) *LiveFeed {
	cfg.setDefaults()
	return &LiveFeed{
		cfg:      cfg,
		dial:     dial,
		prices:   prices,
		cache:    cache,
		listener: listener,
		logger:   logger.With(slog.String("component", "feed")),
		jitter:   randomJitter,
		events:   make(chan domain.PriceEvent, cfg.EventBuffer),
		resub:    make(chan struct{}, 1),
		state:    domain.FeedDisconnected,
		latest:   make(map[string]domain.PriceEvent),
		done:     make(chan struct{}),
	}
}

// Events returns the ordered stream of parsed price events. When the
// consumer falls behind, new events are dropped from the channel but still
// update Price.
func (f *LiveFeed) Events() <-chan domain.PriceEvent {
	return f.events
}

// Start launches the connection loop. It is a no-op after the first call.
func (f *LiveFeed) Start(ctx context.Context) {
	f.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		f.mu.Lock()
		f.cancel = cancel
		f.mu.Unlock()
		go func() {
			defer close(f.done)
			f.run(ctx)
		}()
	})
}

// Stop closes any open connection, cancels the loop, and waits for the
// loop goroutine to exit, bounded by the configured stop timeout or ctx.
func (f *LiveFeed) Stop(ctx context.Context) error {
	f.mu.Lock()
	cancel := f.cancel
	conn := f.conn
	f.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if conn != nil {
		_ = conn.Close()
	}

	timer := time.NewTimer(f.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-f.done:
		f.setState(domain.FeedDisconnected)
		f.logger.InfoContext(ctx, "feed: stopped")
		return nil
	case <-timer.C:
		return fmt.Errorf("feed: stop: loop did not exit within %s", f.cfg.StopTimeout)
	case <-ctx.Done():
		return fmt.Errorf("feed: stop: %w", ctx.Err())
	}
}

// SetTokens replaces the subscribed token set with the last TopK distinct
// ids. Callers list the most important ids last. A live connection is
// resubscribed when the set changes.
func (f *LiveFeed) SetTokens(ids []string) {
	next := lastDistinct(ids, f.cfg.TopK)

	f.mu.Lock()
	changed := !equalStrings(f.tokens, next)
	if changed {
		f.tokens = next
	}
	f.mu.Unlock()

	if changed {
		f.signalResubscribe()
	}
}

// AddTokens appends ids to the current set, trimming to TopK.
func (f *LiveFeed) AddTokens(ids ...string) {
	f.SetTokens(append(f.Tokens(), ids...))
}

// Tokens returns a copy of the current token set.
func (f *LiveFeed) Tokens() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.tokens))
	copy(out, f.tokens)
	return out
}

// Price returns the latest observed price for tokenID.
func (f *LiveFeed) Price(tokenID string) (float64, time.Time, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ev, ok := f.latest[tokenID]
	if !ok {
		return 0, time.Time{}, false
	}
	return ev.Price, ev.Timestamp, true
}

// State returns the current connection state.
func (f *LiveFeed) State() domain.FeedState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// Status returns counters for the status API.
func (f *LiveFeed) Status() Status {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Status{
		State:      f.state,
		Tokens:     len(f.tokens),
		Attempts:   f.attempts,
		Reconnects: f.reconnects,
		Frames:     f.frames,
		BadFrames:  f.badFrames,
		Dropped:    f.dropped,
		LastEvent:  f.lastEvent,
		Degraded:   !f.degradedAt.IsZero(),
	}
}

// --------------------------------------------------------------------------
// Connection loop
// --------------------------------------------------------------------------

func (f *LiveFeed) run(ctx context.Context) {
	f.logger.InfoContext(ctx, "feed: started", slog.Int("top_k", f.cfg.TopK))

	for ctx.Err() == nil {
		if f.State() == domain.FeedFallbackPolling {
			f.runFallback(ctx)
			if ctx.Err() != nil {
				return
			}
		} else if len(f.Tokens()) == 0 {
			// Nothing to subscribe to yet.
			select {
			case <-ctx.Done():
				return
			case <-f.resub:
				continue
			}
		}

		wasFallback := f.State() == domain.FeedFallbackPolling
		f.setState(domain.FeedConnecting)
		subscribed, err := f.session(ctx)
		if ctx.Err() != nil {
			return
		}

		attempts := f.recordFailure()
		f.logger.WarnContext(ctx, "feed: connection lost",
			slog.Int("attempts", attempts),
			slog.String("error", errString(err)),
		)

		// A retry from fallback that never subscribed goes straight back to
		// polling; a restored stream that drops starts counting again.
		if f.cfg.FallbackEnabled && ((wasFallback && !subscribed) || attempts >= f.cfg.MaxAttempts) {
			f.enterFallback(ctx, attempts, err)
			continue
		}

		f.setState(domain.FeedDisconnected)
		delay := Backoff(attempts, f.cfg.BaseDelay, f.cfg.MaxDelay, f.cfg.BackoffCap, f.jitter())
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

// session dials, subscribes, and pumps frames until the connection fails.
// subscribed reports whether the session reached SUBSCRIBED.
func (f *LiveFeed) session(ctx context.Context) (subscribed bool, err error) {
	dctx, cancel := context.WithTimeout(ctx, f.cfg.DialTimeout)
	conn, err := f.dial(dctx)
	cancel()
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	sctx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		stop()
		_ = conn.Close()
		wg.Wait()
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
	}()

	// Drain a stale resubscribe signal; the initial subscribe below uses the
	// current set.
	select {
	case <-f.resub:
	default:
	}
	tokens := f.Tokens()
	if err := conn.Subscribe(tokens); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	f.onSubscribed(ctx, len(tokens))
	lastPong := time.Now()

	frames := make(chan []byte, 64)
	readErr := make(chan error, 1)
	readWindow := f.cfg.PingInterval + f.cfg.PongTimeout

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			data, err := conn.ReadFrame(time.Now().Add(readWindow))
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- data:
			case <-sctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case err := <-readErr:
			return true, err
		case data := <-frames:
			if polymarket.IsPong(data) {
				lastPong = time.Now()
				continue
			}
			f.handleFrame(ctx, data)
		case <-ticker.C:
			if time.Since(lastPong) > readWindow {
				return true, fmt.Errorf("heartbeat: %w", ErrNoPong)
			}
			if err := conn.Ping(); err != nil {
				return true, fmt.Errorf("heartbeat: %w", err)
			}
		case <-f.resub:
			tokens := f.Tokens()
			if err := conn.Subscribe(tokens); err != nil {
				return true, fmt.Errorf("resubscribe: %w", err)
			}
			f.logger.DebugContext(ctx, "feed: resubscribed", slog.Int("tokens", len(tokens)))
		}
	}
}

func (f *LiveFeed) onSubscribed(ctx context.Context, tokens int) {
	f.mu.Lock()
	f.state = domain.FeedSubscribed
	f.attempts = 0
	degradedAt := f.degradedAt
	f.degradedAt = time.Time{}
	f.mu.Unlock()

	f.logger.InfoContext(ctx, "feed: subscribed", slog.Int("tokens", tokens))
	if !degradedAt.IsZero() && f.listener != nil {
		f.listener.FeedRestored(ctx, time.Since(degradedAt))
	}
}

func (f *LiveFeed) recordFailure() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	f.reconnects++
	return f.attempts
}

// enterFallback switches to polling. The listener is told only on the first
// transition out of streaming mode.
func (f *LiveFeed) enterFallback(ctx context.Context, attempts int, err error) {
	f.mu.Lock()
	f.state = domain.FeedFallbackPolling
	first := f.degradedAt.IsZero()
	if first {
		f.degradedAt = time.Now()
	}
	f.mu.Unlock()

	if !first {
		return
	}
	f.logger.WarnContext(ctx, "feed: entering fallback polling",
		slog.Int("attempts", attempts),
		slog.String("error", errString(err)),
	)
	if f.listener != nil {
		f.listener.FeedFallback(ctx, attempts, err)
	}
}

// runFallback polls prices until it is time to retry the stream.
func (f *LiveFeed) runFallback(ctx context.Context) {
	retry := time.NewTimer(f.cfg.FallbackRetryInterval)
	defer retry.Stop()
	poll := time.NewTicker(f.cfg.FallbackPollInterval)
	defer poll.Stop()

	f.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-retry.C:
			return
		case <-poll.C:
			f.poll(ctx)
		}
	}
}

func (f *LiveFeed) poll(ctx context.Context) {
	if f.prices == nil {
		return
	}
	for _, tok := range f.Tokens() {
		if ctx.Err() != nil {
			return
		}
		price, err := f.prices.CurrentPrice(ctx, tok)
		if err != nil {
			f.logger.DebugContext(ctx, "feed: poll failed",
				slog.String("token_id", tok),
				slog.String("error", err.Error()),
			)
			continue
		}
		f.publish(ctx, domain.PriceEvent{
			Kind:      domain.EventPolled,
			TokenID:   tok,
			Price:     price,
			Timestamp: time.Now().UTC(),
		})
	}
}

// --------------------------------------------------------------------------
// Frame handling
// --------------------------------------------------------------------------

func (f *LiveFeed) handleFrame(ctx context.Context, data []byte) {
	if polymarket.IsPong(data) {
		return
	}
	f.mu.Lock()
	f.frames++
	f.mu.Unlock()

	events, err := polymarket.ParseFrame(data)
	if err != nil {
		if errors.Is(err, polymarket.ErrUnknownFrame) {
			f.logger.DebugContext(ctx, "feed: skipping frame", slog.String("error", err.Error()))
			return
		}
		f.mu.Lock()
		f.badFrames++
		f.mu.Unlock()
		f.logger.WarnContext(ctx, "feed: skipping unparseable frame",
			slog.String("error", err.Error()),
			slog.Int("bytes", len(data)),
		)
		return
	}
	for _, ev := range events {
		f.publish(ctx, ev)
	}
}

func (f *LiveFeed) publish(ctx context.Context, ev domain.PriceEvent) {
	f.mu.Lock()
	f.latest[ev.TokenID] = ev
	f.lastEvent = ev.Timestamp
	f.mu.Unlock()

	if f.cache != nil {
		if err := f.cache.SetPrice(ctx, ev.TokenID, ev.Price, ev.Timestamp); err != nil {
			f.logger.DebugContext(ctx, "feed: price cache write failed",
				slog.String("token_id", ev.TokenID),
				slog.String("error", err.Error()),
			)
		}
	}

	select {
	case f.events <- ev:
	default:
		f.mu.Lock()
		f.dropped++
		f.mu.Unlock()
	}
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func (f *LiveFeed) setState(s domain.FeedState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *LiveFeed) signalResubscribe() {
	select {
	case f.resub <- struct{}{}:
	default:
	}
}

// lastDistinct returns up to k distinct non-empty ids, keeping the last
// occurrence of each and preserving order.
func lastDistinct(ids []string, k int) []string {
	seen := make(map[string]struct{}, len(ids))
	rev := make([]string, 0, len(ids))
	for i := len(ids) - 1; i >= 0 && len(rev) < k; i-- {
		id := ids[i]
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		rev = append(rev, id)
	}
	out := make([]string, len(rev))
	for i, id := range rev {
		out[len(rev)-1-i] = id
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
