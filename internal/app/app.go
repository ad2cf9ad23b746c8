// Package app provides the top-level lifecycle of the new-market bot. It
// wires the stores, caches, blob storage, market clients, live feed,
// balance aggregator and position engine together and runs them until the
// context is cancelled.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/newmarketbot/internal/config"
	"github.com/alanyoungcy/newmarketbot/internal/server"
	"github.com/alanyoungcy/newmarketbot/internal/server/handler"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the background goroutines and blocks
// until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "app: starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.String("storage", a.cfg.Storage.Driver),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	a.logger.InfoContext(ctx, "app: wired",
		slog.String("user", deps.UserAddress),
		slog.Bool("read_only", deps.ReadOnly),
		slog.Bool("feed", deps.Feed != nil),
		slog.Bool("redis", deps.PriceCache != nil),
		slog.Bool("s3", deps.Archiver != nil),
		slog.Int("event_streams", deps.Events.Len()),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Notifier.Run(ctx)
	})

	if deps.Hub != nil {
		g.Go(func() error {
			return deps.Hub.Run(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		srv := server.NewServer(server.Config{
			Port:          a.cfg.Server.Port,
			APIKey:        a.cfg.Server.APIKey,
			CORSOrigins:   a.cfg.Server.CORSOrigins,
			RatePerSecond: a.cfg.Server.RateLimitPerSecond,
			RateBurst:     a.cfg.Server.RateLimitBurst,
		}, a.handlers(deps), deps.Hub, a.logger)
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	if deps.Feed != nil {
		deps.Feed.Start(ctx)
		g.Go(func() error {
			<-ctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Feed.StopTimeout.Duration)
			defer cancel()
			return deps.Feed.Stop(stopCtx)
		})
	}

	g.Go(func() error {
		return deps.Engine.Run(ctx, deps.ExtraTasks...)
	})

	err = g.Wait()
	a.logger.Info("app: stopped")
	return err
}

// handlers builds the HTTP handlers and registers a status section per
// running component.
func (a *App) handlers(deps *Dependencies) server.Handlers {
	status := handler.NewStatusHandler(a.cfg.Mode)
	status.Add("engine", func() any { return deps.Engine.Stats() })
	status.Add("tasks", func() any { return deps.Engine.TaskStats() })
	status.Add("filter", func() any { return deps.Filter.Stats() })
	status.Add("discovery", func() any {
		return map[string]int{"seen_markets": deps.Discovery.SeenCount()}
	})
	if deps.Feed != nil {
		status.Add("feed", func() any { return deps.Feed.Status() })
	}
	if deps.Monitor != nil {
		status.Add("balance", func() any { return deps.Monitor.Stats() })
	}
	if deps.Hub != nil {
		status.Add("ws", func() any {
			return map[string]int{"clients": deps.Hub.ClientCount()}
		})
	}

	return server.Handlers{
		Health:    handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Positions: handler.NewPositionHandler(deps.Store, a.logger),
		Status:    status,
		Events:    handler.NewEventsHandler(deps.EventLog, a.logger),
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("app: shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
