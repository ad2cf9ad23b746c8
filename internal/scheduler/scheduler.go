// Package scheduler runs named periodic tasks under one supervisor.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task is a unit of periodic work. Run is called once at start and then
// Interval after each previous call returns, so iterations never overlap.
// An Interval of zero means Run is long-lived and is restarted only if it
// returns before the context is done.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// TaskStats records the last outcome of a task.
type TaskStats struct {
	Name      string    `json:"name"`
	Runs      int64     `json:"runs"`
	Failures  int64     `json:"failures"`
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
}

// ErrorHandler is told about every failed iteration.
type ErrorHandler func(ctx context.Context, task string, err error)

// Supervisor runs tasks concurrently. A failed or panicking iteration is
// logged and the task continues on its next tick; only context
// cancellation stops a task.
type Supervisor struct {
	tasks    []Task
	logger   *slog.Logger
	onError  ErrorHandler
	minDelay time.Duration

	mu    sync.Mutex
	stats map[string]*TaskStats
}

// NewSupervisor creates a Supervisor for tasks.
func NewSupervisor(logger *slog.Logger, tasks ...Task) *Supervisor {
	s := &Supervisor{
		tasks:    tasks,
		logger:   logger.With(slog.String("component", "scheduler")),
		minDelay: time.Second,
		stats:    make(map[string]*TaskStats, len(tasks)),
	}
	for _, t := range tasks {
		s.stats[t.Name] = &TaskStats{Name: t.Name}
	}
	return s
}

// OnError registers a handler invoked for every failed iteration.
func (s *Supervisor) OnError(h ErrorHandler) {
	s.onError = h
}

// Run starts every task and blocks until ctx is cancelled and all tasks
// have returned.
func (s *Supervisor) Run(ctx context.Context) error {
	for _, t := range s.tasks {
		if t.Run == nil {
			return fmt.Errorf("scheduler: task %q has no Run func", t.Name)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range s.tasks {
		g.Go(func() error {
			s.loop(gctx, t)
			return nil
		})
	}
	s.logger.InfoContext(ctx, "scheduler: started", slog.Int("tasks", len(s.tasks)))
	err := g.Wait()
	s.logger.InfoContext(ctx, "scheduler: stopped")
	return err
}

func (s *Supervisor) loop(ctx context.Context, t Task) {
	for {
		s.runOnce(ctx, t)

		wait := t.Interval
		if wait <= 0 {
			// A long-lived task returned early; avoid a hot restart loop.
			wait = s.minDelay
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context, t Task) {
	if ctx.Err() != nil {
		return
	}
	err := safeRun(ctx, t)
	s.record(t.Name, err)

	if err == nil || (errors.Is(err, context.Canceled) && ctx.Err() != nil) {
		return
	}
	s.logger.WarnContext(ctx, "scheduler: task iteration failed",
		slog.String("task", t.Name),
		slog.String("error", err.Error()),
	)
	if s.onError != nil {
		s.onError(ctx, t.Name, err)
	}
}

func safeRun(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: task %q panicked: %v", t.Name, r)
		}
	}()
	return t.Run(ctx)
}

func (s *Supervisor) record(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats[name]
	st.Runs++
	st.LastRun = time.Now().UTC()
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
	} else {
		st.LastError = ""
	}
}

// Stats returns a snapshot of per-task counters in registration order.
func (s *Supervisor) Stats() []TaskStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskStats, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *s.stats[t.Name])
	}
	return out
}
