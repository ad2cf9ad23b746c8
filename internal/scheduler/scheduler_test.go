package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSupervisor_FailuresDoNotStopTask(t *testing.T) {
	var calls atomic.Int32
	task := Task{
		Name:     "flaky",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			n := calls.Add(1)
			if n == 2 {
				panic("bad cycle")
			}
			if n%2 == 1 {
				return errors.New("transient")
			}
			return nil
		},
	}

	var mu sync.Mutex
	var failed []string
	s := NewSupervisor(testLogger(), task)
	s.OnError(func(_ context.Context, name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, name)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	assert.GreaterOrEqual(t, calls.Load(), int32(4))
	mu.Lock()
	assert.NotEmpty(t, failed)
	mu.Unlock()

	st := s.Stats()
	require.Len(t, st, 1)
	assert.Equal(t, "flaky", st[0].Name)
	assert.Greater(t, st[0].Failures, int64(1))
	assert.EqualValues(t, calls.Load(), st[0].Runs)
}

func TestSupervisor_IterationsNeverOverlap(t *testing.T) {
	var running, maxRunning atomic.Int32
	task := Task{
		Name:     "slow",
		Interval: time.Millisecond,
		Run: func(ctx context.Context) error {
			n := running.Add(1)
			if n > maxRunning.Load() {
				maxRunning.Store(n)
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	require.NoError(t, NewSupervisor(testLogger(), task).Run(ctx))
	assert.Equal(t, int32(1), maxRunning.Load())
}

func TestSupervisor_TasksRunConcurrently(t *testing.T) {
	started := make(chan string, 2)
	block := func(name string) Task {
		return Task{Name: name, Run: func(ctx context.Context) error {
			started <- name
			<-ctx.Done()
			return ctx.Err()
		}}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewSupervisor(testLogger(), block("a"), block("b")).Run(ctx) }()

	seen := map[string]bool{}
	for range 2 {
		select {
		case n := <-started:
			seen[n] = true
		case <-time.After(time.Second):
			t.Fatal("tasks did not start concurrently")
		}
	}
	assert.Len(t, seen, 2)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop")
	}
}

func TestSupervisor_RejectsNilRun(t *testing.T) {
	err := NewSupervisor(testLogger(), Task{Name: "empty"}).Run(context.Background())
	assert.Error(t, err)
}
