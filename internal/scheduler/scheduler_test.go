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

	"github.com/evetabi/predex/internal/config"
	"github.com/evetabi/predex/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	err      error
	released int
}

func (l *fakeLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.held[key] {
		return nil, notify.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		l.released++
	}, nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func cfg() config.SchedulerConfig {
	c := config.Defaults().Scheduler
	c.BatchLimit = 7
	return c
}

func TestRunOnce_PassesLimitAndReleasesLock(t *testing.T) {
	var gotLimit int
	s := NewScheduler(nil, cfg(), quiet())
	l := &fakeLocker{held: map[string]bool{}}
	s.SetLocker(l)

	s.runOnce(context.Background(), Sweep{Name: "settle", Run: func(_ context.Context, limit int) (int, error) {
		gotLimit = limit
		return 3, nil
	}})
	assert.Equal(t, 7, gotLimit)
	assert.Equal(t, 1, l.released)
	assert.Empty(t, l.held)
}

func TestRunOnce_SkipsWhenLockHeld(t *testing.T) {
	s := NewScheduler(nil, cfg(), quiet())
	s.SetLocker(&fakeLocker{held: map[string]bool{"sweep:close": true}})

	called := false
	s.runOnce(context.Background(), Sweep{Name: "close", Run: func(context.Context, int) (int, error) {
		called = true
		return 0, nil
	}})
	assert.False(t, called)
}

func TestRunOnce_SkipsWhenLockerFails(t *testing.T) {
	s := NewScheduler(nil, cfg(), quiet())
	s.SetLocker(&fakeLocker{err: errors.New("redis down")})

	called := false
	s.runOnce(context.Background(), Sweep{Name: "close", Run: func(context.Context, int) (int, error) {
		called = true
		return 0, nil
	}})
	assert.False(t, called, "a sweep never runs without its lock")
}

func TestRunOnce_RecoversPanic(t *testing.T) {
	s := NewScheduler(nil, cfg(), quiet())
	assert.NotPanics(t, func() {
		s.runOnce(context.Background(), Sweep{Name: "audit", Run: func(context.Context, int) (int, error) {
			panic("boom")
		}})
	})
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	var calls int64
	sweeps := []Sweep{
		{Name: "fast", Interval: 5 * time.Millisecond, Run: func(context.Context, int) (int, error) {
			atomic.AddInt64(&calls, 1)
			return 1, nil
		}},
		{Name: "disabled", Interval: 0, Run: func(context.Context, int) (int, error) {
			t.Error("a zero interval disables the sweep")
			return 0, nil
		}},
	}
	s := NewScheduler(sweeps, cfg(), quiet())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return atomic.LoadInt64(&calls) >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
