package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tick = 10 * time.Millisecond

func TestEveryRunsRepeatedly(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	var runs atomic.Int32
	require.NoError(t, s.Every("count", tick, func(context.Context) { runs.Add(1) }))

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, tick)
	assert.Equal(t, []string{"count"}, s.Running())
}

func TestEveryRejectsBadInterval(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	assert.ErrorIs(t, s.Every("x", 0, func(context.Context) {}), ErrInvalidInterval)
	assert.Empty(t, s.Running())
}

func TestCancelStopsJob(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	var runs atomic.Int32
	require.NoError(t, s.Every("count", tick, func(context.Context) { runs.Add(1) }))
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, time.Second, tick)

	assert.True(t, s.Cancel("count"))
	assert.False(t, s.Cancel("count"))

	after := runs.Load()
	time.Sleep(5 * tick)
	assert.Equal(t, after, runs.Load())
	assert.Empty(t, s.Running())
}

func TestEveryReplacesSameName(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	var first, second atomic.Int32
	require.NoError(t, s.Every("job", tick, func(context.Context) { first.Add(1) }))
	require.Eventually(t, func() bool { return first.Load() >= 1 }, time.Second, tick)

	require.NoError(t, s.Every("job", tick, func(context.Context) { second.Add(1) }))
	frozen := first.Load()

	require.Eventually(t, func() bool { return second.Load() >= 2 }, time.Second, tick)
	assert.Equal(t, frozen, first.Load())
	assert.Len(t, s.Running(), 1)
}

func TestPanicDoesNotKillLoop(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	var runs atomic.Int32
	require.NoError(t, s.Every("flaky", tick, func(context.Context) {
		if runs.Add(1) == 1 {
			panic("first run fails")
		}
	}))

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, tick)
}

func TestTasksNeverOverlap(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	var active, overlaps, runs atomic.Int32
	task := func(context.Context) {
		if active.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
		runs.Add(1)
	}
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, s.Every(name, time.Millisecond, task))
	}

	require.Eventually(t, func() bool { return runs.Load() >= 20 }, 2*time.Second, tick)
	assert.Zero(t, overlaps.Load())
}

func TestStopIsIdempotentAndCancelsContext(t *testing.T) {
	s := New(nil)

	var mu sync.Mutex
	var seen context.Context
	require.NoError(t, s.Every("ctx", tick, func(ctx context.Context) {
		mu.Lock()
		seen = ctx
		mu.Unlock()
	}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen != nil
	}, time.Second, tick)

	s.Stop()
	s.Stop()

	mu.Lock()
	assert.ErrorIs(t, seen.Err(), context.Canceled)
	mu.Unlock()
	assert.ErrorIs(t, s.Every("late", tick, func(context.Context) {}), ErrStopped)
	assert.Empty(t, s.Running())
}
