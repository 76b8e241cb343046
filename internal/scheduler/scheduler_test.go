package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hray3182/remindbot/internal/logx"
)

func startScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := New(logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func TestScheduleFires(t *testing.T) {
	s := startScheduler(t)

	var fired atomic.Int32
	s.Schedule(10*time.Millisecond, "a", func(context.Context) { fired.Add(1) })

	_, pending := s.Pending("a")
	require.True(t, pending)
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestCancelPreventsFire(t *testing.T) {
	s := startScheduler(t)

	var fired atomic.Int32
	s.Schedule(30*time.Millisecond, "a", func(context.Context) { fired.Add(1) })
	require.True(t, s.Cancel("a"))
	require.False(t, s.Cancel("a"))

	time.Sleep(80 * time.Millisecond)
	require.Zero(t, fired.Load())
	require.Zero(t, s.Len())
}

func TestScheduleReplacesSameKey(t *testing.T) {
	s := startScheduler(t)

	var mu sync.Mutex
	var got []string
	record := func(v string) Func {
		return func(context.Context) {
			mu.Lock()
			got = append(got, v)
			mu.Unlock()
		}
	}

	s.Schedule(20*time.Millisecond, "a", record("old"))
	s.Schedule(40*time.Millisecond, "a", record("new"))
	require.Equal(t, 1, s.Len())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"new"}, got)
}

func TestCallbacksRunSerially(t *testing.T) {
	s := startScheduler(t)

	var running, maxRunning, total atomic.Int32
	for _, key := range []string{"a", "b", "c", "d"} {
		s.Schedule(5*time.Millisecond, key, func(context.Context) {
			n := running.Add(1)
			for {
				m := maxRunning.Load()
				if n <= m || maxRunning.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			total.Add(1)
		})
	}

	require.Eventually(t, func() bool { return total.Load() == 4 }, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(1), maxRunning.Load())
}

func TestPanickingCallbackDoesNotStopLoop(t *testing.T) {
	s := startScheduler(t)

	var fired atomic.Int32
	s.Schedule(time.Millisecond, "boom", func(context.Context) { panic("boom") })
	s.Schedule(20*time.Millisecond, "ok", func(context.Context) { fired.Add(1) })

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestScheduleIgnoresEmptyKey(t *testing.T) {
	s := New(logx.Nop())
	s.Schedule(time.Millisecond, "  ", func(context.Context) {})
	require.Zero(t, s.Len())
}

func TestStopCancelsPendingWakes(t *testing.T) {
	s := New(logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	var fired atomic.Int32
	s.Schedule(50*time.Millisecond, "a", func(context.Context) { fired.Add(1) })
	cancel()
	<-done

	require.Zero(t, s.Len())
	s.Schedule(time.Millisecond, "b", func(context.Context) { fired.Add(1) })
	require.Zero(t, s.Len())
	time.Sleep(80 * time.Millisecond)
	require.Zero(t, fired.Load())
}
