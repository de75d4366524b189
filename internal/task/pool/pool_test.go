package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"prodsched/internal/eventbus"
	logx "prodsched/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stopPool(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestRunsTasksConcurrently(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 3, QueueSize: 8}, logx.Nop(), nil)
	s.Start(context.Background())
	defer stopPool(t, s)

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	release := make(chan struct{})
	for i := 0; i < 3; i++ {
		wg.Add(1)
		require.NoError(t, s.Enqueue(Task{JobID: "J", Run: func(context.Context) error {
			defer wg.Done()
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return nil
		}}))
	}
	require.Eventually(t, func() bool { return peak.Load() == 3 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()
	require.Eventually(t, func() bool { return s.Stats().Completed == 3 }, time.Second, 5*time.Millisecond)
}

func TestQueueFullDropsAndPublishes(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(Config{Workers: 1, QueueSize: 1}, logx.Nop(), bus)
	s.Start(context.Background())
	defer stopPool(t, s)

	release := make(chan struct{})
	started := make(chan struct{})
	block := Task{JobID: "busy", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}
	require.NoError(t, s.Enqueue(block))
	<-started
	require.NoError(t, s.Enqueue(Task{JobID: "queued", Run: func(context.Context) error { return nil }}))
	err := s.Enqueue(Task{JobID: "dropped", Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, uint64(1), s.Stats().Dropped)
	close(release)

	var sawDrop bool
	timeout := time.After(time.Second)
	for !sawDrop {
		select {
		case ev := <-events:
			if ev.Type == eventbus.TypeFireDropped {
				fe := ev.Data.(eventbus.FireEvent)
				assert.Equal(t, "dropped", fe.JobID)
				assert.Equal(t, "queue_full", fe.Reason)
				sawDrop = true
			}
		case <-timeout:
			t.Fatal("drop event not published")
		}
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	err := s.Enqueue(Task{Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrStopped)

	s.Start(context.Background())
	stopPool(t, s)
	err = s.Enqueue(Task{Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrStopped)
	assert.Error(t, s.Enqueue(Task{}))
}

func TestWorkerSurvivesPanic(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 1, QueueSize: 4}, logx.Nop(), nil)
	s.Start(context.Background())
	defer stopPool(t, s)

	require.NoError(t, s.Enqueue(Task{JobID: "bad", Run: func(context.Context) error { panic("boom") }}))
	ran := make(chan struct{})
	require.NoError(t, s.Enqueue(Task{JobID: "good", Run: func(context.Context) error { close(ran); return nil }}))
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive panic")
	}
}

func TestStopWaitsForRunningTask(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 1, QueueSize: 1}, logx.Nop(), nil)
	s.Start(context.Background())

	started := make(chan struct{})
	var finished atomic.Bool
	require.NoError(t, s.Enqueue(Task{Run: func(ctx context.Context) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(ctx.Err() == nil)
		return nil
	}}))
	<-started
	stopPool(t, s)
	assert.True(t, finished.Load(), "running task completes with a live context")
}

func TestStopDeadlineCancelsRunningTask(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 1, QueueSize: 1}, logx.Nop(), nil)
	s.Start(context.Background())

	started := make(chan struct{})
	require.NoError(t, s.Enqueue(Task{Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
