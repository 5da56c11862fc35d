package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestIntervalSchedulerRunsImmediatelyAndRepeats(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	triggered := make(chan struct{}, 10)
	s := NewIntervalScheduler(10 * time.Millisecond)

	if err := s.Start(context.Background(), func(time.Time) {
		runs.Add(1)
		select {
		case triggered <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 0; i < 3; i++ {
		select {
		case <-triggered:
		case <-time.After(2 * time.Second):
			t.Fatalf("run %d was not triggered", i+1)
		}
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	if runs.Load() != after {
		t.Fatalf("job kept running after Stop")
	}
}

func TestIntervalSchedulerNeverOverlaps(t *testing.T) {
	t.Parallel()

	var (
		active  atomic.Int32
		overlap atomic.Bool
		runs    atomic.Int32
	)
	s := NewIntervalScheduler(time.Millisecond)

	_ = s.Start(context.Background(), func(time.Time) {
		if active.Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(5 * time.Millisecond)
		runs.Add(1)
		active.Add(-1)
	})

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	_ = s.Stop(context.Background())

	if overlap.Load() {
		t.Fatalf("runs overlapped")
	}
	if runs.Load() < 3 {
		t.Fatalf("expected at least 3 runs, got %d", runs.Load())
	}
}

func TestIntervalSchedulerStopsOnContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	s := NewIntervalScheduler(time.Hour)
	started := make(chan struct{}, 1)
	_ = s.Start(ctx, func(time.Time) { started <- struct{}{} })

	<-started
	cancel()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not exit after cancellation")
	}
}

func TestIntervalSchedulerStopBeforeStart(t *testing.T) {
	t.Parallel()

	if err := NewIntervalScheduler(0).Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
