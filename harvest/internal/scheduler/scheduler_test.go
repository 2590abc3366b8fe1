package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_RunsImmediatelyThenTicks(t *testing.T) {
	// WHAT: The first run happens at start, later runs on the ticker.
	var calls atomic.Int32
	var lastTick atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(func(ctx context.Context, tick int) error {
		lastTick.Store(int32(tick))
		if calls.Add(1) >= 3 {
			cancel()
		}
		return errors.New("ignored")
	}, Config{Interval: 5 * time.Millisecond}, nil)

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	if calls.Load() < 3 {
		t.Fatalf("calls = %d, want >= 3", calls.Load())
	}
	if lastTick.Load() < 2 {
		t.Fatalf("last tick = %d, want >= 2", lastTick.Load())
	}
}

func TestScheduler_DefaultInterval(t *testing.T) {
	s := New(func(context.Context, int) error { return nil }, Config{}, nil)
	if s.config.Interval != 6*time.Hour {
		t.Fatalf("interval = %v", s.config.Interval)
	}
}
