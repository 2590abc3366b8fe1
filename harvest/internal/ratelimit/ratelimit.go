// Package ratelimit gates calls to quota-constrained external APIs with a
// sliding window over the last N admission timestamps.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter admits at most limit calls per window. Timestamps live in a ring
// buffer of size limit; the write cursor always points at the oldest slot.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	slots  []time.Time
	cursor int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(l *Limiter) { l.now = fn }
}

// WithSleep replaces the blocking wait (for testing).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) { l.sleep = fn }
}

// New creates a limiter admitting limit calls per window. A limit <= 0
// returns nil, which admits everything.
func New(limit int, window time.Duration, opts ...Option) *Limiter {
	if limit <= 0 {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	l := &Limiter{
		limit:  limit,
		window: window,
		slots:  make([]time.Time, limit),
		now:    time.Now,
		sleep:  sleepCtx,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Admit blocks until the caller may proceed, then records the call.
// If ctx is cancelled while waiting, nothing is recorded and ctx.Err() is
// returned.
func (l *Limiter) Admit(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if wait := l.waitFor(l.now()); wait > 0 {
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
	l.slots[l.cursor] = l.now()
	l.cursor = (l.cursor + 1) % l.limit
	return nil
}

// waitFor returns how long a call at now must wait for the window to clear.
func (l *Limiter) waitFor(now time.Time) time.Duration {
	var count int
	var oldest time.Time
	for _, ts := range l.slots {
		if ts.IsZero() || now.Sub(ts) >= l.window {
			continue
		}
		count++
		if oldest.IsZero() || ts.Before(oldest) {
			oldest = ts
		}
	}
	if count < l.limit {
		return 0
	}
	return oldest.Add(l.window).Sub(now)
}

// Limit returns the configured ceiling.
func (l *Limiter) Limit() int {
	if l == nil {
		return 0
	}
	return l.limit
}

// Window returns the sliding window length.
func (l *Limiter) Window() time.Duration {
	if l == nil {
		return 0
	}
	return l.window
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
