// Package scheduler triggers pipeline runs on a fixed interval.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// RunFunc performs one scheduled run. tick counts from 0.
type RunFunc func(ctx context.Context, tick int) error

// Config configures the scheduler.
type Config struct {
	// Interval between runs. Default: 6 hours.
	Interval time.Duration
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 6 * time.Hour
	}
}

// Scheduler calls a RunFunc once on start, then on every tick.
type Scheduler struct {
	run    RunFunc
	config Config
	logger *slog.Logger
}

// New creates a Scheduler.
func New(run RunFunc, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{run: run, config: cfg, logger: logger}
}

// Run blocks until ctx is cancelled. A run still in progress when the next
// tick fires delays that tick; ticks are never queued up.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	tick := 0
	s.once(ctx, tick)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler: stopped")
			return
		case <-ticker.C:
			tick++
			s.once(ctx, tick)
		}
	}
}

func (s *Scheduler) once(ctx context.Context, tick int) {
	start := time.Now()
	if err := s.run(ctx, tick); err != nil {
		s.logger.Warn("scheduler: run failed", "tick", tick, "error", err)
		return
	}
	s.logger.Info("scheduler: run done", "tick", tick, "duration", time.Since(start).Round(time.Millisecond))
}
