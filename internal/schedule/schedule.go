// Package schedule fires periodic tasks: a fixed interval for the contract
// scan and calendar-day boundaries for counter rollover.
package schedule

import (
	"context"
	"log/slog"
	"time"
)

// Task is invoked with the time it fired at.
type Task func(ctx context.Context, at time.Time)

// Scheduler runs tasks until their context is cancelled.
//
// Thread-safety: a Scheduler is safe for concurrent use; each Every or
// Daily call owns its own loop.
type Scheduler struct {
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time
	logger *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithNow sets the wall clock used to find day boundaries.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAfter replaces time.After, for tests.
func WithAfter(after func(time.Duration) <-chan time.Time) Option {
	return func(s *Scheduler) {
		if after != nil {
			s.after = after
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{now: time.Now, after: time.After, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Every runs task every interval until ctx is done. A task that overruns
// the interval delays the next run rather than overlapping it.
func (s *Scheduler) Every(ctx context.Context, name string, interval time.Duration, task Task) error {
	if interval <= 0 {
		s.logger.Warn("schedule disabled", "task", name, "interval", interval)
		<-ctx.Done()
		return nil
	}
	s.logger.Debug("schedule started", "task", name, "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case at := <-s.after(interval):
			s.run(ctx, name, at, task)
		}
	}
}

// Daily runs task at every midnight of loc until ctx is done.
func (s *Scheduler) Daily(ctx context.Context, name string, loc *time.Location, task Task) error {
	if loc == nil {
		loc = time.UTC
	}
	for {
		now := s.now()
		next := NextMidnight(now, loc)
		s.logger.Debug("next daily run", "task", name, "at", next)
		select {
		case <-ctx.Done():
			return nil
		case <-s.after(next.Sub(now)):
			s.run(ctx, name, next, task)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, name string, at time.Time, task Task) {
	if ctx.Err() != nil {
		return
	}
	started := time.Now()
	task(ctx, at)
	s.logger.Debug("scheduled task ran", "task", name, "duration", time.Since(started))
}

// NextMidnight returns the first midnight in loc strictly after t.
func NextMidnight(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}
