package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// TickFunc is invoked on every aligned interval.
type TickFunc func(ctx context.Context, bucket time.Time) error

// Options tune scheduler behaviour. A non-empty Cron expression (standard
// five-field syntax) takes precedence over Interval.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	Cron         string
	// RunImmediately fires one tick before waiting for the first slot.
	RunImmediately bool
}

// Scheduler drives aligned execution of collection cycles.
type Scheduler struct {
	opts     Options
	schedule cron.Schedule
	now      func() time.Time
	logger   zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
	if opts.Cron != "" {
		schedule, err := cron.ParseStandard(opts.Cron)
		if err != nil {
			return nil, fmt.Errorf("parse cron %q: %w", opts.Cron, err)
		}
		s.schedule = schedule
		return s, nil
	}
	if opts.Interval <= 0 {
		return nil, errors.New("scheduler interval must be positive")
	}
	return s, nil
}

// Run blocks, invoking the tick function at each slot until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if s.opts.RunImmediately {
		s.fire(ctx, tick, s.now())
	}

	next := s.Next(s.now())
	for {
		delay := next.Sub(s.now())
		if delay < 0 {
			next = s.Next(s.now())
			delay = next.Sub(s.now())
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		s.fire(ctx, tick, s.bucketStart(next))
		next = s.Next(next)
	}
}

func (s *Scheduler) fire(ctx context.Context, tick TickFunc, bucket time.Time) {
	s.logger.Info().Time("bucket", bucket).Msg("executing scheduled tick")
	if err := tick(ctx, bucket); err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("tick execution failed")
	}
}

// Next returns the first slot strictly after now.
func (s *Scheduler) Next(now time.Time) time.Time {
	if s.schedule != nil {
		return s.schedule.Next(now).UTC()
	}
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if s.schedule != nil || !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
