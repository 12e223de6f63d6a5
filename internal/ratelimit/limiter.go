// Package ratelimit guards outbound calls to the scheduling provider.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/wolfman30/exam-scheduling/internal/apperr"
	"github.com/wolfman30/exam-scheduling/internal/observability/metrics"
	"github.com/wolfman30/exam-scheduling/pkg/logging"
)

// Config bounds provider traffic per window.
type Config struct {
	MaxPerSecond int
	MaxPerHour   int
}

// Limiter tracks a per-second and a per-hour budget with explicit reset times.
// Callers over the per-second budget wait for the next window; callers over the
// hourly budget fail immediately.
type Limiter struct {
	mu           sync.Mutex
	maxPerSecond int
	maxPerHour   int

	secondCount   int
	secondResetAt time.Time
	hourCount     int
	hourResetAt   time.Time

	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *logging.Logger
	metrics *metrics.SchedulingMetrics
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock replaces the time source and the wait function, mainly for tests.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

func WithLogger(logger *logging.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithMetrics(m *metrics.SchedulingMetrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// New creates a limiter. Non-positive limits fall back to 10/s and 5000/h.
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.MaxPerSecond <= 0 {
		cfg.MaxPerSecond = 10
	}
	if cfg.MaxPerHour <= 0 {
		cfg.MaxPerHour = 5000
	}
	l := &Limiter{
		maxPerSecond: cfg.MaxPerSecond,
		maxPerHour:   cfg.MaxPerHour,
		now:          time.Now,
		sleep:        sleepContext,
		logger:       logging.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until a per-second slot is free and then consumes one slot in
// both windows. It returns a RATE_LIMIT_EXCEEDED error without waiting when the
// hourly budget is spent, and ctx.Err() if ctx ends while waiting.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait, err := l.tryAcquire()
		if err != nil {
			return err
		}
		if wait <= 0 {
			return nil
		}
		l.metrics.ObserveRateLimitWait()
		l.logger.Debug("provider rate limit reached, waiting for next window", "wait_ms", wait.Milliseconds())
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// tryAcquire consumes a slot and returns zero, or returns how long to wait
// before the per-second window resets. The lock is never held while waiting.
func (l *Limiter) tryAcquire() (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !now.Before(l.secondResetAt) {
		l.secondCount = 0
		l.secondResetAt = now.Add(time.Second)
	}
	if !now.Before(l.hourResetAt) {
		l.hourCount = 0
		l.hourResetAt = now.Add(time.Hour)
	}

	if l.hourCount >= l.maxPerHour {
		retryAfter := l.hourResetAt.Sub(now)
		l.metrics.ObserveRateLimitExceeded()
		l.logger.Warn("provider hourly rate limit exhausted", "retry_after_s", retryAfter.Seconds())
		return 0, apperr.RateLimited(retryAfter)
	}
	if l.secondCount >= l.maxPerSecond {
		return l.secondResetAt.Sub(now), nil
	}

	l.secondCount++
	l.hourCount++
	return 0, nil
}

// Snapshot reports the counters in the current windows.
func (l *Limiter) Snapshot() (perSecond, perHour int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.secondCount, l.hourCount
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
