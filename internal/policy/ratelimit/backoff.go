package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Sleeper is the clock surface Backoff needs.
type Sleeper interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// BackoffConfig configures a Backoff.
type BackoffConfig struct {
	// MaxStreak caps the failure streak.
	MaxStreak int
	// Jitter draws the actual delay for a ceiling of 2^streak seconds. Nil uses
	// full jitter, a uniform draw from [0, ceiling).
	Jitter func(ceiling time.Duration) time.Duration
}

// FullJitter returns a uniform duration in [0, ceiling).
func FullJitter(ceiling time.Duration) time.Duration {
	if ceiling <= 0 {
		return 0
	}
	return rand.N(ceiling)
}

// NoJitter returns the ceiling unchanged.
func NoJitter(ceiling time.Duration) time.Duration { return ceiling }

// Backoff is the failure state of a single archive backend.
type Backoff struct {
	mu        sync.Mutex
	streak    int
	until     time.Time
	maxStreak int
	jitter    func(time.Duration) time.Duration
	clock     Sleeper
}

// NewBackoff creates a Backoff that starts available.
func NewBackoff(cfg BackoffConfig, clock Sleeper) *Backoff {
	if cfg.MaxStreak <= 0 {
		cfg.MaxStreak = DefaultConfig().MaxStreak
	}
	if cfg.Jitter == nil {
		cfg.Jitter = FullJitter
	}
	return &Backoff{maxStreak: cfg.MaxStreak, jitter: cfg.Jitter, clock: clock}
}

// Incr records a retryable failure and pushes the next attempt out.
func (b *Backoff) Incr() {
	now := b.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streak = min(b.maxStreak, b.streak+1)
	b.until = now.Add(b.jitter(time.Duration(1<<b.streak) * time.Second))
}

// Decr records a success or a definitive negative.
func (b *Backoff) Decr() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streak = max(0, b.streak-1)
}

// Until returns the earliest time the backend should be used again.
func (b *Backoff) Until() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.until
}

// Streak returns the current failure streak.
func (b *Backoff) Streak() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streak
}

// Wait sleeps until the backend is available, for at most maxWait when it is positive.
func (b *Backoff) Wait(ctx context.Context, maxWait time.Duration) error {
	d := b.Until().Sub(b.clock.Now())
	if maxWait > 0 && d > maxWait {
		d = maxWait
	}
	if d <= 0 {
		return ctx.Err()
	}
	return b.clock.Sleep(ctx, d)
}
