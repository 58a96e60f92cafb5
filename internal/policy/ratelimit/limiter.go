// Package ratelimit implements per-origin admission control and per-backend
// failure backoff for the crawl workers.
package ratelimit

import (
	"sync"
	"time"

	"github.com/JakeFAU/link-crawler/internal/crawler"
)

// Config holds admission controller limits.
type Config struct {
	// Window is the fixed counting window.
	Window time.Duration
	// MaxPerWindow is the count past which further requests in the window are denied.
	MaxPerWindow int
	// MaxStreak caps the failure streak and therefore the backoff at 2^MaxStreak seconds.
	MaxStreak int
	// Cooldown is how long an origin stays denied after overflowing a window.
	Cooldown time.Duration
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		Window:       time.Second,
		MaxPerWindow: 24,
		MaxStreak:    8,
		Cooldown:     time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Window <= 0 {
		c.Window = def.Window
	}
	if c.Window < time.Millisecond {
		c.Window = time.Millisecond
	}
	if c.MaxPerWindow <= 0 {
		c.MaxPerWindow = def.MaxPerWindow
	}
	if c.MaxStreak <= 0 {
		c.MaxStreak = def.MaxStreak
	}
	if c.Cooldown <= 0 {
		c.Cooldown = def.Cooldown
	}
	return c
}

// State is a point-in-time copy of one origin's admission state.
type State struct {
	Window           int64
	Count            int
	RateLimitedUntil time.Time
	FailureStreak    int
}

type originEntry struct {
	mu    sync.Mutex
	state State
}

// Limiter tracks admission state per origin. Entries are created lazily and
// kept for the lifetime of the process; each is guarded by its own mutex.
type Limiter struct {
	cfg     Config
	clock   crawler.Clock
	origins sync.Map
}

// New creates a Limiter. A nil clock uses time.Now.
func New(cfg Config, clock crawler.Clock) *Limiter {
	if clock == nil {
		clock = crawler.ClockFunc(time.Now)
	}
	return &Limiter{cfg: cfg.withDefaults(), clock: clock}
}

func (l *Limiter) entry(origin string) *originEntry {
	if e, ok := l.origins.Load(origin); ok {
		return e.(*originEntry)
	}
	e, _ := l.origins.LoadOrStore(origin, &originEntry{})
	return e.(*originEntry)
}

// CanRequest decides whether a request to origin may be issued now and, if
// so, counts it against the current window.
func (l *Limiter) CanRequest(origin string) bool {
	now := l.clock.Now()
	e := l.entry(origin)

	e.mu.Lock()
	defer e.mu.Unlock()

	window := now.UnixMilli() / l.cfg.Window.Milliseconds()
	if window != e.state.Window {
		e.state.Window = window
		e.state.Count = 0
	}
	if now.Before(e.state.RateLimitedUntil) {
		return false
	}
	if e.state.Count > l.cfg.MaxPerWindow {
		e.state.RateLimitedUntil = now.Add(l.cfg.Cooldown)
		return false
	}
	e.state.Count++
	return true
}

// IncrFailure lengthens the origin's failure streak and denies it for 2^streak seconds.
func (l *Limiter) IncrFailure(origin string) {
	now := l.clock.Now()
	e := l.entry(origin)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.FailureStreak = min(l.cfg.MaxStreak, e.state.FailureStreak+1)
	e.state.RateLimitedUntil = now.Add(time.Duration(1<<e.state.FailureStreak) * time.Second)
}

// DecrFailure shortens the origin's failure streak by one.
func (l *Limiter) DecrFailure(origin string) {
	e := l.entry(origin)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.FailureStreak = max(0, e.state.FailureStreak-1)
}

// Snapshot returns a copy of the origin's state and whether it has been seen.
func (l *Limiter) Snapshot(origin string) (State, bool) {
	v, ok := l.origins.Load(origin)
	if !ok {
		return State{}, false
	}
	e := v.(*originEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, true
}
