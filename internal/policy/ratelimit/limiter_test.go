package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/link-crawler/internal/clock/fake"
)

func newTestLimiter(start time.Time) (*Limiter, *fake.Clock) {
	clk := fake.New(start)
	return New(Config{}, clk), clk
}

func TestLimiterAdmitsTwentyFivePerWindow(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(time.Unix(1_000, 0))
	allowed := 0
	for i := 0; i < 30; i++ {
		if l.CanRequest("example.com") {
			allowed++
			require.LessOrEqual(t, i, 24, "call %d should have been denied", i)
		}
	}
	require.Equal(t, 25, allowed)

	state, ok := l.Snapshot("example.com")
	require.True(t, ok)
	require.Equal(t, 25, state.Count)
	require.Equal(t, time.Unix(1_001, 0), state.RateLimitedUntil)
}

func TestLimiterConcurrentCallsBounded(t *testing.T) {
	t.Parallel()

	for _, callers := range []int{5, 25, 200} {
		l, _ := newTestLimiter(time.Unix(2_000, 0))
		var allowed atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if l.CanRequest("busy.example") {
					allowed.Add(1)
				}
			}()
		}
		wg.Wait()
		require.Equal(t, int64(min(callers, 25)), allowed.Load(), "callers=%d", callers)
	}
}

func TestLimiterCooldownSpansNextWindow(t *testing.T) {
	t.Parallel()

	l, clk := newTestLimiter(time.Unix(3_000, 500*int64(time.Millisecond)))
	for i := 0; i < 26; i++ {
		l.CanRequest("example.com")
	}

	clk.Advance(600 * time.Millisecond)
	require.False(t, l.CanRequest("example.com"), "still cooling in the next window")

	clk.Advance(500 * time.Millisecond)
	require.True(t, l.CanRequest("example.com"))
}

func TestLimiterOriginsAreIndependent(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(time.Unix(4_000, 0))
	l.IncrFailure("down.example")
	require.False(t, l.CanRequest("down.example"))
	require.True(t, l.CanRequest("up.example"))
}

func TestLimiterFailureBackoffDoubles(t *testing.T) {
	t.Parallel()

	start := time.Unix(5_000, 0)
	l, clk := newTestLimiter(start)

	for _, want := range []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second} {
		l.IncrFailure("flaky.example")
		state, _ := l.Snapshot("flaky.example")
		require.Equal(t, clk.Now().Add(want), state.RateLimitedUntil)
		require.False(t, l.CanRequest("flaky.example"))
	}

	clk.Advance(8 * time.Second)
	require.True(t, l.CanRequest("flaky.example"))
}

func TestLimiterStreakBounds(t *testing.T) {
	t.Parallel()

	l, clk := newTestLimiter(time.Unix(6_000, 0))
	for i := 0; i < 12; i++ {
		l.IncrFailure("o")
	}
	state, _ := l.Snapshot("o")
	require.Equal(t, 8, state.FailureStreak)
	require.Equal(t, clk.Now().Add(256*time.Second), state.RateLimitedUntil)

	for i := 0; i < 12; i++ {
		l.DecrFailure("o")
	}
	state, _ = l.Snapshot("o")
	require.Equal(t, 0, state.FailureStreak)
}

func TestLimiterSnapshotUnknownOrigin(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(time.Unix(7_000, 0))
	_, ok := l.Snapshot("never.example")
	require.False(t, ok)
}
