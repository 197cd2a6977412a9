package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnlimitedByDefault(t *testing.T) {
	l := New(Limits{})
	for i := 0; i < 100; i++ {
		throttled, err := l.Wait(context.Background(), "gpt-4o", 10_000)
		require.NoError(t, err)
		assert.False(t, throttled)
	}
	assert.Equal(t, float64(-1), l.Status("gpt-4o").TokensAvailable)
}

func TestAllowDrainsBucket(t *testing.T) {
	l := New(Limits{RequestsPerMinute: 2})
	require.NoError(t, l.Allow("claude", 0))
	require.NoError(t, l.Allow("claude", 0))
	assert.ErrorIs(t, l.Allow("claude", 0), ErrRateLimit)

	assert.NoError(t, l.Allow("other-model", 0), "models have separate buckets")
}

func TestOversizedRequestRejected(t *testing.T) {
	l := New(Limits{})
	l.Configure("small", Limits{TokensPerMinute: 100})

	_, err := l.Wait(context.Background(), "small", 101)
	assert.ErrorIs(t, err, ErrRateLimit)
}

func TestWaitThrottlesAndHonorsContext(t *testing.T) {
	l := New(Limits{RequestsPerMinute: 1})
	ctx := context.Background()

	throttled, err := l.Wait(ctx, "m", 0)
	require.NoError(t, err)
	assert.False(t, throttled)

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	throttled, err = l.Wait(ctx, "m", 0)
	assert.True(t, throttled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDailyBudget(t *testing.T) {
	day := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	l := New(Limits{DailyBudgetUSD: 1.0})
	l.now = func() time.Time { return day }

	require.NoError(t, l.CheckBudget("m"))
	l.Spend("m", 0.6)
	require.NoError(t, l.CheckBudget("m"))
	l.Spend("m", 0.6)
	assert.ErrorIs(t, l.CheckBudget("m"), ErrBudgetExceeded)
	assert.InDelta(t, 1.2, l.Status("m").SpentUSD, 1e-9)

	day = day.Add(24 * time.Hour)
	assert.NoError(t, l.CheckBudget("m"), "budget resets the next day")
	assert.Zero(t, l.Status("m").SpentUSD)
}
