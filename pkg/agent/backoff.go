package agent

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// BackoffConfig controls the delay between attempts of one agent.
type BackoffConfig struct {
	InitialDelay  time.Duration // delay before the second attempt
	MaxDelay      time.Duration // cap on any single delay
	BackoffFactor float64       // multiplier per further attempt
	Jitter        bool          // spread delays by up to ±10%
}

// DefaultBackoffConfig provides reasonable defaults for retry behavior.
var DefaultBackoffConfig = BackoffConfig{ //nolint:gochecknoglobals
	InitialDelay:  500 * time.Millisecond,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// NoBackoff retries immediately.
var NoBackoff = BackoffConfig{} //nolint:gochecknoglobals

// Delay computes the wait before retry number n (1 for the first retry).
func (b BackoffConfig) Delay(n int) time.Duration {
	if n <= 0 || b.InitialDelay <= 0 {
		return 0
	}
	factor := b.BackoffFactor
	if factor < 1 {
		factor = 1
	}

	delay := time.Duration(float64(b.InitialDelay) * math.Pow(factor, float64(n-1)))
	if b.MaxDelay > 0 && delay > b.MaxDelay {
		delay = b.MaxDelay
	}

	if b.Jitter {
		spread := float64(delay) * 0.1
		delay += time.Duration((rand.Float64()*2 - 1) * spread) //nolint:gosec // jitter only
		if delay < 0 {
			delay = b.InitialDelay
		}
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-timer.C:
		return nil
	}
}
