// Package limiter throttles generator calls per model: requests and tokens per
// minute through token buckets, plus an optional daily spend budget.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrRateLimit is returned when a single request exceeds a bucket's capacity.
	ErrRateLimit = errors.New("rate limit exceeded")
	// ErrBudgetExceeded is returned when the daily budget would be exceeded.
	ErrBudgetExceeded = errors.New("daily budget exceeded")
)

// Limits configures one model. Zero values mean unlimited.
type Limits struct {
	RequestsPerMinute int
	TokensPerMinute   int
	DailyBudgetUSD    float64
}

// Limiter manages the per-model limiters. Models without explicit limits get the defaults.
type Limiter struct {
	defaults Limits
	models   map[string]*ModelLimiter
	now      func() time.Time
	mu       sync.RWMutex
}

// ModelLimiter enforces the limits of one model.
//
//nolint:govet // logical grouping preferred
type ModelLimiter struct {
	name      string
	requests  *rate.Limiter
	tokens    *rate.Limiter
	maxTokens int

	mu          sync.Mutex
	budgetUSD   float64
	spentUSD    float64
	budgetDay   string
	throttleCnt int
}

// New creates a limiter applying defaults to every model.
func New(defaults Limits) *Limiter {
	return &Limiter{
		defaults: defaults,
		models:   make(map[string]*ModelLimiter),
		now:      time.Now,
	}
}

// Configure sets explicit limits for model, replacing any previous limiter.
func (l *Limiter) Configure(model string, limits Limits) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.models[model] = newModelLimiter(model, limits)
}

func newModelLimiter(model string, limits Limits) *ModelLimiter {
	return &ModelLimiter{
		name:      model,
		requests:  perMinute(limits.RequestsPerMinute),
		tokens:    perMinute(limits.TokensPerMinute),
		maxTokens: limits.TokensPerMinute,
		budgetUSD: limits.DailyBudgetUSD,
	}
}

// perMinute returns a bucket refilling n per minute with burst n, or an
// unlimited bucket for n <= 0.
func perMinute(n int) *rate.Limiter {
	if n <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(float64(n)/60.0), n)
}

func (l *Limiter) model(name string) *ModelLimiter {
	l.mu.RLock()
	ml, ok := l.models[name]
	l.mu.RUnlock()
	if ok {
		return ml
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if ml, ok := l.models[name]; ok {
		return ml
	}
	ml = newModelLimiter(name, l.defaults)
	l.models[name] = ml
	return ml
}

// Wait blocks until model may send one request of tokens tokens. throttled
// reports whether the call had to wait.
func (l *Limiter) Wait(ctx context.Context, model string, tokens int) (throttled bool, err error) {
	ml := l.model(model)
	if ml.maxTokens > 0 && tokens > ml.maxTokens {
		return false, fmt.Errorf("%w: request of %d tokens exceeds %s capacity of %d per minute",
			ErrRateLimit, tokens, model, ml.maxTokens)
	}

	waitedReq, err := wait(ctx, ml.requests, 1, l.now())
	if err != nil {
		return waitedReq, err
	}
	waitedTok, err := wait(ctx, ml.tokens, tokens, l.now())
	throttled = waitedReq || waitedTok
	if throttled {
		ml.mu.Lock()
		ml.throttleCnt++
		ml.mu.Unlock()
	}
	return throttled, err
}

// Allow reserves capacity without blocking, returning ErrRateLimit when the
// request would have to wait.
func (l *Limiter) Allow(model string, tokens int) error {
	ml := l.model(model)
	now := l.now()
	if !ml.requests.AllowN(now, 1) {
		return fmt.Errorf("%w: %s request rate", ErrRateLimit, model)
	}
	if tokens > 0 && !ml.tokens.AllowN(now, tokens) {
		return fmt.Errorf("%w: %s token rate", ErrRateLimit, model)
	}
	return nil
}

func wait(ctx context.Context, lim *rate.Limiter, n int, now time.Time) (bool, error) {
	if n <= 0 || lim.Limit() == rate.Inf {
		return false, nil
	}
	r := lim.ReserveN(now, n)
	if !r.OK() {
		return false, ErrRateLimit
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return false, nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true, nil
	case <-ctx.Done():
		r.Cancel()
		return true, fmt.Errorf("waiting for rate limit: %w", ctx.Err())
	}
}

// CheckBudget returns ErrBudgetExceeded once model's spend for the current
// day has reached its budget.
func (l *Limiter) CheckBudget(model string) error {
	ml := l.model(model)
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.rollDay(l.now())
	if ml.budgetUSD > 0 && ml.spentUSD >= ml.budgetUSD {
		return fmt.Errorf("%w: %s spent $%.4f of $%.2f", ErrBudgetExceeded, model, ml.spentUSD, ml.budgetUSD)
	}
	return nil
}

// Spend adds costUSD to model's spend for the current day.
func (l *Limiter) Spend(model string, costUSD float64) {
	ml := l.model(model)
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.rollDay(l.now())
	ml.spentUSD += costUSD
}

func (ml *ModelLimiter) rollDay(now time.Time) {
	day := now.Format(time.DateOnly)
	if ml.budgetDay != day {
		ml.budgetDay = day
		ml.spentUSD = 0
	}
}

// Status describes a model's current state.
type Status struct {
	Model           string
	TokensAvailable float64
	SpentUSD        float64
	Throttled       int
}

// Status returns the current state of model's limiter.
func (l *Limiter) Status(model string) Status {
	ml := l.model(model)
	tokens := float64(-1)
	if ml.tokens.Limit() != rate.Inf {
		tokens = ml.tokens.TokensAt(l.now())
	}

	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.rollDay(l.now())
	return Status{
		Model:           model,
		TokensAvailable: tokens,
		SpentUSD:        ml.spentUSD,
		Throttled:       ml.throttleCnt,
	}
}
