package workflow

import (
	"fmt"
	"slices"
	"time"

	"aicoder/pkg/logx"
	"aicoder/pkg/metrics"
	"aicoder/pkg/state"
)

// FallbackRouter redirects a run to a failed agent's fallback. It belongs to
// one run: its attempted set holds every agent invoked during that run, so a
// fallback chain can never revisit an agent.
type FallbackRouter struct {
	registry  Registry
	attempted map[string]bool
	order     []string
	metrics   metrics.Recorder
	logger    *logx.Logger
	now       func() time.Time
}

// NewFallbackRouter creates a router seeded with agents already attempted in the run.
func NewFallbackRouter(reg Registry, attempted ...string) *FallbackRouter {
	f := &FallbackRouter{
		registry:  reg,
		attempted: make(map[string]bool, len(attempted)),
		metrics:   metrics.Nop(),
		logger:    logx.NewLogger("fallback"),
		now:       time.Now,
	}
	for _, name := range attempted {
		f.MarkAttempted(name)
	}
	return f
}

// MarkAttempted adds name to the run's attempted set.
func (f *FallbackRouter) MarkAttempted(name string) {
	if f.attempted[name] {
		return
	}
	f.attempted[name] = true
	f.order = append(f.order, name)
}

// Attempted returns the attempted agents in first-attempt order.
func (f *FallbackRouter) Attempted() []string {
	return slices.Clone(f.order)
}

// Route looks up failed's fallback. When the fallback is configured it appends
// a routing record to st, accepted or not, and returns the updated state.
func (f *FallbackRouter) Route(failed string, st *state.State) (string, *state.State, bool) {
	c, err := f.registry.Contract(failed)
	if err != nil || !c.HasFallback() {
		return "", st, false
	}
	fb := c.Fallback

	var reason string
	switch {
	case !f.registry.Has(fb):
		reason = fmt.Sprintf("fallback %s is not registered", fb)
	case f.attempted[fb]:
		reason = fmt.Sprintf("fallback %s already attempted in this run", fb)
	}

	accepted := reason == ""
	if accepted {
		reason = fmt.Sprintf("%s exhausted its retries", failed)
	}
	st = st.WithRoute(state.RoutingRecord{
		From:      failed,
		To:        fb,
		Reason:    reason,
		Accepted:  accepted,
		Timestamp: f.now(),
	})
	f.metrics.ObserveReroute(failed, fb, accepted)

	if !accepted {
		f.logger.Warn("run %s: not rerouting %s: %s", st.RunID(), failed, reason)
		return "", st, false
	}
	f.logger.Info("run %s: rerouting %s -> %s", st.RunID(), failed, fb)
	return fb, st, true
}
