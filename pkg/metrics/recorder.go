// Package metrics records orchestration metrics: agent attempts, run outcomes,
// reroutes and generator usage.
package metrics

import (
	"time"
)

// Recorder receives orchestration events. Implementations must be safe for
// concurrent use since independent runs share one recorder.
type Recorder interface {
	// ObserveAttempt records one agent attempt and its outcome.
	ObserveAttempt(runID, agent, outcome string, duration time.Duration)

	// ObserveRun records a run reaching a terminal status.
	ObserveRun(status string, duration time.Duration)

	// ObserveReroute records a fallback decision.
	ObserveReroute(from, to string, accepted bool)

	// ObserveGeneration records one generator call.
	ObserveGeneration(
		runID, agent, model string,
		promptTokens, completionTokens int,
		success bool,
		errorType string,
		duration time.Duration,
	)

	// IncThrottle counts a request that had to wait for the rate limiter.
	IncThrottle(model string)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) ObserveAttempt(_, _, _ string, _ time.Duration) {}

func (n *NoopRecorder) ObserveRun(_ string, _ time.Duration) {}

func (n *NoopRecorder) ObserveReroute(_, _ string, _ bool) {}

func (n *NoopRecorder) ObserveGeneration(_, _, _ string, _, _ int, _ bool, _ string, _ time.Duration) {
}

func (n *NoopRecorder) IncThrottle(_ string) {}
