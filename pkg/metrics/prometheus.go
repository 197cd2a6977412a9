package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	attemptsTotal      *prometheus.CounterVec
	attemptDuration    *prometheus.HistogramVec
	runsTotal          *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
	reroutesTotal      *prometheus.CounterVec
	generationsTotal   *prometheus.CounterVec
	tokensTotal        *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	throttleTotal      *prometheus.CounterVec
}

// NewPrometheusRecorder creates a recorder backed by its own registry, so
// several recorders (one per test, say) never collide on metric names.
func NewPrometheusRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		registry: reg,
		attemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aicoder_agent_attempts_total",
				Help: "Total number of agent attempts by run, agent and outcome",
			},
			[]string{"run_id", "agent", "outcome"},
		),
		attemptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aicoder_agent_attempt_duration_seconds",
				Help:    "Duration of agent attempts in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"agent"},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aicoder_runs_total",
				Help: "Total number of runs by terminal status",
			},
			[]string{"status"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aicoder_run_duration_seconds",
				Help:    "Wall time of runs from start to terminal status",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"status"},
		),
		reroutesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aicoder_reroutes_total",
				Help: "Total number of fallback decisions",
			},
			[]string{"from", "to", "accepted"},
		),
		generationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aicoder_generations_total",
				Help: "Total number of generator calls by model and status",
			},
			[]string{"run_id", "agent", "model", "status", "error_type"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aicoder_tokens_total",
				Help: "Total number of tokens used in generator calls",
			},
			[]string{"run_id", "agent", "model", "type"},
		),
		generationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aicoder_generation_duration_seconds",
				Help:    "Duration of generator calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		),
		throttleTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aicoder_throttle_total",
				Help: "Total number of generator calls delayed by rate limiting",
			},
			[]string{"model"},
		),
	}
}

// Registry exposes the underlying registry for exporters.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

// ObserveAttempt records one agent attempt and its outcome.
func (p *PrometheusRecorder) ObserveAttempt(runID, agent, outcome string, duration time.Duration) {
	p.attemptsTotal.WithLabelValues(runID, agent, outcome).Inc()
	p.attemptDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// ObserveRun records a run reaching a terminal status.
func (p *PrometheusRecorder) ObserveRun(status string, duration time.Duration) {
	p.runsTotal.WithLabelValues(status).Inc()
	p.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveReroute records a fallback decision.
func (p *PrometheusRecorder) ObserveReroute(from, to string, accepted bool) {
	p.reroutesTotal.WithLabelValues(from, to, strconv.FormatBool(accepted)).Inc()
}

// ObserveGeneration records one generator call.
func (p *PrometheusRecorder) ObserveGeneration(
	runID, agent, model string,
	promptTokens, completionTokens int,
	success bool,
	errorType string,
	duration time.Duration,
) {
	status := "success"
	if !success {
		status = "error"
	}
	p.generationsTotal.WithLabelValues(runID, agent, model, status, errorType).Inc()
	p.generationDuration.WithLabelValues(model).Observe(duration.Seconds())

	if promptTokens > 0 {
		p.tokensTotal.WithLabelValues(runID, agent, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		p.tokensTotal.WithLabelValues(runID, agent, model, "completion").Add(float64(completionTokens))
	}
}

// IncThrottle counts a request that had to wait for the rate limiter.
func (p *PrometheusRecorder) IncThrottle(model string) {
	p.throttleTotal.WithLabelValues(model).Inc()
}
