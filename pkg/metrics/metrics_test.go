package metrics

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorderWriteText(t *testing.T) {
	rec := NewPrometheusRecorder()
	rec.ObserveAttempt("run-1", "planner", "success", 20*time.Millisecond)
	rec.ObserveAttempt("run-1", "coder", "failure", 30*time.Millisecond)
	rec.ObserveRun("completed", 2*time.Second)
	rec.ObserveReroute("coder", "toolbox", true)
	rec.ObserveGeneration("run-1", "planner", "mock", 12, 40, true, "", time.Millisecond)
	rec.IncThrottle("mock")

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, rec.Registry()))
	out := buf.String()

	assert.Contains(t, out, `aicoder_agent_attempts_total{agent="planner",outcome="success",run_id="run-1"} 1`)
	assert.Contains(t, out, `aicoder_runs_total{status="completed"} 1`)
	assert.Contains(t, out, `aicoder_reroutes_total{accepted="true",from="coder",to="toolbox"} 1`)
	assert.Contains(t, out, `aicoder_tokens_total{agent="planner",model="mock",run_id="run-1",type="completion"} 40`)
	assert.Contains(t, out, `aicoder_throttle_total{model="mock"} 1`)
}

func TestRecordersDoNotShareRegistries(t *testing.T) {
	a := NewPrometheusRecorder()
	b := NewPrometheusRecorder()
	a.ObserveRun("failed", time.Second)

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, b.Registry()))
	assert.NotContains(t, buf.String(), `aicoder_runs_total{status="failed"}`)
}

func TestNopRecorder(t *testing.T) {
	rec := Nop()
	rec.ObserveAttempt("run", "a", "success", time.Second)
	rec.ObserveGeneration("run", "a", "m", 1, 1, false, "transient", time.Second)
}
