package logx

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(io.Discard) })
	return &buf
}

func TestLoggerFormatsLevelAndID(t *testing.T) {
	buf := captureOutput(t)

	logger := NewLogger("run-abc")
	logger.Info("agent %s finished", "planner")
	logger.Warn("slow attempt")

	out := buf.String()
	assert.Contains(t, out, "[run-abc] INFO: agent planner finished")
	assert.Contains(t, out, "[run-abc] WARN: slow attempt")
}

func TestDebugRespectsDomains(t *testing.T) {
	buf := captureOutput(t)
	SetDebug(true)
	SetDebugDomains([]string{"run"})
	t.Cleanup(func() {
		SetDebug(false)
		SetDebugDomains(nil)
	})

	NewLogger("run-1").Debug("visible")
	NewLogger("registry").Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "visible")
	assert.NotContains(t, out, "hidden")
}

func TestDebugDisabledByDefault(t *testing.T) {
	buf := captureOutput(t)
	SetDebug(false)

	NewLogger("engine").Debug("nothing")
	assert.Empty(t, buf.String())
}

func TestRecentEntriesFilterByID(t *testing.T) {
	captureOutput(t)
	since := time.Now().UTC().Add(-time.Second)

	NewLogger("run-filter-a").Info("first")
	NewLogger("run-filter-b").Info("second")

	entries := GetRecentLogEntries("run-filter-a", since)
	require.Len(t, entries, 1)
	assert.Equal(t, "first", entries[0].Message)
	assert.Equal(t, string(LevelInfo), entries[0].Level)
}

func TestBufferIsBounded(t *testing.T) {
	b := &InMemoryLogBuffer{maxSize: 3}
	for i := 0; i < 5; i++ {
		b.AddLogEntry(&LogEntry{ID: "x", Message: strings.Repeat("m", i)})
	}
	entries := b.GetLogEntries("", time.Time{})
	require.Len(t, entries, 3)
	assert.Equal(t, "mm", entries[0].Message)
}

func TestDebugState(t *testing.T) {
	buf := captureOutput(t)
	SetDebug(true)
	t.Cleanup(func() { SetDebug(false) })

	logger := NewLogger("run-1")
	logger.DebugState("transition", "running", "from pending")
	logger.DebugState("transition", "completed")

	out := buf.String()
	assert.Contains(t, out, "State transition: running - from pending")
	assert.Contains(t, out, "State transition: completed\n")
}
