// Package logx provides leveled, component-scoped logging with a bounded in-memory history.
package logx

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger writes leveled lines tagged with a component ID (an agent name, a run ID, "engine").
type Logger struct {
	id     string
	logger *log.Logger
}

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

const timestampFormat = "2006-01-02T15:04:05.000Z"

// DebugConfig controls debug logging behavior.
type DebugConfig struct {
	Enabled bool
	Domains map[string]bool // Component IDs to enable debug for (nil = all)
}

// LogEntry is one captured log line.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	ID        string `json:"id"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// InMemoryLogBuffer stores recent log entries for status inspection.
type InMemoryLogBuffer struct {
	entries []LogEntry
	mutex   sync.RWMutex
	maxSize int
}

//nolint:gochecknoglobals // process-wide output settings, no per-run state lives here
var (
	debugConfig = &DebugConfig{}
	debugMutex  sync.RWMutex

	outputMu sync.RWMutex
	output   io.Writer = os.Stderr

	logBuffer = &InMemoryLogBuffer{
		entries: make([]LogEntry, 0),
		maxSize: 2000,
	}
)

func init() { //nolint:gochecknoinits // env var initialization
	initDebugFromEnv()
}

// initDebugFromEnv reads DEBUG and DEBUG_DOMAINS.
func initDebugFromEnv() {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if debug := os.Getenv("DEBUG"); debug == "1" || strings.EqualFold(debug, "true") {
		debugConfig.Enabled = true
	}

	// DEBUG_DOMAINS=engine,runner
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debugConfig.Domains = make(map[string]bool)
		for _, domain := range strings.Split(domains, ",") {
			debugConfig.Domains[strings.TrimSpace(domain)] = true
		}
	}
}

// NewLogger creates a logger for the given component ID.
func NewLogger(id string) *Logger {
	return &Logger{
		id:     id,
		logger: log.New(writerProxy{}, "", 0),
	}
}

// SetOutput redirects every logger's output. Tests use io.Discard.
func SetOutput(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	output = w
}

// writerProxy resolves the shared output on every write so SetOutput applies to existing loggers.
type writerProxy struct{}

func (writerProxy) Write(p []byte) (int, error) {
	outputMu.RLock()
	w := output
	outputMu.RUnlock()
	n, err := w.Write(p)
	if err != nil {
		return n, fmt.Errorf("log write: %w", err)
	}
	return n, nil
}

// SetDebug enables or disables debug output.
func SetDebug(enabled bool) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugConfig.Enabled = enabled
}

// SetDebugDomains configures which component IDs emit debug lines. Empty means all.
func SetDebugDomains(domains []string) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if len(domains) == 0 {
		debugConfig.Domains = nil
		return
	}
	debugConfig.Domains = make(map[string]bool)
	for _, domain := range domains {
		debugConfig.Domains[strings.TrimSpace(domain)] = true
	}
}

// IsDebugEnabledFor reports whether debug lines are emitted for the given ID.
// A run logger "run-1234" matches the "run" domain.
func IsDebugEnabledFor(id string) bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()

	if !debugConfig.Enabled {
		return false
	}
	if debugConfig.Domains == nil {
		return true
	}
	if debugConfig.Domains[id] {
		return true
	}
	prefix, _, _ := strings.Cut(id, "-")
	return debugConfig.Domains[prefix]
}

// AddLogEntry adds an entry, dropping the oldest past maxSize.
func (b *InMemoryLogBuffer) AddLogEntry(entry *LogEntry) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.entries = append(b.entries, *entry)
	if len(b.entries) > b.maxSize {
		b.entries = b.entries[len(b.entries)-b.maxSize:]
	}
}

// GetLogEntries returns a copy of the entries for id (all if empty) at or after since.
func (b *InMemoryLogBuffer) GetLogEntries(id string, since time.Time) []LogEntry {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	filtered := make([]LogEntry, 0, len(b.entries))
	for i := range b.entries {
		entry := &b.entries[i]
		if id != "" && entry.ID != id {
			continue
		}
		if !since.IsZero() {
			ts, err := time.Parse(timestampFormat, entry.Timestamp)
			if err != nil || ts.Before(since) {
				continue
			}
		}
		filtered = append(filtered, *entry)
	}
	return filtered
}

// GetRecentLogEntries returns captured entries for id.
func GetRecentLogEntries(id string, since time.Time) []LogEntry {
	return logBuffer.GetLogEntries(id, since)
}

func (l *Logger) log(level Level, format string, args ...any) {
	timestamp := time.Now().UTC().Format(timestampFormat)
	message := fmt.Sprintf(format, args...)
	l.logger.Println(fmt.Sprintf("[%s] [%s] %s: %s", timestamp, l.id, level, message))

	logBuffer.AddLogEntry(&LogEntry{
		Timestamp: timestamp,
		ID:        l.id,
		Level:     string(level),
		Message:   message,
	})
}

func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabledFor(l.id) {
		return
	}
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// DebugState logs a run lifecycle step, e.g. DebugState("transition", "running", "from pending").
func (l *Logger) DebugState(action, state string, extra ...string) {
	extraInfo := ""
	if len(extra) > 0 {
		extraInfo = " - " + extra[0]
	}
	l.Debug("State %s: %s%s", action, state, extraInfo)
}
