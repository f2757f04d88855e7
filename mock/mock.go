// Package mock provides common mock implementations for testing
package mock

// LogEntry is one captured log call.
type LogEntry struct {
	Level   string
	Message string
	Args    []any
}

// Logger implements modular.Logger and records every call so tests can
// assert on emitted messages.
type Logger struct {
	Entries []LogEntry
}

func (m *Logger) record(level, msg string, args []any) {
	m.Entries = append(m.Entries, LogEntry{Level: level, Message: msg, Args: args})
}

// Debug implements the Logger interface
func (m *Logger) Debug(msg string, args ...any) { m.record("debug", msg, args) }

// Info implements the Logger interface
func (m *Logger) Info(msg string, args ...any) { m.record("info", msg, args) }

// Warn implements the Logger interface
func (m *Logger) Warn(msg string, args ...any) { m.record("warn", msg, args) }

// Error implements the Logger interface
func (m *Logger) Error(msg string, args ...any) { m.record("error", msg, args) }

// Messages returns the recorded messages in order.
func (m *Logger) Messages() []string {
	out := make([]string, 0, len(m.Entries))
	for _, e := range m.Entries {
		out = append(out, e.Message)
	}
	return out
}

// Has reports whether a message was logged at the given level.
func (m *Logger) Has(level, msg string) bool {
	for _, e := range m.Entries {
		if e.Level == level && e.Message == msg {
			return true
		}
	}
	return false
}
