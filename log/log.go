// Package log defines the tiny leveled logger used across cachegraph.
// Adapters for zap, logrus and slog live in the sub-packages.
package log

// Fields is a minimal structured field map for logs.
type Fields map[string]any

// Logger is a tiny leveled logger. Provide an adapter around your logging stack.
// Components log at their boundaries only (operation end, error, warning).
type Logger interface {
	Debug(msg string, f Fields)
	Info(msg string, f Fields)
	Warn(msg string, f Fields)
	Error(msg string, f Fields)
}

// Nop discards everything. It is the default when no Logger is configured.
type Nop struct{}

func (Nop) Debug(string, Fields) {}
func (Nop) Info(string, Fields)  {}
func (Nop) Warn(string, Fields)  {}
func (Nop) Error(string, Fields) {}

// OrNop returns l, or Nop when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop{}
	}
	return l
}

// With returns a copy of f extended with kv. f is not mutated.
func (f Fields) With(kv Fields) Fields {
	out := make(Fields, len(f)+len(kv))
	for k, v := range f {
		out[k] = v
	}
	for k, v := range kv {
		out[k] = v
	}
	return out
}
