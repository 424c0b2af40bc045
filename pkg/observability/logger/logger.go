// Package logger provides structured logging for relayq producers and
// workers. The zap-backed implementation is the default; an async wrapper
// moves encoding off the hot path for high-throughput workers.
package logger

import "context"

// Logger is the logging interface the rest of relayq depends on. Every
// method takes a message followed by alternating key-value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a child logger whose entries all carry the given
	// key-value pairs.
	With(args ...any) Logger

	// WithContext returns a child logger annotated with the job ID
	// carried by ctx, if any.
	WithContext(ctx context.Context) Logger
}

type contextKey struct{}

var jobIDKey contextKey

// ContextWithJobID returns a context carrying the job ID so handler-side
// loggers can correlate entries with the job being processed.
func ContextWithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// JobIDFromContext returns the job ID stored by ContextWithJobID, or ""
// when the context carries none.
func JobIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(jobIDKey).(string)
	return id
}
