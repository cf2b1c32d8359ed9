package port

import (
	"context"
	"time"
)

// LogLevel represents the severity of a log entry.
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// LogEntry represents a structured log entry for shipping to an external log system.
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Message   string
	Fields    map[string]interface{}
}

// LogPublisher ships log entries to an external observability platform.
type LogPublisher interface {
	// Publish buffers a single log entry.
	Publish(ctx context.Context, entry LogEntry) error

	// PublishBatch sends multiple entries, splitting them to respect backend limits.
	PublishBatch(ctx context.Context, entries []LogEntry) error

	// Flush forces immediate publication of buffered entries (graceful shutdown).
	Flush(ctx context.Context) error
}
