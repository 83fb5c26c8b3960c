// Package logging emits one JSON object per line on stdout. Entries
// carry the delivery data model's identifiers so log queries can pivot
// on tenant, event, job or endpoint, and pick up trace IDs from the
// context when a span is active.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aegishook/aegishook/internal/tracing"
)

type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

// Logger stamps every entry with a service name. The writer is
// swappable for tests and defaults to stdout.
type Logger struct {
	service string
	out     io.Writer
	exit    func(int)
}

func New(service string) *Logger {
	return &Logger{service: service, out: os.Stdout, exit: os.Exit}
}

// NewWithWriter is New with a custom destination. Used by tests.
func NewWithWriter(service string, out io.Writer) *Logger {
	return &Logger{service: service, out: out, exit: os.Exit}
}

// LogEntry is one structured log line under construction.
type LogEntry struct {
	Time       time.Time      `json:"time"`
	Level      LogLevel       `json:"level"`
	Message    string         `json:"msg"`
	Service    string         `json:"service,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	SpanID     string         `json:"span_id,omitempty"`
	TenantID   string         `json:"tenant_id,omitempty"`
	EventID    string         `json:"event_id,omitempty"`
	JobID      string         `json:"job_id,omitempty"`
	EndpointID string         `json:"endpoint_id,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`

	logger *Logger
}

func (l *Logger) entry() *LogEntry {
	return &LogEntry{
		Time:    time.Now().UTC(),
		Service: l.service,
		logger:  l,
	}
}

// Plain starts an entry with no trace correlation.
func (l *Logger) Plain() *LogEntry {
	return l.entry()
}

// WithContext starts an entry correlated to the span in ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *LogEntry {
	e := l.entry()
	e.TraceID = tracing.GetTraceID(ctx)
	e.SpanID = tracing.GetSpanID(ctx)
	return e
}

// WithFields starts an entry carrying the given fields.
func (l *Logger) WithFields(fields map[string]any) *LogEntry {
	e := l.entry()
	e.Fields = fields
	return e
}

func (e *LogEntry) WithTraceID(traceID string) *LogEntry {
	e.TraceID = traceID
	return e
}

func (e *LogEntry) WithTenant(tenantID string) *LogEntry {
	e.TenantID = tenantID
	return e
}

func (e *LogEntry) WithEvent(eventID string) *LogEntry {
	e.EventID = eventID
	return e
}

func (e *LogEntry) WithJob(jobID string) *LogEntry {
	e.JobID = jobID
	return e
}

func (e *LogEntry) WithEndpoint(endpointID string) *LogEntry {
	e.EndpointID = endpointID
	return e
}

func (e *LogEntry) WithField(key string, value any) *LogEntry {
	if e.Fields == nil {
		e.Fields = map[string]any{}
	}
	e.Fields[key] = value
	return e
}

func (e *LogEntry) WithFields(fields map[string]any) *LogEntry {
	for k, v := range fields {
		e.WithField(k, v)
	}
	return e
}

// WithError records err under the "error" field. A nil err adds
// nothing.
func (e *LogEntry) WithError(err error) *LogEntry {
	if err != nil {
		e.WithField("error", err.Error())
	}
	return e
}

func (e *LogEntry) Debug(message string) { e.emit(LevelDebug, message) }
func (e *LogEntry) Debugf(format string, args ...any) { e.emit(LevelDebug, fmt.Sprintf(format, args...)) }
func (e *LogEntry) Info(message string) { e.emit(LevelInfo, message) }
func (e *LogEntry) Infof(format string, args ...any) { e.emit(LevelInfo, fmt.Sprintf(format, args...)) }
func (e *LogEntry) Warn(message string) { e.emit(LevelWarn, message) }
func (e *LogEntry) Warnf(format string, args ...any) { e.emit(LevelWarn, fmt.Sprintf(format, args...)) }
func (e *LogEntry) Error(message string) { e.emit(LevelError, message) }
func (e *LogEntry) Errorf(format string, args ...any) { e.emit(LevelError, fmt.Sprintf(format, args...)) }

// Fatal logs and exits the process.
func (e *LogEntry) Fatal(message string) {
	e.emit(LevelFatal, message)
	e.logger.exit(1)
}

func (e *LogEntry) Fatalf(format string, args ...any) {
	e.emit(LevelFatal, fmt.Sprintf(format, args...))
	e.logger.exit(1)
}

func (e *LogEntry) emit(level LogLevel, message string) {
	e.Level = level
	e.Message = message

	data, err := json.Marshal(e)
	if err != nil {
		// Unmarshalable field value. Keep the line, lose the fields.
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		fmt.Fprintf(e.logger.out, "%s [%s] %s\n", e.Time.Format(time.RFC3339), e.Level, e.Message)
		return
	}
	fmt.Fprintln(e.logger.out, string(data))
}
