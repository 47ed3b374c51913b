package observability

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LifecycleEvent is one state change of a pooled browser
type LifecycleEvent struct {
	Pool      string                 `json:"pool"`
	BrowserID string                 `json:"browser_id"`
	Action    string                 `json:"action"` // created, claimed, returned, recycled, failed
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// LifecycleLog writes lifecycle events as JSON lines and mirrors them onto
// the active span. It discards everything until a sink is configured.
type LifecycleLog struct {
	mu     sync.Mutex
	logger zerolog.Logger
	file   *os.File
}

var lifecycleLog = &LifecycleLog{logger: zerolog.Nop()}

// GetLifecycleLog returns the process-wide lifecycle log
func GetLifecycleLog() *LifecycleLog {
	return lifecycleLog
}

// OpenLifecycleLog directs lifecycle events to the file at path
func OpenLifecycleLog(path string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	lifecycleLog.mu.Lock()
	defer lifecycleLog.mu.Unlock()
	if lifecycleLog.file != nil {
		_ = lifecycleLog.file.Close()
	}
	lifecycleLog.file = file
	lifecycleLog.logger = zerolog.New(file).With().Timestamp().Logger()
	return nil
}

// SetLifecycleWriter directs lifecycle events to w
func SetLifecycleWriter(w io.Writer) {
	lifecycleLog.mu.Lock()
	defer lifecycleLog.mu.Unlock()
	lifecycleLog.logger = zerolog.New(w)
}

// Record emits the event
func (l *LifecycleLog) Record(ctx context.Context, event LifecycleEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()
		span.AddEvent("browser."+event.Action, trace.WithAttributes(
			attribute.String("pool", event.Pool),
			attribute.String("browser.id", event.BrowserID),
			attribute.String("status", event.Status),
		))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.logger.Log().
		Str("pool", event.Pool).
		Str("browser_id", event.BrowserID).
		Str("action", event.Action).
		Str("status", event.Status).
		Time("at", event.Timestamp)
	if event.TraceID != "" {
		entry = entry.Str("trace_id", event.TraceID)
	}
	if event.Metadata != nil {
		entry = entry.Interface("metadata", event.Metadata)
	}
	entry.Msg("")
}

// Close closes the lifecycle log file, if any, and discards further events
func (l *LifecycleLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.logger = zerolog.Nop()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// RecordBrowserLifecycle records a state change of browserID in pool
func RecordBrowserLifecycle(ctx context.Context, pool, browserID, action, status string, metadata map[string]interface{}) {
	GetLifecycleLog().Record(ctx, LifecycleEvent{
		Pool:      pool,
		BrowserID: browserID,
		Action:    action,
		Status:    status,
		Metadata:  metadata,
	})
}
