package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// PoolKey is the context key for the pool name
	PoolKey ContextKey = "pool"
	// BrowserIDKey is the context key for the pooled browser ID
	BrowserIDKey ContextKey = "browser_id"
	// OperationKey is the context key for the pool operation in progress
	OperationKey ContextKey = "operation"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID   string
	Pool      string
	BrowserID string
	Operation string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithPool adds the pool name to the context
func WithPool(ctx context.Context, pool string) context.Context {
	return context.WithValue(ctx, PoolKey, pool)
}

// WithBrowserID adds a browser ID to the context
func WithBrowserID(ctx context.Context, browserID string) context.Context {
	return context.WithValue(ctx, BrowserIDKey, browserID)
}

// WithOperation adds the pool operation name to the context
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, OperationKey, operation)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

// GetPool retrieves the pool name from the context
func GetPool(ctx context.Context) string {
	return stringValue(ctx, PoolKey)
}

// GetBrowserID retrieves the browser ID from the context
func GetBrowserID(ctx context.Context) string {
	return stringValue(ctx, BrowserIDKey)
}

// GetOperation retrieves the pool operation from the context
func GetOperation(ctx context.Context) string {
	return stringValue(ctx, OperationKey)
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		Pool:      GetPool(ctx),
		BrowserID: GetBrowserID(ctx),
		Operation: GetOperation(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.Pool != "" {
		ctx = WithPool(ctx, tc.Pool)
	}
	if tc.BrowserID != "" {
		ctx = WithBrowserID(ctx, tc.BrowserID)
	}
	if tc.Operation != "" {
		ctx = WithOperation(ctx, tc.Operation)
	}
	return ctx
}

// NewRequestContext creates a new context with a fresh trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}
