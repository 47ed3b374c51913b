package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	fields := logger.With()
	if tc.TraceID != "" {
		fields = fields.Str("trace_id", tc.TraceID)
	}
	if tc.Pool != "" {
		fields = fields.Str("pool", tc.Pool)
	}
	if tc.BrowserID != "" {
		fields = fields.Str("browser_id", tc.BrowserID)
	}
	if tc.Operation != "" {
		fields = fields.Str("operation", tc.Operation)
	}

	return fields.Logger()
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}

// Detach returns a context that carries the tracing values and span of ctx
// but is not cancelled with it. Used for work that outlives the caller,
// such as recycling a browser after it was released.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// MergeContext copies tracing values missing from target out of source
func MergeContext(target, source context.Context) context.Context {
	tc := FromContext(source)

	if tc.TraceID != "" && GetTraceID(target) == "" {
		target = WithTraceID(target, tc.TraceID)
	}
	if tc.Pool != "" && GetPool(target) == "" {
		target = WithPool(target, tc.Pool)
	}
	if tc.BrowserID != "" && GetBrowserID(target) == "" {
		target = WithBrowserID(target, tc.BrowserID)
	}
	if tc.Operation != "" && GetOperation(target) == "" {
		target = WithOperation(target, tc.Operation)
	}

	return target
}
