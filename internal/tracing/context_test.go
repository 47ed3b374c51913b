package tracing

import (
	"context"
	"testing"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	if id1 == "" {
		t.Error("NewTraceID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewTraceID returned duplicate IDs")
	}
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithPool(ctx, "default")
	ctx = WithBrowserID(ctx, "b-1")
	ctx = WithOperation(ctx, "claim")

	if GetTraceID(ctx) != "trace-1" {
		t.Errorf("Expected trace ID trace-1, got %s", GetTraceID(ctx))
	}
	if GetPool(ctx) != "default" {
		t.Errorf("Expected pool default, got %s", GetPool(ctx))
	}
	if GetBrowserID(ctx) != "b-1" {
		t.Errorf("Expected browser ID b-1, got %s", GetBrowserID(ctx))
	}
	if GetOperation(ctx) != "claim" {
		t.Errorf("Expected operation claim, got %s", GetOperation(ctx))
	}
}

func TestMissingValues(t *testing.T) {
	tc := FromContext(context.Background())

	if tc.TraceID != "" || tc.Pool != "" || tc.BrowserID != "" || tc.Operation != "" {
		t.Errorf("Expected empty trace context, got %+v", tc)
	}
}

func TestNewContextRoundTrip(t *testing.T) {
	tc := &TraceContext{TraceID: "t", Pool: "p", BrowserID: "b"}
	ctx := NewContext(context.Background(), tc)

	got := FromContext(ctx)
	if *got != *tc {
		t.Errorf("Expected %+v, got %+v", tc, got)
	}
}

func TestNewRequestContext(t *testing.T) {
	ctx := NewRequestContext(context.Background())

	if GetTraceID(ctx) == "" {
		t.Error("NewRequestContext did not set a trace ID")
	}
}
