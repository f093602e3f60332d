package types

import (
	"context"
	"testing"
)

func TestContextPropagation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithUserID(ctx, "user-1")
	ctx = WithRequestID(ctx, "req-1")

	if v, ok := TraceID(ctx); !ok || v != "trace-1" {
		t.Fatalf("trace id: %q %v", v, ok)
	}
	if v, ok := RunID(ctx); !ok || v != "run-1" {
		t.Fatalf("run id: %q %v", v, ok)
	}
	if v, ok := UserID(ctx); !ok || v != "user-1" {
		t.Fatalf("user id: %q %v", v, ok)
	}
	if v, ok := RequestID(ctx); !ok || v != "req-1" {
		t.Fatalf("request id: %q %v", v, ok)
	}
}

func TestContextMissingValues(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if _, ok := TraceID(ctx); ok {
		t.Fatalf("expected missing trace id")
	}
	if _, ok := RunID(WithRunID(ctx, "")); ok {
		t.Fatalf("empty run id should read as missing")
	}
}
