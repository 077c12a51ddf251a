package kit

import (
	"context"
	"testing"
)

func TestContext_Transport_Default(t *testing.T) {
	if got := GetTransport(context.Background()); got != "http" {
		t.Fatalf("GetTransport default = %q, want http", got)
	}
}

func TestContext_Transport_Set(t *testing.T) {
	ctx := WithTransport(context.Background(), "mcp")
	if got := GetTransport(ctx); got != "mcp" {
		t.Fatalf("GetTransport = %q, want mcp", got)
	}
}

func TestContext_TraceID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "abcd1234")
	if got := GetTraceID(ctx); got != "abcd1234" {
		t.Fatalf("GetTraceID = %q", got)
	}
	if got := GetTraceID(context.Background()); got != "" {
		t.Fatalf("GetTraceID empty ctx = %q", got)
	}
}
