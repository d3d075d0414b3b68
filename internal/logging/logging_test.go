package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_ErrorLevel(t *testing.T) {
	logger := New("error", "text")
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Expected info level to be disabled at error level")
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Error("Expected discard logger to drop everything")
	}
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	if RequestID(ctx) != "" || CorrelationID(ctx) != "" || Domain(ctx) != "" {
		t.Fatal("Expected empty values on a bare context")
	}

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithCorrelationID(ctx, "corr-1")
	ctx = WithDomain(ctx, "example.com")

	if got := RequestID(ctx); got != "req-1" {
		t.Errorf("RequestID = %q", got)
	}
	if got := CorrelationID(ctx); got != "corr-1" {
		t.Errorf("CorrelationID = %q", got)
	}
	if got := Domain(ctx); got != "example.com" {
		t.Errorf("Domain = %q", got)
	}
}

func TestFromContext_Default(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("Expected default logger")
	}
}

func TestL_EnrichesRecords(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewWithWriter(&buf, "info", "json"))
	ctx = WithRequestID(ctx, "req-9")
	ctx = WithCorrelationID(ctx, "corr-9")
	ctx = WithDomain(ctx, "tenant.io")

	L(ctx).Info("hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if rec["request_id"] != "req-9" {
		t.Errorf("request_id = %v", rec["request_id"])
	}
	if rec["correlation_id"] != "corr-9" {
		t.Errorf("correlation_id = %v", rec["correlation_id"])
	}
	if rec["domain"] != "tenant.io" {
		t.Errorf("domain = %v", rec["domain"])
	}
}

func TestRequestID_OverwritesPrevious(t *testing.T) {
	ctx := WithRequestID(context.Background(), "first")
	ctx = WithRequestID(ctx, "second")

	if id := RequestID(ctx); id != "second" {
		t.Errorf("Expected 'second', got %q", id)
	}
}
