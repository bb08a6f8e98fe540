package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func spanContext(t *testing.T) context.Context {
	t.Helper()
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	return trace.ContextWithSpanContext(context.Background(), sc)
}

func TestNewWithWriter_TagsService(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("stockalloc-service", "info", &buf).Info("hello")

	out := decodeLine(t, &buf)
	assert.Equal(t, "stockalloc-service", out["service"])
	assert.Equal(t, "hello", out["msg"])
	assert.NotContains(t, out, "source")
}

func TestNewWithWriter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("svc", "warn", &buf)
	l.Info("dropped")
	assert.Zero(t, buf.Len())

	l.Warn("kept")
	assert.Equal(t, "kept", decodeLine(t, &buf)["msg"])
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestWithContext(t *testing.T) {
	tests := []struct {
		name    string
		ctx     func(t *testing.T) context.Context
		present map[string]string
		absent  []string
	}{
		{
			name:   "empty context adds nothing",
			ctx:    func(*testing.T) context.Context { return context.Background() },
			absent: []string{"correlation_id", "caller", "trace_id", "span_id"},
		},
		{
			name: "correlation id and caller",
			ctx: func(*testing.T) context.Context {
				ctx := WithCorrelationID(context.Background(), "req-123")
				return WithCaller(ctx, "checkout-service")
			},
			present: map[string]string{"correlation_id": "req-123", "caller": "checkout-service"},
			absent:  []string{"trace_id"},
		},
		{
			name: "trace ids from a valid span",
			ctx: func(t *testing.T) context.Context {
				return WithCorrelationID(spanContext(t), "req-456")
			},
			present: map[string]string{
				"correlation_id": "req-456",
				"trace_id":       "4bf92f3577b34da6a3ce929d0e0e4736",
				"span_id":        "00f067aa0ba902b7",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			WithContext(tt.ctx(t), NewWithWriter("svc", "info", &buf)).Info("line")

			out := decodeLine(t, &buf)
			for k, v := range tt.present {
				assert.Equal(t, v, out[k], k)
			}
			for _, k := range tt.absent {
				assert.NotContains(t, out, k)
			}
		})
	}
}

func TestContextAccessors_Empty(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, CorrelationIDFromContext(ctx))
	assert.Empty(t, CallerFromContext(ctx))
	assert.Same(t, slog.Default(), FromContext(ctx))
}

func TestNewContext_RoundTrip(t *testing.T) {
	l := NewWithWriter("svc", "info", &bytes.Buffer{})
	ctx := NewContext(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))
}
