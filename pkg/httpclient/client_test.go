package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/utafrali/stockalloc/pkg/logger"
)

func fastConfig(retries int) Config {
	return Config{
		Caller:          "stockalloc-service",
		Timeout:         5 * time.Second,
		MaxRetries:      retries,
		RetryWaitMin:    time.Millisecond,
		RetryWaitMax:    5 * time.Millisecond,
		MaxConnsPerHost: 10,
	}
}

func newRequest(t *testing.T, method, url string, body io.Reader) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, url, body)
	require.NoError(t, err)
	return req
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("stockalloc-service")
	assert.Equal(t, "stockalloc-service", cfg.Caller)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 3, cfg.MaxRetries)
}

func TestDo_Retries5xxAndReplaysBody(t *testing.T) {
	var calls atomic.Int32
	var lastBody atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		lastBody.Store(string(body))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	req := newRequest(t, http.MethodPost, server.URL, strings.NewReader(`{"a":1}`))
	resp, err := New(fastConfig(3)).Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, `{"a":1}`, lastBody.Load())
}

func TestDo_UnreplayableBodyIsSentOnce(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	req := newRequest(t, http.MethodPost, server.URL, io.NopCloser(strings.NewReader("x")))
	req.GetBody = nil
	resp, err := New(fastConfig(3)).Do(context.Background(), req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_DoesNotRetry501Or4xx(t *testing.T) {
	for _, status := range []int{http.StatusNotImplemented, http.StatusBadRequest, http.StatusConflict} {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(status)
		}))

		resp, err := New(fastConfig(3)).Do(context.Background(), newRequest(t, http.MethodGet, server.URL, nil))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, status, resp.StatusCode)
		assert.Equal(t, int32(1), calls.Load(), "status %d", status)
		server.Close()
	}
}

func TestDo_ReturnsLastResponseWhenRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	resp, err := New(fastConfig(2)).Do(context.Background(), newRequest(t, http.MethodGet, server.URL, nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := fastConfig(5)
	cfg.RetryWaitMin = time.Second
	cfg.RetryWaitMax = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(cfg).Do(ctx, newRequest(t, http.MethodGet, server.URL, nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDo_NetworkErrorReportsAttempts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := New(fastConfig(2)).Do(context.Background(), newRequest(t, http.MethodGet, url, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
}

func TestDo_PropagatesHeaders(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer server.Close()

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))
	ctx = logger.WithCorrelationID(ctx, "corr-7")

	resp, err := New(fastConfig(0)).Do(ctx, newRequest(t, http.MethodGet, server.URL, nil))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "stockalloc-service", got.Get(CallerHeader))
	assert.Equal(t, "corr-7", got.Get(CorrelationIDHeader))
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", got.Get("traceparent"))
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, isRetryableError(context.Canceled))
	assert.False(t, isRetryableError(context.DeadlineExceeded))
	assert.False(t, isRetryableError(io.EOF))
	assert.False(t, isRetryableError(errors.New("plain")))
}

func TestBackoff(t *testing.T) {
	c := New(Config{RetryWaitMin: 100 * time.Millisecond, RetryWaitMax: 300 * time.Millisecond})
	tests := []struct {
		attempt  int
		min, max time.Duration
	}{
		{1, 75 * time.Millisecond, 125 * time.Millisecond},
		{2, 150 * time.Millisecond, 250 * time.Millisecond},
		{3, 225 * time.Millisecond, 375 * time.Millisecond},
		{40, 225 * time.Millisecond, 375 * time.Millisecond},
	}
	for _, tt := range tests {
		for i := 0; i < 50; i++ {
			got := c.backoff(tt.attempt)
			assert.GreaterOrEqual(t, got, tt.min, "attempt %d", tt.attempt)
			assert.LessOrEqual(t, got, tt.max, "attempt %d", tt.attempt)
		}
	}
}

func TestJitter(t *testing.T) {
	assert.Equal(t, time.Duration(0), jitter(0))
	assert.Equal(t, time.Duration(0), jitter(-time.Second))
	assert.Equal(t, time.Duration(3), jitter(3))
}
