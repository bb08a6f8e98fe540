package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/stockalloc/pkg/logger"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return logger.NewWithWriter("test-svc", "debug", buf)
}

// logLines decodes every JSON line written to buf.
func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestRequestLogging_GeneratesCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	var seen string
	h := RequestLogging(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.CorrelationIDFromContext(r.Context())
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/locks", nil))

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(CorrelationIDHeader))

	lines := logLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, float64(http.StatusCreated), lines[0]["status"])
	assert.Equal(t, float64(2), lines[0]["bytes"])
	assert.Equal(t, seen, lines[0]["correlation_id"])
}

func TestRequestLogging_KeepsIncomingCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	h := RequestLogging(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stocks", nil)
	req.Header.Set(CorrelationIDHeader, "corr-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "corr-1", rec.Header().Get(CorrelationIDHeader))
	lines := logLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "corr-1", lines[0]["correlation_id"])
	assert.Equal(t, float64(http.StatusOK), lines[0]["status"])
}

func TestRequestLogging_LevelByStatus(t *testing.T) {
	tests := []struct {
		path   string
		status int
		want   string
	}{
		{"/api/v1/locks", http.StatusOK, "INFO"},
		{"/api/v1/locks", http.StatusConflict, "WARN"},
		{"/api/v1/locks", http.StatusServiceUnavailable, "ERROR"},
		{"/health/live", http.StatusOK, "DEBUG"},
		{"/health/ready", http.StatusServiceUnavailable, "ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.path+"_"+http.StatusText(tt.status), func(t *testing.T) {
			var buf bytes.Buffer
			h := RequestLogging(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))

			lines := logLines(t, &buf)
			require.Len(t, lines, 1)
			assert.Equal(t, tt.want, lines[0]["level"])
		})
	}
}

func TestRequestLogger_EnrichesContextLogger(t *testing.T) {
	var buf bytes.Buffer
	h := RequestLogger(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Info("handler line")
	}))

	ctx := logger.WithCorrelationID(context.Background(), "corr-9")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stocks", nil).WithContext(ctx)
	req.Header.Set(CallerHeader, "order-service")
	h.ServeHTTP(httptest.NewRecorder(), req)

	lines := logLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "corr-9", lines[0]["correlation_id"])
	assert.Equal(t, "order-service", lines[0]["caller"])
	assert.Equal(t, "test-svc", lines[0]["service"])
}

func TestRequestLogger_NoCallerHeader(t *testing.T) {
	var buf bytes.Buffer
	h := RequestLogger(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, logger.CallerFromContext(r.Context()))
		logger.FromContext(r.Context()).Info("handler line")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	lines := logLines(t, &buf)
	require.Len(t, lines, 1)
	assert.NotContains(t, lines[0], "caller")
}

func TestRecovery_WritesErrorEnvelope(t *testing.T) {
	var buf bytes.Buffer
	h := Recovery(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/locks/confirm", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL_ERROR", body.Error.Code)

	lines := logLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "panic recovered", lines[0]["msg"])
	assert.Equal(t, "boom", lines[0]["panic"])
	assert.NotEmpty(t, lines[0]["stack"])
}

func TestRecovery_RepanicsAbortHandler(t *testing.T) {
	h := Recovery(newTestLogger(&bytes.Buffer{}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestRecovery_PassesThrough(t *testing.T) {
	h := Recovery(newTestLogger(&bytes.Buffer{}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
