package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(context.Context) error { return nil }

func down(msg string) Checker {
	return func(context.Context) error { return fmt.Errorf("%s", msg) }
}

func probe(t *testing.T, h http.HandlerFunc) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec.Code, resp
}

func TestLivenessHandler_AlwaysReturns200(t *testing.T) {
	h := NewHandler()
	h.Register("db", down("unreachable"))

	code, resp := probe(t, h.LivenessHandler())

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusUp, resp.Status)
	assert.False(t, resp.Timestamp.IsZero())
	assert.Empty(t, resp.Checks)
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(h *Handler)
		wantCode   int
		wantStatus Status
	}{
		{
			name:       "no checkers",
			setup:      func(*Handler) {},
			wantCode:   http.StatusOK,
			wantStatus: StatusUp,
		},
		{
			name: "all up",
			setup: func(h *Handler) {
				h.RegisterCritical("postgres", up)
				h.RegisterNonCritical("kafka", up)
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusUp,
		},
		{
			name: "non-critical down is degraded",
			setup: func(h *Handler) {
				h.RegisterCritical("postgres", up)
				h.RegisterNonCritical("kafka", down("broker unreachable"))
				h.RegisterNonCritical("redis", down("redis down"))
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
		},
		{
			name: "critical down",
			setup: func(h *Handler) {
				h.RegisterCritical("postgres", down("connection refused"))
				h.RegisterNonCritical("redis", down("redis down"))
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusDown,
		},
		{
			name: "register defaults to critical",
			setup: func(h *Handler) {
				h.Register("db", down("fail"))
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusDown,
		},
		{
			name: "register overwrites by name",
			setup: func(h *Handler) {
				h.Register("db", down("fail"))
				h.Register("db", up)
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusUp,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler()
			tt.setup(h)

			code, resp := probe(t, h.ReadinessHandler())

			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, resp.Status)
		})
	}
}

func TestReadinessHandler_ReportsEachCheck(t *testing.T) {
	h := NewHandler()
	h.RegisterCritical("postgres", up)
	h.RegisterNonCritical("kafka", down("broker unreachable"))

	_, resp := probe(t, h.ReadinessHandler())

	require.Len(t, resp.Checks, 2)
	assert.Equal(t, CheckResult{Status: StatusUp, Critical: true}, resp.Checks["postgres"])
	assert.Equal(t, CheckResult{Status: StatusDown, Error: "broker unreachable"}, resp.Checks["kafka"])
}

func TestReadinessHandler_ChecksSeeDeadline(t *testing.T) {
	h := NewHandler()
	h.Register("deadline", func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return fmt.Errorf("no deadline")
		}
		return nil
	})

	code, _ := probe(t, h.ReadinessHandler())

	assert.Equal(t, http.StatusOK, code)
}
