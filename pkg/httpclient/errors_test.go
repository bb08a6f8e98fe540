package httpclient

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/stockalloc/pkg/errors"
)

func makeResponse(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func structuredError(code, message string) string {
	return `{"error":{"code":"` + code + `","message":"` + message + `"}}`
}

func TestParseResponseError_Structured(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		code     string
		sentinel error
	}{
		{"not found", http.StatusNotFound, "NOT_FOUND", apperrors.ErrNotFound},
		{"bad request", http.StatusBadRequest, "INVALID_INPUT", apperrors.ErrInvalidInput},
		{"conflict", http.StatusConflict, "DRAFT_EXISTS", apperrors.ErrConflict},
		{"gone", http.StatusGone, "GONE", apperrors.ErrGone},
		{"unavailable", http.StatusServiceUnavailable, "MAINTENANCE", apperrors.ErrServiceUnavail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ParseResponseError(makeResponse(tt.status, structuredError(tt.code, "draft d-1")), "order-service")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.sentinel), "got %v", err)
			assert.Equal(t, tt.status, apperrors.HTTPStatus(err))
		})
	}
}

func TestParseResponseError_ConflictKeepsDownstreamCode(t *testing.T) {
	err := ParseResponseError(makeResponse(http.StatusConflict, structuredError("DRAFT_EXISTS", "exists")), "order-service")

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "DRAFT_EXISTS", appErr.Code)
	assert.Equal(t, "order-service: exists", appErr.Message)
}

func TestParseResponseError_ServerError(t *testing.T) {
	err := ParseResponseError(makeResponse(http.StatusBadGateway, structuredError("UPSTREAM", "bad gateway")), "order-service")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order-service server error (502/UPSTREAM)")
	assert.Equal(t, http.StatusInternalServerError, apperrors.HTTPStatus(err))
}

func TestParseResponseError_OtherStatusKeepsStatus(t *testing.T) {
	err := ParseResponseError(makeResponse(http.StatusUnprocessableEntity, structuredError("UNPROCESSABLE", "bad draft")), "order-service")
	assert.Equal(t, http.StatusUnprocessableEntity, apperrors.HTTPStatus(err))
}

func TestParseResponseError_ClosesBody(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader("nope")}
	_ = ParseResponseError(&http.Response{StatusCode: http.StatusTeapot, Body: body}, "order-service")
	assert.True(t, body.closed)
}

type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

func TestParseResponseError_Unstructured(t *testing.T) {
	for _, body := range []string{"plain text failure", "", "<html>oops</html>", `{"error":null}`} {
		err := ParseResponseError(makeResponse(http.StatusBadRequest, body), "order-service")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "order-service returned status 400")
	}
}
