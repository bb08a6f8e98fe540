package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/utafrali/stockalloc/pkg/errors"
)

// errorEnvelope is the error half of the platform's JSON response envelope.
type errorEnvelope struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// maxResponseError bounds how much of an error body is read.
const maxResponseError = 1 << 20

// ParseResponseError consumes and closes the body of a non-2xx response from
// service and turns it into an error. Enveloped errors keep their meaning as
// AppErrors; anything else becomes a plain error with the raw body.
func ParseResponseError(resp *http.Response, service string) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseError))
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", service, resp.StatusCode, err)
	}

	var env errorEnvelope
	if json.Unmarshal(body, &env) != nil || env.Error == nil {
		return fmt.Errorf("%s returned status %d: %s", service, resp.StatusCode, body)
	}
	return downstreamError(resp.StatusCode, env.Error.Code, env.Error.Message, service)
}

// downstreamError maps a remote status and code to a local error. Remote
// 5xx other than 503 are not the caller's fault and stay internal.
func downstreamError(status int, code, message, service string) error {
	msg := service + ": " + message

	switch {
	case status == http.StatusNotFound:
		return apperrors.NotFound(service, message)
	case status == http.StatusBadRequest:
		return apperrors.InvalidInput(msg)
	case status == http.StatusConflict:
		return apperrors.Conflict(code, msg, nil)
	case status == http.StatusGone:
		return apperrors.Gone(msg)
	case status == http.StatusServiceUnavailable:
		return apperrors.ServiceUnavailable(code, msg, nil)
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("%s server error (%d/%s): %s", service, status, code, message)
	}
	return &apperrors.AppError{Code: code, Message: msg, Status: status}
}
