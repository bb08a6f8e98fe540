// Package httpclient is the outbound HTTP stack for calls to other platform
// services: retries with jittered backoff, header propagation and a circuit
// breaker.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/utafrali/stockalloc/pkg/logger"
)

// Headers set on every outbound request.
const (
	CallerHeader        = "X-Caller-Service"
	CorrelationIDHeader = "X-Correlation-ID"
)

// Config tunes a Client.
type Config struct {
	// Caller is sent as X-Caller-Service.
	Caller          string
	Timeout         time.Duration
	MaxRetries      int
	RetryWaitMin    time.Duration
	RetryWaitMax    time.Duration
	MaxConnsPerHost int
}

// DefaultConfig returns the settings used for service-to-service calls.
func DefaultConfig(caller string) Config {
	return Config{
		Caller:          caller,
		Timeout:         30 * time.Second,
		MaxRetries:      3,
		RetryWaitMin:    time.Second,
		RetryWaitMax:    5 * time.Second,
		MaxConnsPerHost: 100,
	}
}

// Client is an http.Client that retries transient failures.
type Client struct {
	http *http.Client
	cfg  Config
}

// New builds a Client with its own pooled transport.
func New(cfg Config) *Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   cfg.MaxConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &Client{
		http: &http.Client{Transport: transport, Timeout: cfg.Timeout},
		cfg:  cfg,
	}
}

// decorate sets the caller, correlation id and trace context headers.
func (c *Client) decorate(ctx context.Context, req *http.Request) {
	if c.cfg.Caller != "" {
		req.Header.Set(CallerHeader, c.cfg.Caller)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		req.Header.Set(CorrelationIDHeader, id)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// Do sends req, retrying network errors and retryable 5xx statuses. When
// retries run out on a 5xx the last response is returned. A request body
// is only replayed through req.GetBody; without it the first attempt is
// final.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	c.decorate(ctx, req)
	replayable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.backoff(attempt)); err != nil {
				return nil, err
			}
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("rewind request body: %w", err)
				}
				req.Body = body
			}
		}

		last := attempt >= c.cfg.MaxRetries || !replayable
		resp, err := c.http.Do(req)
		if err != nil {
			if !last && isRetryableError(err) {
				continue
			}
			return nil, fmt.Errorf("%s %s failed after %d attempts: %w", req.Method, req.URL.Path, attempt+1, err)
		}
		if !last && retryableStatus(resp.StatusCode) {
			_ = resp.Body.Close()
			continue
		}
		return resp, nil
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retryableStatus reports whether a response is worth another attempt. 501
// means the endpoint will never work.
func retryableStatus(code int) bool {
	return code >= http.StatusInternalServerError && code != http.StatusNotImplemented
}

// backoff doubles from RetryWaitMin up to RetryWaitMax, with jitter.
func (c *Client) backoff(attempt int) time.Duration {
	wait := c.cfg.RetryWaitMin
	for i := 1; i < attempt && wait < c.cfg.RetryWaitMax; i++ {
		wait *= 2
	}
	return jitter(min(wait, c.cfg.RetryWaitMax))
}

// jitter spreads d by up to 25% either way.
func jitter(d time.Duration) time.Duration {
	spread := int64(d) / 4
	if spread <= 0 {
		return max(d, 0)
	}
	return d + time.Duration(rand.Int64N(2*spread+1)-spread)
}

func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
