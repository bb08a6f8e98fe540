// Package order is the HTTP client for order drafts in the order service.
package order

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/utafrali/stockalloc/internal/domain"
	apperrors "github.com/utafrali/stockalloc/pkg/errors"
	"github.com/utafrali/stockalloc/pkg/httpclient"
)

const serviceName = "order-service"

// HTTPDoer is the interface for executing HTTP requests.
// Both httpclient.Client and httpclient.CircuitBreakerClient satisfy this.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client creates and deletes order drafts.
type Client struct {
	http    HTTPDoer
	baseURL string
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient creates an order service client. A positive timeout bounds each
// call.
func NewClient(doer HTTPDoer, baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		http:    doer,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		logger:  logger,
	}
}

type draftItem struct {
	LineID      string `json:"line_id"`
	ProductID   string `json:"product_id,omitempty"`
	VariantID   string `json:"variant_id,omitempty"`
	Quantity    int    `json:"quantity"`
	DisplayName string `json:"display_name,omitempty"`
}

type createDraftRequest struct {
	SessionKey  string             `json:"session_key"`
	Destination domain.Destination `json:"destination"`
	Items       []draftItem        `json:"items"`
}

type draftResponse struct {
	Data domain.OrderDraft `json:"data"`
}

// CreateDraft asks the order service for a provisional order covering items.
func (c *Client) CreateDraft(ctx context.Context, sessionKey string, dest domain.Destination, items []domain.CartItem) (*domain.OrderDraft, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req := createDraftRequest{
		SessionKey:  sessionKey,
		Destination: dest,
		Items:       make([]draftItem, len(items)),
	}
	for i, it := range items {
		req.Items[i] = draftItem{
			LineID:      it.LineID,
			ProductID:   it.ProductID,
			VariantID:   it.VariantID,
			Quantity:    it.Quantity,
			DisplayName: it.DisplayName,
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal create draft request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/orders/drafts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create draft request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(ctx, httpReq)
	if err != nil {
		return nil, c.callError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, httpclient.ParseResponseError(resp, serviceName)
	}

	var out draftResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode draft response: %w", err)
	}
	if out.Data.ID == "" {
		return nil, fmt.Errorf("decode draft response: missing draft id")
	}
	if out.Data.SessionKey == "" {
		out.Data.SessionKey = sessionKey
	}

	c.logger.InfoContext(ctx, "order draft created",
		slog.String("draft_id", out.Data.ID),
		slog.String("session_key", sessionKey),
		slog.Int("items", len(out.Data.Items)),
	)
	return &out.Data, nil
}

// DeleteDraft discards a draft. A draft that is already gone counts as
// deleted.
func (c *Client) DeleteDraft(ctx context.Context, draftID string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/v1/orders/drafts/"+url.PathEscape(draftID), http.NoBody)
	if err != nil {
		return fmt.Errorf("create delete draft request: %w", err)
	}

	resp, err := c.http.Do(ctx, httpReq)
	if err != nil {
		return c.callError(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound, http.StatusGone:
	default:
		return httpclient.ParseResponseError(resp, serviceName)
	}

	c.logger.InfoContext(ctx, "order draft deleted", slog.String("draft_id", draftID))
	return nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return ctx, func() {}
}

// callError maps transport failures. An open breaker or a 503 from the
// order service becomes a 503 so callers see a retryable condition rather
// than an internal error.
func (c *Client) callError(err error) error {
	var statusErr *httpclient.StatusError
	switch {
	case errors.Is(err, httpclient.ErrCircuitOpen):
	case errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusServiceUnavailable:
	default:
		return fmt.Errorf("call %s: %w", serviceName, err)
	}
	return apperrors.ServiceUnavailable("ORDER_SERVICE_UNAVAILABLE",
		"order service is temporarily unavailable, please retry", err)
}
