// Package brokerage implements domain.Brokerage, domain.MarketData, and
// domain.OrderStream against the HTTP/websocket gateway.
package brokerage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/levtrade/corebot/internal/crypto"
	"github.com/levtrade/corebot/internal/domain"
)

// rateLimitKey buckets all gateway REST calls under one sliding window.
const rateLimitKey = "broker:rest"

// Client is the REST client for the brokerage gateway.
type Client struct {
	baseURL    string
	auth       *crypto.HMACAuth
	limiter    domain.RateLimiter
	httpClient *http.Client
}

// ClientConfig holds the gateway endpoint and credentials.
type ClientConfig struct {
	BaseURL string
	Key     string
	Secret  string
	Account string
	Timeout time.Duration
}

// NewClient creates a new gateway REST client. The limiter may be nil, in
// which case requests are not throttled client-side.
func NewClient(cfg ClientConfig, limiter domain.RateLimiter) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		auth: &crypto.HMACAuth{
			Key:     cfg.Key,
			Secret:  cfg.Secret,
			Account: cfg.Account,
		},
		limiter:    limiter,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// PlaceOrder submits a new order to the gateway.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	body := orderRequestJSON{
		Symbol:   req.Symbol,
		Action:   string(req.Action),
		Kind:     string(req.Kind),
		Quantity: req.Quantity,
	}
	if req.Kind == domain.OrderKindLimit {
		price := req.LimitPrice
		body.LimitPrice = &price
	}

	respBody, err := c.doSignedRequest(ctx, http.MethodPost, "/api/v1/orders", body)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("brokerage: place order: %w", err)
	}

	var ack orderAckJSON
	if err := json.Unmarshal(respBody, &ack); err != nil {
		return domain.OrderAck{}, fmt.Errorf("brokerage: decode order ack: %w", err)
	}

	return domain.OrderAck{
		BrokerID: ack.OrderID,
		Status:   domain.OrderStatus(ack.Status),
	}, nil
}

// CancelOrder cancels an order by the gateway's identifier.
func (c *Client) CancelOrder(ctx context.Context, brokerID string) error {
	path := "/api/v1/orders/" + url.PathEscape(brokerID)
	if _, err := c.doSignedRequest(ctx, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("brokerage: cancel order %s: %w", brokerID, err)
	}
	return nil
}

// OrderStatus returns the current state of an order by the gateway's
// identifier.
func (c *Client) OrderStatus(ctx context.Context, brokerID string) (domain.OrderStatusEvent, error) {
	path := "/api/v1/orders/" + url.PathEscape(brokerID)
	respBody, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.OrderStatusEvent{}, fmt.Errorf("brokerage: order status %s: %w", brokerID, err)
	}

	var status orderStatusJSON
	if err := json.Unmarshal(respBody, &status); err != nil {
		return domain.OrderStatusEvent{}, fmt.Errorf("brokerage: decode order status: %w", err)
	}
	return status.toEvent(), nil
}

// Account returns the current account summary.
func (c *Client) Account(ctx context.Context) (domain.AccountSnapshot, error) {
	respBody, err := c.doSignedRequest(ctx, http.MethodGet, "/api/v1/account", nil)
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("brokerage: account: %w", err)
	}

	var acct accountJSON
	if err := json.Unmarshal(respBody, &acct); err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("brokerage: decode account: %w", err)
	}

	return domain.AccountSnapshot{
		Equity:      acct.Equity,
		Cash:        acct.Cash,
		BuyingPower: acct.BuyingPower,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

// Positions returns all open positions.
func (c *Client) Positions(ctx context.Context) ([]domain.BrokerPosition, error) {
	respBody, err := c.doSignedRequest(ctx, http.MethodGet, "/api/v1/positions", nil)
	if err != nil {
		return nil, fmt.Errorf("brokerage: positions: %w", err)
	}

	var resp struct {
		Positions []positionJSON `json:"positions"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("brokerage: decode positions: %w", err)
	}

	positions := make([]domain.BrokerPosition, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		positions = append(positions, p.toDomain())
	}
	return positions, nil
}

// Quote returns the latest top-of-book snapshot for a symbol.
func (c *Client) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	path := "/api/v1/quotes/" + url.PathEscape(symbol)
	respBody, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("brokerage: quote %s: %w", symbol, err)
	}

	var q quoteJSON
	if err := json.Unmarshal(respBody, &q); err != nil {
		return domain.Quote{}, fmt.Errorf("brokerage: decode quote: %w", err)
	}
	return q.toDomain(), nil
}

// Bars returns up to limit historical bars for a symbol ending at end.
func (c *Client) Bars(ctx context.Context, symbol string, interval domain.BarInterval, limit int, end time.Time) ([]domain.Bar, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", string(interval))
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if !end.IsZero() {
		params.Set("end", end.UTC().Format(time.RFC3339))
	}

	respBody, err := c.doSignedRequest(ctx, http.MethodGet, "/api/v1/bars?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("brokerage: bars %s/%s: %w", symbol, interval, err)
	}

	var resp struct {
		Bars []barJSON `json:"bars"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("brokerage: decode bars: %w", err)
	}

	bars := make([]domain.Bar, 0, len(resp.Bars))
	for _, b := range resp.Bars {
		bars = append(bars, b.toDomain())
	}
	return bars, nil
}

// PrevDailyClose returns the previous trading day's closing price.
func (c *Client) PrevDailyClose(ctx context.Context, symbol string) (float64, error) {
	path := "/api/v1/quotes/" + url.PathEscape(symbol) + "/prevclose"
	respBody, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, fmt.Errorf("brokerage: prev close %s: %w", symbol, err)
	}

	var resp struct {
		Symbol string  `json:"symbol"`
		Close  float64 `json:"close"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return 0, fmt.Errorf("brokerage: decode prev close: %w", err)
	}
	return resp.Close, nil
}

// doSignedRequest builds, signs, sends, and reads an HTTP request against
// the gateway, honouring the shared rate limiter when one is configured.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rateLimitKey); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	var bodyJSON []byte
	var bodyReader io.Reader
	if reqBody != nil {
		var err error
		bodyJSON, err = json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyJSON)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	for k, v := range c.auth.Headers(method, path, string(bodyJSON)) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w: %v", domain.ErrBrokerUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkStatus maps non-2xx HTTP status codes to domain sentinel errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr errorJSON
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s (%s)", domain.ErrNotFound, apiErr.Message, apiErr.Code)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s (%s)", domain.ErrUnauthorized, apiErr.Message, apiErr.Code)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s (%s)", domain.ErrRateLimited, apiErr.Message, apiErr.Code)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s (%s)", domain.ErrOrderRejected, apiErr.Message, apiErr.Code)
	default:
		if statusCode >= 500 {
			return fmt.Errorf("%w: HTTP %d: %s (%s)", domain.ErrBrokerUnavailable, statusCode, apiErr.Message, apiErr.Code)
		}
		return fmt.Errorf("brokerage: HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}

// Compile-time interface checks.
var (
	_ domain.Brokerage  = (*Client)(nil)
	_ domain.MarketData = (*Client)(nil)
)
