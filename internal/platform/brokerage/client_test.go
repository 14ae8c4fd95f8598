package brokerage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levtrade/corebot/internal/domain"
)

func testSecret() string {
	return base64.StdEncoding.EncodeToString([]byte("test-secret"))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{
		BaseURL: srv.URL,
		Key:     "test-key",
		Secret:  testSecret(),
		Account: "acct",
		Timeout: 5 * time.Second,
	}, nil)
}

func TestPlaceOrderSignsAndDecodes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/orders", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("CB-ACCESS-KEY"))
		assert.NotEmpty(t, r.Header.Get("CB-ACCESS-SIGN"))
		assert.NotEmpty(t, r.Header.Get("CB-ACCESS-TIMESTAMP"))

		var req orderRequestJSON
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "TQQQ", req.Symbol)
		assert.Equal(t, "BUY", req.Action)
		require.NotNil(t, req.LimitPrice)
		assert.Equal(t, 52.3, *req.LimitPrice)

		json.NewEncoder(w).Encode(orderAckJSON{OrderID: "brk-1", Status: "SUBMITTED"})
	})

	ack, err := client.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol:     "TQQQ",
		Action:     domain.OrderActionBuy,
		Kind:       domain.OrderKindLimit,
		Quantity:   10,
		LimitPrice: 52.3,
	})
	require.NoError(t, err)
	assert.Equal(t, "brk-1", ack.BrokerID)
	assert.Equal(t, domain.OrderStatusSubmitted, ack.Status)
}

func TestMarketOrderOmitsLimitPrice(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req orderRequestJSON
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Nil(t, req.LimitPrice)
		json.NewEncoder(w).Encode(orderAckJSON{OrderID: "brk-2", Status: "SUBMITTED"})
	})

	_, err := client.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol:   "TQQQ",
		Action:   domain.OrderActionSell,
		Kind:     domain.OrderKindMarket,
		Quantity: 5,
	})
	require.NoError(t, err)
}

func TestCheckStatusMapsSentinels(t *testing.T) {
	cases := []struct {
		name string
		code int
		want error
	}{
		{"not found", http.StatusNotFound, domain.ErrNotFound},
		{"unauthorized", http.StatusUnauthorized, domain.ErrUnauthorized},
		{"rate limited", http.StatusTooManyRequests, domain.ErrRateLimited},
		{"rejected", http.StatusBadRequest, domain.ErrOrderRejected},
		{"unavailable", http.StatusBadGateway, domain.ErrBrokerUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := checkStatus(tc.code, []byte(`{"code":"x","message":"y"}`))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestOrderStatus(t *testing.T) {
	updated := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/orders/brk-9", r.URL.Path)
		json.NewEncoder(w).Encode(orderStatusJSON{
			OrderID:       "brk-9",
			Status:        "PARTIALLY_FILLED",
			FilledQty:     4,
			RemainingQty:  6,
			AvgFillPrice:  51.9,
			LastFillPrice: 52.0,
			UpdatedAt:     updated,
		})
	})

	ev, err := client.OrderStatus(context.Background(), "brk-9")
	require.NoError(t, err)
	assert.Equal(t, "brk-9", ev.BrokerID)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, ev.Status)
	assert.Equal(t, int64(4), ev.FilledQty)
	assert.Equal(t, updated, ev.OccurredAt)
}

func TestBarsQueryParams(t *testing.T) {
	end := time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "TQQQ", q.Get("symbol"))
		assert.Equal(t, "1d", q.Get("interval"))
		assert.Equal(t, "30", q.Get("limit"))
		assert.Equal(t, "2026-03-02T21:00:00Z", q.Get("end"))
		json.NewEncoder(w).Encode(map[string]any{"bars": []barJSON{
			{Symbol: "TQQQ", Interval: "1d", Close: 50.5, Start: end},
		}})
	})

	bars, err := client.Bars(context.Background(), "TQQQ", domain.BarDaily, 30, end)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, domain.BarDaily, bars[0].Interval)
	assert.Equal(t, 50.5, bars[0].Close)
}
