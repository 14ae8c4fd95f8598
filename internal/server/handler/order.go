package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/levtrade/corebot/internal/domain"
)

// OrderService defines what the order handler requires from the lifecycle
// manager.
type OrderService interface {
	Submit(ctx context.Context, req domain.OrderRequest) (domain.Order, error)
	Cancel(ctx context.Context, orderID string) error
	Get(ctx context.Context, orderID string) (domain.Order, error)
	StatusHistory(ctx context.Context, orderID string) ([]domain.OrderStatusEvent, error)
	ListActive(ctx context.Context) ([]domain.Order, error)
}

// OrderHandler serves order-related HTTP endpoints.
type OrderHandler struct {
	orders OrderService
	store  domain.OrderStore
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given service, store, and
// logger. The store serves historical listings; mutations go through the
// service.
func NewOrderHandler(orders OrderService, store domain.OrderStore, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, store: store, logger: logger}
}

// submitOrderRequest is the JSON body for manual order submission.
type submitOrderRequest struct {
	Symbol     string  `json:"symbol"`
	Action     string  `json:"action"`
	Kind       string  `json:"type"`
	Quantity   int64   `json:"quantity"`
	LimitPrice float64 `json:"limit_price"`
}

// ListOrders returns active orders, or order history for a symbol.
// GET /api/orders?symbol=TQQQ&active=true&limit=50&offset=0
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var orders []domain.Order
	var err error
	if q.Get("active") == "true" {
		orders, err = h.orders.ListActive(r.Context())
	} else {
		orders, err = h.store.List(r.Context(), q.Get("symbol"), parseListOpts(r))
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list orders failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// SubmitOrder places a manual order through the lifecycle manager. Guardrails
// and session rules still apply.
// POST /api/orders
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var body submitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if body.Symbol == "" || body.Action == "" || body.Quantity <= 0 {
		writeError(w, http.StatusBadRequest, "symbol, action, and positive quantity are required")
		return
	}

	kind := domain.OrderKind(body.Kind)
	if kind == "" {
		kind = domain.OrderKindLimit
	}

	order, err := h.orders.Submit(r.Context(), domain.OrderRequest{
		Symbol:     body.Symbol,
		Action:     domain.OrderAction(body.Action),
		Kind:       kind,
		Quantity:   body.Quantity,
		LimitPrice: body.LimitPrice,
		Tag:        domain.OrderTagManual,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidOrder):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrMarketClosed):
			writeError(w, http.StatusConflict, "outside trading sessions")
		case errors.Is(err, domain.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, "rate limited")
		case errors.Is(err, domain.ErrOrderRejected):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.logger.ErrorContext(r.Context(), "handler: submit order failed",
				slog.String("symbol", body.Symbol),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to submit order")
		}
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

// GetOrder returns a single order by its local ID.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.orders.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get order failed",
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load order")
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// GetHistory returns an order's full status event history.
// GET /api/orders/{id}/history
func (h *OrderHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	events, err := h.orders.StatusHistory(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: order history failed",
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load order history")
		return
	}

	if events == nil {
		events = []domain.OrderStatusEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// CancelOrder cancels an order by its local ID.
// DELETE /api/orders/{id}
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	if err := h.orders.Cancel(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, domain.ErrOrderTerminal):
			writeError(w, http.StatusConflict, "order already terminal")
		default:
			h.logger.ErrorContext(r.Context(), "handler: cancel order failed",
				slog.String("order_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to cancel order")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "cancelled",
		"order_id": id,
	})
}
