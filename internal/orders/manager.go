// Package orders owns the order lifecycle: validated submission with bounded
// retries, confirmed cancellation, append-only status history, and the
// protective sells (profit targets, gap adjustments) that ride on fills.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/levtrade/corebot/internal/domain"
)

const (
	submitAttempts    = 3
	backoffBase       = 2 * time.Second
	backoffCap        = 10 * time.Second
	awaitPoll         = time.Second
	cancelConfirmWait = 10 * time.Second
	gapExitWait       = 10 * time.Second

	// Status events can beat their order row into the store when the
	// brokerage reports synchronously. They wait here, briefly, for Submit.
	pendingEventCap = 16
	pendingEventTTL = time.Minute
)

// SessionSource reports which trading session an instant belongs to, so
// orders can be stamped with the window they were born in.
type SessionSource interface {
	Current(now time.Time) (domain.Session, bool)
}

// Fractions holds the configured pricing offsets for protective sells.
type Fractions struct {
	ProfitTarget  float64
	GapSellOffset float64
	GapExitOffset float64
}

// Manager drives orders from submission to a terminal status. One Manager
// serves the whole process; status application is serialized so the stream
// consumer and synchronous pollers cannot interleave updates.
type Manager struct {
	store    domain.OrderStore
	lots     domain.CoreStore
	perf     domain.PerformanceStore
	broker   domain.Brokerage
	sessions SessionSource
	bus      domain.EventBus
	audit    domain.AuditStore
	frac     Fractions
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string][]domain.OrderStatusEvent
	backoff func(attempt int) time.Duration
}

// NewManager creates a Manager with all required dependencies.
func NewManager(
	store domain.OrderStore,
	lots domain.CoreStore,
	perf domain.PerformanceStore,
	broker domain.Brokerage,
	sessions SessionSource,
	bus domain.EventBus,
	audit domain.AuditStore,
	frac Fractions,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		store:    store,
		lots:     lots,
		perf:     perf,
		broker:   broker,
		sessions: sessions,
		bus:      bus,
		audit:    audit,
		frac:     frac,
		logger:   logger.With(slog.String("component", "order_manager")),
		pending:  make(map[string][]domain.OrderStatusEvent),
		backoff:  retryBackoff,
	}
}

// retryBackoff doubles from the base and never exceeds the cap: 2s, 4s, 8s...
func retryBackoff(attempt int) time.Duration {
	d := backoffBase << (attempt - 1)
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

// transient reports whether a brokerage error is worth retrying. Rejections
// and validation failures are final; connectivity and throttling are not.
func transient(err error) bool {
	return errors.Is(err, domain.ErrBrokerUnavailable) || errors.Is(err, domain.ErrRateLimited)
}

func validateRequest(req domain.OrderRequest) error {
	switch {
	case req.Symbol == "":
		return fmt.Errorf("orders: missing symbol: %w", domain.ErrInvalidOrder)
	case req.Quantity < 1:
		return fmt.Errorf("orders: quantity %d below one share: %w", req.Quantity, domain.ErrInvalidOrder)
	case req.Action != domain.OrderActionBuy && req.Action != domain.OrderActionSell:
		return fmt.Errorf("orders: unknown action %q: %w", req.Action, domain.ErrInvalidOrder)
	case req.Kind != domain.OrderKindLimit && req.Kind != domain.OrderKindMarket:
		return fmt.Errorf("orders: unknown kind %q: %w", req.Kind, domain.ErrInvalidOrder)
	case req.Kind == domain.OrderKindLimit && req.LimitPrice <= 0:
		return fmt.Errorf("orders: limit order without a positive limit price: %w", domain.ErrInvalidOrder)
	}
	return nil
}

// Submit validates the request, places it with the brokerage (retrying
// transient failures with exponential backoff), and persists the new order
// with its first SUBMITTED history row. A rejection is returned immediately,
// never retried.
func (m *Manager) Submit(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	if err := validateRequest(req); err != nil {
		return domain.Order{}, err
	}

	log := m.logger.With(
		slog.String("symbol", req.Symbol),
		slog.String("action", string(req.Action)),
		slog.String("tag", string(req.Tag)),
	)

	var ack domain.OrderAck
	var lastErr error
	for attempt := 1; attempt <= submitAttempts; attempt++ {
		if attempt > 1 {
			if err := m.wait(ctx, m.backoff(attempt-1)); err != nil {
				return domain.Order{}, fmt.Errorf("orders: submit %s %s: %w", req.Action, req.Symbol, err)
			}
		}
		ack, lastErr = m.broker.PlaceOrder(ctx, req)
		if lastErr == nil {
			break
		}
		if !transient(lastErr) {
			return domain.Order{}, fmt.Errorf("orders: submit %s %s: %w", req.Action, req.Symbol, lastErr)
		}
		log.WarnContext(ctx, "order submit attempt failed",
			slog.Int("attempt", attempt),
			slog.Any("error", lastErr),
		)
	}
	if lastErr != nil {
		return domain.Order{}, fmt.Errorf("orders: submit %s %s: %d attempts exhausted: %w",
			req.Action, req.Symbol, submitAttempts, lastErr)
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:           uuid.NewString(),
		BrokerID:     ack.BrokerID,
		Symbol:       req.Symbol,
		Action:       req.Action,
		Kind:         req.Kind,
		Quantity:     req.Quantity,
		Tag:          req.Tag,
		Session:      m.sessionName(now),
		Status:       domain.OrderStatusSubmitted,
		RemainingQty: req.Quantity,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.LimitPrice > 0 {
		lp := req.LimitPrice
		order.LimitPrice = &lp
	}
	if req.LotID != "" {
		id := req.LotID
		order.LotID = &id
	}

	// The order is live at the brokerage from here on: persistence failures
	// are durability gaps, not submission failures.
	if err := m.store.Create(ctx, order); err != nil {
		log.ErrorContext(ctx, "order row create failed",
			slog.String("order_id", order.ID),
			slog.String("broker_id", order.BrokerID),
			slog.Any("error", err),
		)
	}
	if err := m.store.AppendStatusEvent(ctx, domain.OrderStatusEvent{
		OrderID:      order.ID,
		BrokerID:     order.BrokerID,
		Status:       domain.OrderStatusSubmitted,
		RemainingQty: order.Quantity,
		OccurredAt:   now,
	}); err != nil {
		log.ErrorContext(ctx, "submitted event append failed",
			slog.String("order_id", order.ID),
			slog.Any("error", err),
		)
	}

	m.publish(ctx, map[string]string{
		"event":  "order_submitted",
		"order":  order.ID,
		"symbol": order.Symbol,
		"action": string(order.Action),
		"tag":    string(order.Tag),
	})
	log.InfoContext(ctx, "order submitted",
		slog.String("order_id", order.ID),
		slog.String("broker_id", order.BrokerID),
		slog.Int64("quantity", order.Quantity),
	)
	// A synchronous brokerage can report the fill before the row above
	// existed; those events were buffered and are applied now.
	return m.flushPending(ctx, order), nil
}

// Cancel asks the brokerage to cancel and waits for confirmation before the
// order is marked CANCELLED. If the order fills first, the fill wins and
// Cancel reports it.
func (m *Manager) Cancel(ctx context.Context, orderID string) error {
	order, err := m.store.GetByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("orders: cancel %s: %w", orderID, err)
	}
	if order.Terminal() {
		return fmt.Errorf("orders: cancel %s: status %s: %w", orderID, order.Status, domain.ErrOrderTerminal)
	}

	if err := m.broker.CancelOrder(ctx, order.BrokerID); err != nil {
		return fmt.Errorf("orders: cancel %s: %w", orderID, err)
	}

	final, err := m.confirmTerminal(ctx, order, cancelConfirmWait)
	if err != nil {
		return fmt.Errorf("orders: cancel %s: confirm: %w", orderID, err)
	}
	if final.Status != domain.OrderStatusCancelled {
		return fmt.Errorf("orders: cancel %s: ended %s: %w", orderID, final.Status, domain.ErrOrderTerminal)
	}

	m.auditEvent(ctx, "order_cancelled", map[string]any{
		"order_id": orderID,
		"symbol":   order.Symbol,
		"filled":   final.FilledQty,
	})
	return nil
}

// AwaitTerminal polls the brokerage until the order reaches a terminal
// status or the timeout passes, applying every observed update on the way.
func (m *Manager) AwaitTerminal(ctx context.Context, orderID string, timeout time.Duration) (domain.Order, error) {
	order, err := m.store.GetByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("orders: await %s: %w", orderID, err)
	}
	if order.Terminal() {
		return order, nil
	}
	final, err := m.confirmTerminal(ctx, order, timeout)
	if err != nil {
		return final, fmt.Errorf("orders: await %s: %w", orderID, err)
	}
	return final, nil
}

// confirmTerminal polls broker status for the order until it turns terminal
// or the deadline passes, returning the freshest snapshot either way.
func (m *Manager) confirmTerminal(ctx context.Context, order domain.Order, timeout time.Duration) (domain.Order, error) {
	deadline := time.Now().Add(timeout)
	for {
		ev, err := m.broker.OrderStatus(ctx, order.BrokerID)
		if err != nil {
			m.logger.DebugContext(ctx, "order status poll failed",
				slog.String("order_id", order.ID),
				slog.Any("error", err),
			)
		} else {
			updated, applyErr := m.ApplyStatusEvent(ctx, ev)
			if applyErr == nil {
				order = updated
			}
		}
		if order.Terminal() {
			return order, nil
		}
		if time.Now().After(deadline) {
			return order, fmt.Errorf("still %s after %s: %w", order.Status, timeout, context.DeadlineExceeded)
		}
		if err := m.wait(ctx, awaitPoll); err != nil {
			return order, err
		}
	}
}

// Resubmit places a brand-new order equivalent to the unfilled remainder of
// a cancelled one. History never moves between orders; the new order starts
// its own.
func (m *Manager) Resubmit(ctx context.Context, prev domain.Order) (domain.Order, error) {
	qty := prev.RemainingQty
	if qty <= 0 {
		qty = prev.Quantity - prev.FilledQty
	}
	if qty <= 0 {
		return domain.Order{}, fmt.Errorf("orders: resubmit %s: nothing unfilled: %w", prev.ID, domain.ErrInvalidOrder)
	}
	req := domain.OrderRequest{
		Symbol:   prev.Symbol,
		Action:   prev.Action,
		Kind:     prev.Kind,
		Quantity: qty,
		Tag:      domain.OrderTagResubmit,
	}
	if prev.LimitPrice != nil {
		req.LimitPrice = *prev.LimitPrice
	}
	if prev.LotID != nil {
		req.LotID = *prev.LotID
	}
	return m.Submit(ctx, req)
}

// ListActive returns all orders not yet terminal.
func (m *Manager) ListActive(ctx context.Context) ([]domain.Order, error) {
	return m.store.ListActive(ctx)
}

// CancelAll cancels every active order, returning the first error after
// attempting all of them. Used at shutdown and session close.
func (m *Manager) CancelAll(ctx context.Context) error {
	active, err := m.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("orders: cancel all: %w", err)
	}
	var firstErr error
	for _, o := range active {
		if err := m.Cancel(ctx, o.ID); err != nil {
			m.logger.WarnContext(ctx, "cancel all: order cancel failed",
				slog.String("order_id", o.ID),
				slog.String("symbol", o.Symbol),
				slog.Any("error", err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if len(active) > 0 {
		m.logger.InfoContext(ctx, "cancel all finished",
			slog.Int("orders", len(active)),
			slog.Bool("clean", firstErr == nil),
		)
	}
	return firstErr
}

func (m *Manager) sessionName(now time.Time) domain.SessionName {
	if m.sessions == nil {
		return ""
	}
	if s, ok := m.sessions.Current(now); ok {
		return s.Name
	}
	return ""
}

func (m *Manager) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (m *Manager) publish(ctx context.Context, payload map[string]string) {
	evt, _ := json.Marshal(payload)
	if err := m.bus.Publish(ctx, "events:order", evt); err != nil {
		m.logger.WarnContext(ctx, "order event publish failed",
			slog.Any("error", err),
		)
	}
}

func (m *Manager) auditEvent(ctx context.Context, event string, detail map[string]any) {
	if err := m.audit.Log(ctx, event, detail); err != nil {
		m.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.Any("error", err),
		)
	}
}

// roundCents snaps a computed price to a penny increment.
func roundCents(p float64) float64 {
	return math.Round(p*100) / 100
}
