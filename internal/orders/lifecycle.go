package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/levtrade/corebot/internal/domain"
)

// ApplyStatusEvent folds one brokerage status update into the order's
// snapshot and its append-only history. Redelivered events (same status and
// filled quantity as the snapshot) are dropped, and a terminal order never
// changes status again. An event whose order row has not landed yet (the
// brokerage can report a fill before Submit persists the row) is buffered
// by broker ID and replayed once Submit finishes.
func (m *Manager) ApplyStatusEvent(ctx context.Context, ev domain.OrderStatusEvent) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, err := m.resolve(ctx, ev)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) && ev.BrokerID != "" {
			m.stashPending(ctx, ev)
			return domain.Order{}, nil
		}
		return domain.Order{}, err
	}
	return m.apply(ctx, order, ev)
}

// apply folds ev into order and persists the result. Caller holds m.mu.
func (m *Manager) apply(ctx context.Context, order domain.Order, ev domain.OrderStatusEvent) (domain.Order, error) {
	if order.Status == ev.Status && order.FilledQty == ev.FilledQty {
		return order, nil
	}
	if order.Terminal() {
		m.logger.DebugContext(ctx, "status event after terminal ignored",
			slog.String("order_id", order.ID),
			slog.String("current", string(order.Status)),
			slog.String("incoming", string(ev.Status)),
		)
		return order, nil
	}

	order.Status = ev.Status
	order.FilledQty = ev.FilledQty
	order.RemainingQty = ev.RemainingQty
	if ev.RemainingQty == 0 && ev.Status != domain.OrderStatusFilled {
		order.RemainingQty = order.Quantity - order.FilledQty
	}
	if ev.AvgFillPrice > 0 {
		order.AvgFillPrice = ev.AvgFillPrice
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	order.UpdatedAt = ev.OccurredAt

	if err := m.store.UpdateSnapshot(ctx, order); err != nil {
		return order, fmt.Errorf("orders: apply %s: snapshot: %w", order.ID, err)
	}
	ev.OrderID = order.ID
	if err := m.store.AppendStatusEvent(ctx, ev); err != nil {
		m.logger.ErrorContext(ctx, "status event append failed",
			slog.String("order_id", order.ID),
			slog.String("status", string(ev.Status)),
			slog.Any("error", err),
		)
	}

	m.publish(ctx, map[string]string{
		"event":  "order_status",
		"order":  order.ID,
		"symbol": order.Symbol,
		"status": string(order.Status),
		"tag":    string(order.Tag),
	})
	m.logger.InfoContext(ctx, "order status applied",
		slog.String("order_id", order.ID),
		slog.String("symbol", order.Symbol),
		slog.String("status", string(order.Status)),
		slog.Int64("filled", order.FilledQty),
	)

	if order.Terminal() {
		m.onTerminal(ctx, order)
	}
	return order, nil
}

// resolve finds the order a status event belongs to, by our ID first and the
// brokerage's otherwise.
func (m *Manager) resolve(ctx context.Context, ev domain.OrderStatusEvent) (domain.Order, error) {
	if ev.OrderID != "" {
		order, err := m.store.GetByID(ctx, ev.OrderID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Order{}, fmt.Errorf("orders: resolve %s: %w", ev.OrderID, err)
		}
	}
	if ev.BrokerID == "" {
		return domain.Order{}, fmt.Errorf("orders: status event without an order reference: %w", domain.ErrNotFound)
	}
	order, err := m.store.GetByBrokerID(ctx, ev.BrokerID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("orders: resolve broker id %s: %w", ev.BrokerID, err)
	}
	return order, nil
}

// stashPending holds a status event whose order row is not visible yet.
// Caller holds m.mu. Stale entries are pruned so an event for an order
// that never lands cannot pin memory.
func (m *Manager) stashPending(ctx context.Context, ev domain.OrderStatusEvent) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	cutoff := time.Now().UTC().Add(-pendingEventTTL)
	for id, evs := range m.pending {
		kept := evs[:0]
		for _, e := range evs {
			if e.OccurredAt.After(cutoff) {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(m.pending, id)
			continue
		}
		m.pending[id] = kept
	}
	queue := m.pending[ev.BrokerID]
	if len(queue) >= pendingEventCap {
		queue = queue[1:]
	}
	m.pending[ev.BrokerID] = append(queue, ev)
	m.logger.DebugContext(ctx, "status event buffered until order persists",
		slog.String("broker_id", ev.BrokerID),
		slog.String("status", string(ev.Status)))
}

// flushPending replays events buffered for the order's broker ID, in arrival
// order, now that the row exists. Returns the order after replay.
func (m *Manager) flushPending(ctx context.Context, order domain.Order) domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	buffered := m.pending[order.BrokerID]
	if len(buffered) == 0 {
		return order
	}
	delete(m.pending, order.BrokerID)
	for _, ev := range buffered {
		next, err := m.apply(ctx, order, ev)
		if err != nil {
			m.logger.ErrorContext(ctx, "buffered status event failed",
				slog.String("order_id", order.ID),
				slog.String("status", string(ev.Status)),
				slog.String("error", err.Error()))
			continue
		}
		order = next
	}
	return order
}

// onTerminal runs the side effects of an order leaving the active set:
// sold shares come off their lots and realized results are recorded.
func (m *Manager) onTerminal(ctx context.Context, order domain.Order) {
	if order.Status == domain.OrderStatusRejected {
		m.auditEvent(ctx, "order_rejected", map[string]any{
			"order_id": order.ID,
			"symbol":   order.Symbol,
			"tag":      string(order.Tag),
		})
		m.publish(ctx, map[string]string{
			"event":  "order_rejected",
			"order":  order.ID,
			"symbol": order.Symbol,
		})
		return
	}
	if order.Action != domain.OrderActionSell || order.FilledQty <= 0 {
		return
	}

	switch {
	case order.LotID != nil:
		m.settleLotSale(ctx, order)
	case order.Tag == domain.OrderTagCoreUnwind:
		m.consumeCore(ctx, order)
	}
}

// settleLotSale closes (or shrinks) the lot a protective sell was tied to
// and records the realized trade.
func (m *Manager) settleLotSale(ctx context.Context, order domain.Order) {
	lot, err := m.lots.GetLot(ctx, *order.LotID)
	if err != nil {
		m.logger.ErrorContext(ctx, "sold lot lookup failed",
			slog.String("order_id", order.ID),
			slog.String("lot_id", *order.LotID),
			slog.Any("error", err),
		)
		return
	}
	if lot.Status != domain.LotStatusOpen {
		return
	}

	sold := order.FilledQty
	if sold > lot.Quantity {
		sold = lot.Quantity
	}
	closedAt := order.UpdatedAt
	if sold == lot.Quantity {
		err = m.lots.CloseLot(ctx, lot.ID, closedAt)
	} else {
		err = m.lots.ReduceLot(ctx, lot.ID, lot.Quantity-sold)
	}
	if err != nil {
		m.logger.ErrorContext(ctx, "lot settlement failed",
			slog.String("lot_id", lot.ID),
			slog.Int64("sold", sold),
			slog.Any("error", err),
		)
		return
	}

	m.recordTrade(ctx, order, lot, sold, closedAt)
}

// consumeCore walks core lots oldest-first, selling through them until the
// unwind's filled quantity is accounted for.
func (m *Manager) consumeCore(ctx context.Context, order domain.Order) {
	lots, err := m.lots.ActiveLots(ctx, order.Symbol, domain.LotTypeCore)
	if err != nil {
		m.logger.ErrorContext(ctx, "unwind lot walk failed",
			slog.String("order_id", order.ID),
			slog.String("symbol", order.Symbol),
			slog.Any("error", err),
		)
		return
	}
	remaining := order.FilledQty
	closedAt := order.UpdatedAt
	for _, lot := range lots {
		if remaining <= 0 {
			break
		}
		sold := lot.Quantity
		if sold > remaining {
			sold = remaining
		}
		if sold == lot.Quantity {
			err = m.lots.CloseLot(ctx, lot.ID, closedAt)
		} else {
			err = m.lots.ReduceLot(ctx, lot.ID, lot.Quantity-sold)
		}
		if err != nil {
			m.logger.ErrorContext(ctx, "unwind lot settlement failed",
				slog.String("lot_id", lot.ID),
				slog.Any("error", err),
			)
			return
		}
		m.recordTrade(ctx, order, lot, sold, closedAt)
		remaining -= sold
	}
	if remaining > 0 {
		m.logger.WarnContext(ctx, "unwind sold more shares than tracked core lots",
			slog.String("symbol", order.Symbol),
			slog.Int64("untracked", remaining),
		)
	}
}

func (m *Manager) recordTrade(ctx context.Context, order domain.Order, lot domain.Lot, sold int64, closedAt time.Time) {
	exit := order.AvgFillPrice
	if exit <= 0 {
		exit = order.Price()
	}
	tp := domain.TradePerformance{
		Symbol:     order.Symbol,
		LotID:      lot.ID,
		Quantity:   sold,
		EntryPrice: lot.Price,
		ExitPrice:  exit,
		PnL:        (exit - lot.Price) * float64(sold),
		HoldTime:   closedAt.Sub(lot.OpenedAt),
		ClosedAt:   closedAt,
	}
	if lot.Price > 0 {
		tp.PnLPct = (exit - lot.Price) / lot.Price
	}
	if err := m.perf.RecordTrade(ctx, tp); err != nil {
		m.logger.WarnContext(ctx, "trade performance record failed",
			slog.String("lot_id", lot.ID),
			slog.Any("error", err),
		)
		return
	}
	m.logger.InfoContext(ctx, "trade realized",
		slog.String("symbol", order.Symbol),
		slog.String("lot_id", lot.ID),
		slog.Int64("quantity", sold),
		slog.Float64("pnl", tp.PnL),
	)
}
