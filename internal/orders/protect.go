package orders

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/levtrade/corebot/internal/domain"
)

// PlaceProfitTarget submits the limit sell that exits a trading lot at
// entry price plus the configured profit fraction.
func (m *Manager) PlaceProfitTarget(ctx context.Context, lot domain.Lot) (domain.Order, error) {
	if lot.Quantity < 1 {
		return domain.Order{}, fmt.Errorf("orders: profit target %s: empty lot: %w", lot.ID, domain.ErrInvalidOrder)
	}
	limit := roundCents(lot.Price * (1 + m.frac.ProfitTarget))
	order, err := m.Submit(ctx, domain.OrderRequest{
		Symbol:     lot.Symbol,
		Action:     domain.OrderActionSell,
		Kind:       domain.OrderKindLimit,
		Quantity:   lot.Quantity,
		LimitPrice: limit,
		LotID:      lot.ID,
		Tag:        domain.OrderTagProfitTarget,
	})
	if err != nil {
		return domain.Order{}, err
	}
	m.logger.InfoContext(ctx, "profit target placed",
		slog.String("symbol", lot.Symbol),
		slog.String("lot_id", lot.ID),
		slog.Float64("entry", lot.Price),
		slog.Float64("limit", limit),
	)
	return order, nil
}

// AdjustSellForGap replaces a lot's working sell after an overnight gap
// down: stale sells are cancelled (confirmed) and one fresh limit goes in
// just below the current price so the shares still exit. A lot never
// carries two live sells.
func (m *Manager) AdjustSellForGap(ctx context.Context, lot domain.Lot, currentPrice float64) (domain.Order, error) {
	if currentPrice <= 0 {
		return domain.Order{}, fmt.Errorf("orders: gap adjust %s: no usable price: %w", lot.ID, domain.ErrInvalidOrder)
	}
	if err := m.clearLotSells(ctx, lot.ID); err != nil {
		return domain.Order{}, fmt.Errorf("orders: gap adjust %s: %w", lot.ID, err)
	}
	fresh, err := m.openLot(ctx, lot.ID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("orders: gap adjust %s: %w", lot.ID, err)
	}

	limit := roundCents(currentPrice * (1 - m.frac.GapSellOffset))
	order, err := m.Submit(ctx, domain.OrderRequest{
		Symbol:     fresh.Symbol,
		Action:     domain.OrderActionSell,
		Kind:       domain.OrderKindLimit,
		Quantity:   fresh.Quantity,
		LimitPrice: limit,
		LotID:      fresh.ID,
		Tag:        domain.OrderTagGapAdjust,
	})
	if err != nil {
		return domain.Order{}, err
	}
	m.logger.InfoContext(ctx, "sell adjusted for gap",
		slog.String("symbol", fresh.Symbol),
		slog.String("lot_id", fresh.ID),
		slog.String("order_id", order.ID),
		slog.Float64("limit", limit),
	)
	m.auditEvent(ctx, "gap_adjust", map[string]any{
		"lot_id":   fresh.ID,
		"order_id": order.ID,
		"symbol":   fresh.Symbol,
		"limit":    limit,
	})
	return order, nil
}

// clearLotSells cancels every working sell tied to the lot.
func (m *Manager) clearLotSells(ctx context.Context, lotID string) error {
	working, err := m.store.ListActiveSellsForLot(ctx, lotID)
	if err != nil {
		return fmt.Errorf("working sells: %w", err)
	}
	for _, o := range working {
		if err := m.Cancel(ctx, o.ID); err != nil {
			return fmt.Errorf("clear %s: %w", o.ID, err)
		}
	}
	return nil
}

// openLot reloads a lot and verifies it still has shares to sell.
func (m *Manager) openLot(ctx context.Context, lotID string) (domain.Lot, error) {
	lot, err := m.lots.GetLot(ctx, lotID)
	if err != nil {
		return domain.Lot{}, err
	}
	if lot.Status != domain.LotStatusOpen || lot.Quantity < 1 {
		return domain.Lot{}, fmt.Errorf("lot already closed: %w", domain.ErrInvalidOrder)
	}
	return lot, nil
}

// GapUpExit dumps a trading lot into a gap up: any working sells on the lot
// are cancelled, an aggressive limit goes in just under the market, and if
// it has not filled within the wait it is cancelled again. The caller
// decides what to do with a lot that would not exit.
func (m *Manager) GapUpExit(ctx context.Context, lot domain.Lot, currentPrice float64) (domain.Order, error) {
	if currentPrice <= 0 {
		return domain.Order{}, fmt.Errorf("orders: gap exit %s: no usable price: %w", lot.ID, domain.ErrInvalidOrder)
	}

	if err := m.clearLotSells(ctx, lot.ID); err != nil {
		return domain.Order{}, fmt.Errorf("orders: gap exit %s: %w", lot.ID, err)
	}
	// The lot may have shrunk while the old sells were live.
	fresh, err := m.openLot(ctx, lot.ID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("orders: gap exit %s: %w", lot.ID, err)
	}

	order, err := m.Submit(ctx, domain.OrderRequest{
		Symbol:     fresh.Symbol,
		Action:     domain.OrderActionSell,
		Kind:       domain.OrderKindLimit,
		Quantity:   fresh.Quantity,
		LimitPrice: roundCents(currentPrice * (1 - m.frac.GapExitOffset)),
		LotID:      fresh.ID,
		Tag:        domain.OrderTagGapExit,
	})
	if err != nil {
		return domain.Order{}, err
	}

	final, err := m.AwaitTerminal(ctx, order.ID, gapExitWait)
	if err == nil && final.Terminal() {
		m.logger.InfoContext(ctx, "gap exit finished",
			slog.String("symbol", final.Symbol),
			slog.String("order_id", final.ID),
			slog.String("status", string(final.Status)),
			slog.Int64("filled", final.FilledQty),
		)
		return final, nil
	}
	if ctx.Err() != nil {
		return final, ctx.Err()
	}

	// Unfilled within the window: take it back out rather than leaving an
	// aggressive limit working all day.
	if cerr := m.Cancel(ctx, order.ID); cerr != nil {
		m.logger.WarnContext(ctx, "gap exit cleanup cancel failed",
			slog.String("order_id", order.ID),
			slog.Any("error", cerr),
		)
	}
	final, err = m.store.GetByID(ctx, order.ID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("orders: gap exit %s: reload: %w", lot.ID, err)
	}
	m.logger.InfoContext(ctx, "gap exit window closed",
		slog.String("symbol", final.Symbol),
		slog.String("order_id", final.ID),
		slog.String("status", string(final.Status)),
		slog.Int64("filled", final.FilledQty),
	)
	return final, nil
}

// StatusHistory exposes an order's append-only event trail.
func (m *Manager) StatusHistory(ctx context.Context, orderID string) ([]domain.OrderStatusEvent, error) {
	return m.store.StatusHistory(ctx, orderID)
}

// Get returns the current snapshot of one order.
func (m *Manager) Get(ctx context.Context, orderID string) (domain.Order, error) {
	return m.store.GetByID(ctx, orderID)
}

// ConsumeUpdates applies order status events from the brokerage stream until
// the channel closes or ctx ends. Call in a goroutine.
func (m *Manager) ConsumeUpdates(ctx context.Context, updates <-chan domain.OrderStatusEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-updates:
			if !ok {
				return nil
			}
			if _, err := m.ApplyStatusEvent(ctx, ev); err != nil {
				m.logger.WarnContext(ctx, "stream status event dropped",
					slog.String("broker_id", ev.BrokerID),
					slog.String("status", string(ev.Status)),
					slog.Any("error", err),
				)
			}
		}
	}
}
