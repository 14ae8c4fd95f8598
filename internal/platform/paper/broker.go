// Package paper provides an in-process simulated brokerage. Orders fill
// immediately at the current quote, so paper mode and tests exercise the
// full order lifecycle without a live gateway.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/levtrade/corebot/internal/domain"
)

// Broker implements domain.Brokerage and domain.OrderStream against an
// in-memory account. Buys fill at the ask, sells at the bid.
type Broker struct {
	data   domain.MarketData
	logger *slog.Logger

	mu        sync.Mutex
	cash      float64
	positions map[string]*position
	orders    map[string]domain.OrderStatusEvent

	subMu sync.Mutex
	subs  []chan domain.OrderStatusEvent
}

type position struct {
	quantity int64
	avgCost  float64
}

// NewBroker creates a paper broker with the given starting cash balance.
func NewBroker(data domain.MarketData, initialCash float64, logger *slog.Logger) *Broker {
	return &Broker{
		data:      data,
		logger:    logger.With(slog.String("component", "paper_broker")),
		cash:      initialCash,
		positions: make(map[string]*position),
		orders:    make(map[string]domain.OrderStatusEvent),
	}
}

// PlaceOrder fills the order immediately at the current quote. Limit orders
// fill at the limit price when it is no worse than the quote, otherwise at
// the quote itself.
func (b *Broker) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	if req.Quantity <= 0 {
		return domain.OrderAck{}, fmt.Errorf("paper: %w: quantity %d", domain.ErrInvalidOrder, req.Quantity)
	}

	quote, err := b.data.Quote(ctx, req.Symbol)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("paper: quote %s: %w", req.Symbol, err)
	}

	fillPrice := b.fillPrice(req, quote)
	if fillPrice <= 0 {
		return domain.OrderAck{}, fmt.Errorf("paper: %w: no price for %s", domain.ErrDataUnavailable, req.Symbol)
	}

	brokerID := uuid.New().String()

	b.mu.Lock()
	defer b.mu.Unlock()

	cost := float64(req.Quantity) * fillPrice
	switch req.Action {
	case domain.OrderActionBuy:
		if cost > b.cash {
			return b.reject(ctx, brokerID, fmt.Sprintf("insufficient cash: need %.2f have %.2f", cost, b.cash))
		}
		b.cash -= cost
		pos := b.positions[req.Symbol]
		if pos == nil {
			pos = &position{}
			b.positions[req.Symbol] = pos
		}
		total := float64(pos.quantity)*pos.avgCost + cost
		pos.quantity += req.Quantity
		pos.avgCost = total / float64(pos.quantity)

	case domain.OrderActionSell:
		pos := b.positions[req.Symbol]
		if pos == nil || pos.quantity < req.Quantity {
			var held int64
			if pos != nil {
				held = pos.quantity
			}
			return b.reject(ctx, brokerID, fmt.Sprintf("insufficient shares: need %d have %d", req.Quantity, held))
		}
		b.cash += cost
		pos.quantity -= req.Quantity
		if pos.quantity == 0 {
			delete(b.positions, req.Symbol)
		}

	default:
		return domain.OrderAck{}, fmt.Errorf("paper: %w: action %q", domain.ErrInvalidOrder, req.Action)
	}

	fill := domain.OrderStatusEvent{
		BrokerID:      brokerID,
		Status:        domain.OrderStatusFilled,
		FilledQty:     req.Quantity,
		RemainingQty:  0,
		AvgFillPrice:  fillPrice,
		LastFillPrice: fillPrice,
		OccurredAt:    time.Now().UTC(),
	}
	b.orders[brokerID] = fill
	b.emit(fill)

	b.logger.InfoContext(ctx, "paper fill",
		slog.String("symbol", req.Symbol),
		slog.String("action", string(req.Action)),
		slog.Int64("quantity", req.Quantity),
		slog.Float64("price", fillPrice))

	return domain.OrderAck{BrokerID: brokerID, Status: domain.OrderStatusFilled}, nil
}

// reject records and emits a rejection. Caller must hold b.mu.
func (b *Broker) reject(ctx context.Context, brokerID, reason string) (domain.OrderAck, error) {
	ev := domain.OrderStatusEvent{
		BrokerID:   brokerID,
		Status:     domain.OrderStatusRejected,
		Note:       reason,
		OccurredAt: time.Now().UTC(),
	}
	b.orders[brokerID] = ev
	b.emit(ev)

	b.logger.WarnContext(ctx, "paper reject", slog.String("reason", reason))
	return domain.OrderAck{}, fmt.Errorf("paper: %w: %s", domain.ErrOrderRejected, reason)
}

// fillPrice picks the execution price for a request against a quote.
func (b *Broker) fillPrice(req domain.OrderRequest, quote domain.Quote) float64 {
	var market float64
	switch req.Action {
	case domain.OrderActionBuy:
		market = quote.Ask
	case domain.OrderActionSell:
		market = quote.Bid
	}
	if market <= 0 {
		market = quote.Last
	}

	if req.Kind == domain.OrderKindLimit && req.LimitPrice > 0 {
		// A marketable limit fills at the better of limit and market.
		switch req.Action {
		case domain.OrderActionBuy:
			if market < req.LimitPrice {
				return market
			}
			return req.LimitPrice
		case domain.OrderActionSell:
			if market > req.LimitPrice {
				return market
			}
			return req.LimitPrice
		}
	}
	return market
}

// CancelOrder is a no-op success for open orders. Since every order fills
// immediately, there is never anything to cancel; a terminal order returns
// ErrOrderTerminal to match the live gateway.
func (b *Broker) CancelOrder(ctx context.Context, brokerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ev, ok := b.orders[brokerID]
	if !ok {
		return fmt.Errorf("paper: cancel %s: %w", brokerID, domain.ErrNotFound)
	}
	if ev.Status.Terminal() {
		return fmt.Errorf("paper: cancel %s: %w", brokerID, domain.ErrOrderTerminal)
	}
	return nil
}

// OrderStatus returns the recorded state of an order.
func (b *Broker) OrderStatus(ctx context.Context, brokerID string) (domain.OrderStatusEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ev, ok := b.orders[brokerID]
	if !ok {
		return domain.OrderStatusEvent{}, fmt.Errorf("paper: status %s: %w", brokerID, domain.ErrNotFound)
	}
	return ev, nil
}

// Account returns the simulated account, valuing positions at the latest
// quote.
func (b *Broker) Account(ctx context.Context) (domain.AccountSnapshot, error) {
	positions, err := b.Positions(ctx)
	if err != nil {
		return domain.AccountSnapshot{}, err
	}

	b.mu.Lock()
	cash := b.cash
	b.mu.Unlock()

	var positionValue float64
	for _, pos := range positions {
		positionValue += pos.MarketValue
	}

	return domain.AccountSnapshot{
		Equity:      cash + positionValue,
		Cash:        cash,
		BuyingPower: cash,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

// Positions returns the simulated open positions marked at current quotes.
func (b *Broker) Positions(ctx context.Context) ([]domain.BrokerPosition, error) {
	b.mu.Lock()
	held := make(map[string]position, len(b.positions))
	for sym, pos := range b.positions {
		held[sym] = *pos
	}
	b.mu.Unlock()

	out := make([]domain.BrokerPosition, 0, len(held))
	for sym, pos := range held {
		price := pos.avgCost
		if quote, err := b.data.Quote(ctx, sym); err == nil && quote.Mark() > 0 {
			price = quote.Mark()
		}
		out = append(out, domain.BrokerPosition{
			Symbol:       sym,
			Quantity:     pos.quantity,
			AvgCost:      pos.avgCost,
			MarketValue:  float64(pos.quantity) * price,
			CurrentPrice: price,
		})
	}
	return out, nil
}

// OrderUpdates returns a channel fed by the broker's own fills and
// rejections. The channel is closed when the context is cancelled.
func (b *Broker) OrderUpdates(ctx context.Context) (<-chan domain.OrderStatusEvent, error) {
	ch := make(chan domain.OrderStatusEvent, 128)

	b.subMu.Lock()
	b.subs = append(b.subs, ch)
	b.subMu.Unlock()

	go func() {
		<-ctx.Done()
		b.subMu.Lock()
		defer b.subMu.Unlock()
		for i, sub := range b.subs {
			if sub == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				close(ch)
				break
			}
		}
	}()

	return ch, nil
}

// emit fans an event out to all subscribers, dropping when a subscriber's
// buffer is full.
func (b *Broker) emit(ev domain.OrderStatusEvent) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub <- ev:
		default:
		}
	}
}

// Compile-time interface checks.
var (
	_ domain.Brokerage   = (*Broker)(nil)
	_ domain.OrderStream = (*Broker)(nil)
)
