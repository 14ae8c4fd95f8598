// Package core implements the core cycle accountant: it derives build-cycle
// requirements from current holdings, issues build buys while a symbol is
// risk-on, and unwinds a fixed fraction of the core exactly once per
// risk-off episode.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/levtrade/corebot/internal/domain"
	"github.com/levtrade/corebot/internal/risk"
)

// fillAwait bounds how long a build waits for its market buy to fill before
// giving up on recording the lot this tick. Cycle counts are re-derived from
// holdings, so a missed lot append only defers the cycle.
const fillAwait = 30 * time.Second

// OrderPlacer abstracts the order lifecycle manager so the accountant never
// depends on its concrete implementation.
type OrderPlacer interface {
	Submit(ctx context.Context, req domain.OrderRequest) (domain.Order, error)
	AwaitTerminal(ctx context.Context, orderID string, timeout time.Duration) (domain.Order, error)
	PlaceProfitTarget(ctx context.Context, lot domain.Lot) (domain.Order, error)
}

// Sizing holds the accountant's configured fractions and per-symbol core
// target weights.
type Sizing struct {
	OrderSizeFraction float64
	RetainFraction    float64
	UnwindFraction    float64
	Weights           map[string]float64
}

// Accountant owns core lots, unwind cycles, and progress snapshots. All
// cycle math is recomputed from current holdings and prices on every call;
// nothing is carried between computations.
type Accountant struct {
	store  domain.CoreStore
	states domain.RiskStateStore
	data   domain.MarketData
	placer OrderPlacer
	guards *risk.Guardrails
	audit  domain.AuditStore
	bus    domain.EventBus
	sizing Sizing
	logger *slog.Logger
}

// NewAccountant creates an Accountant with all required dependencies.
func NewAccountant(
	store domain.CoreStore,
	states domain.RiskStateStore,
	data domain.MarketData,
	placer OrderPlacer,
	guards *risk.Guardrails,
	audit domain.AuditStore,
	bus domain.EventBus,
	sizing Sizing,
	logger *slog.Logger,
) *Accountant {
	return &Accountant{
		store:  store,
		states: states,
		data:   data,
		placer: placer,
		guards: guards,
		audit:  audit,
		bus:    bus,
		sizing: sizing,
		logger: logger.With(slog.String("component", "core_accountant")),
	}
}

// Requirements derives the symbol's build-cycle arithmetic from the account
// value and current core holdings. Lookup failures return an error, never a
// zero-cycle answer, so callers cannot mistake "unknown" for "done".
func (a *Accountant) Requirements(ctx context.Context, symbol string, pf domain.Portfolio) (domain.CoreProgress, error) {
	weight, ok := a.sizing.Weights[symbol]
	if !ok {
		return domain.CoreProgress{}, fmt.Errorf("core: requirements %s: no core target weight: %w", symbol, domain.ErrNotFound)
	}

	accountValue := pf.Account.Equity
	valuePerCycle := accountValue * a.sizing.OrderSizeFraction * a.sizing.RetainFraction
	if valuePerCycle <= 0 {
		return domain.CoreProgress{}, fmt.Errorf("core: requirements %s: account value %.2f yields no cycle value: %w",
			symbol, accountValue, domain.ErrDataUnavailable)
	}

	qty, err := a.store.CoreQuantity(ctx, symbol)
	if err != nil {
		return domain.CoreProgress{}, fmt.Errorf("core: requirements %s: core quantity: %w", symbol, err)
	}

	quote, err := a.data.Quote(ctx, symbol)
	if err != nil {
		return domain.CoreProgress{}, fmt.Errorf("core: requirements %s: quote: %w", symbol, err)
	}
	price := quote.Mark()
	if price <= 0 {
		return domain.CoreProgress{}, fmt.Errorf("core: requirements %s: no usable price: %w", symbol, domain.ErrDataUnavailable)
	}

	targetValue := accountValue * weight
	totalCycles := int(math.Floor(targetValue / valuePerCycle))
	currentPct := float64(qty) * price / accountValue
	completed := int(math.Floor(currentPct / (a.sizing.OrderSizeFraction * a.sizing.RetainFraction)))
	remaining := totalCycles - completed
	if remaining < 0 {
		remaining = 0
	}

	return domain.CoreProgress{
		Symbol:          symbol,
		TargetPct:       weight,
		CurrentPct:      currentPct,
		ValuePerCycle:   valuePerCycle,
		TotalCycles:     totalCycles,
		CyclesCompleted: completed,
		CyclesRemaining: remaining,
		RecordedAt:      time.Now().UTC(),
	}, nil
}

// RecordProgress persists a progress snapshot.
func (a *Accountant) RecordProgress(ctx context.Context, p domain.CoreProgress) error {
	if err := a.store.AppendProgress(ctx, p); err != nil {
		return fmt.Errorf("core: record progress %s: %w", p.Symbol, err)
	}
	return nil
}

// Build runs one build cycle for symbol when its recorded regime is RISK_ON
// and cycles remain: submit a standard-size market buy, retain the
// configured fraction of the fill as a new core lot, and hand the remainder
// to a profit-target trading lot. Returns false when no build was attempted.
func (a *Accountant) Build(ctx context.Context, symbol string, pf domain.Portfolio) (domain.Order, bool, error) {
	state, err := a.states.Latest(ctx, symbol)
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("core: build %s: risk state: %w", symbol, err)
	}
	if state.Regime != domain.RegimeRiskOn {
		return domain.Order{}, false, nil
	}

	progress, err := a.Requirements(ctx, symbol, pf)
	if err != nil {
		return domain.Order{}, false, err
	}
	if progress.CyclesRemaining <= 0 {
		return domain.Order{}, false, nil
	}

	quote, err := a.data.Quote(ctx, symbol)
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("core: build %s: quote: %w", symbol, err)
	}
	price := quote.Mark()
	if price <= 0 {
		return domain.Order{}, false, fmt.Errorf("core: build %s: no usable price: %w", symbol, domain.ErrDataUnavailable)
	}

	orderValue := pf.Account.Equity * a.sizing.OrderSizeFraction
	qty := int64(math.Floor(orderValue / price))
	if qty < 1 {
		a.logger.InfoContext(ctx, "build skipped, standard order below one share",
			slog.String("symbol", symbol),
			slog.Float64("order_value", orderValue),
			slog.Float64("price", price),
		)
		return domain.Order{}, false, nil
	}

	verdict := a.guards.Check(risk.CheckRequest{
		Symbol:         symbol,
		Action:         domain.OrderActionBuy,
		LotType:        domain.LotTypeCore,
		TargetWeight:   progress.TargetPct,
		OrderValue:     float64(qty) * price,
		PositionValue:  pf.PositionValue(symbol),
		TotalInvested:  pf.TotalInvested(),
		Cash:           pf.Account.Cash,
		PortfolioValue: pf.Account.Equity,
	})
	if !verdict.Allowed {
		a.logDenial(ctx, symbol, "core_build", verdict.Reason)
		return domain.Order{}, false, nil
	}

	order, err := a.placer.Submit(ctx, domain.OrderRequest{
		Symbol:   symbol,
		Action:   domain.OrderActionBuy,
		Kind:     domain.OrderKindMarket,
		Quantity: qty,
		Tag:      domain.OrderTagCoreBuild,
	})
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("core: build %s: submit: %w", symbol, err)
	}

	filled, err := a.placer.AwaitTerminal(ctx, order.ID, fillAwait)
	if err != nil {
		a.logger.WarnContext(ctx, "build fill not confirmed, lot deferred to re-derivation",
			slog.String("symbol", symbol),
			slog.String("order_id", order.ID),
			slog.Any("error", err),
		)
		return order, true, nil
	}
	if filled.FilledQty <= 0 {
		a.logger.WarnContext(ctx, "build order finished with no fill",
			slog.String("symbol", symbol),
			slog.String("order_id", order.ID),
			slog.String("status", string(filled.Status)),
		)
		return filled, true, nil
	}

	fillPrice := filled.AvgFillPrice
	if fillPrice <= 0 {
		fillPrice = price
	}

	retained := int64(math.Floor(float64(filled.FilledQty) * a.sizing.RetainFraction))
	if retained < 1 {
		retained = 1
	}
	if retained > filled.FilledQty {
		retained = filled.FilledQty
	}

	coreLot := domain.Lot{
		ID:       uuid.NewString(),
		Symbol:   symbol,
		Type:     domain.LotTypeCore,
		Quantity: retained,
		Price:    fillPrice,
		Status:   domain.LotStatusOpen,
		OpenedAt: time.Now().UTC(),
	}
	if err := a.store.AppendLot(ctx, coreLot); err != nil {
		a.logger.ErrorContext(ctx, "core lot append failed",
			slog.String("symbol", symbol),
			slog.String("lot_id", coreLot.ID),
			slog.Any("error", err),
		)
	}

	// Whatever is not retained trades out through a profit-target sell.
	if tradeQty := filled.FilledQty - retained; tradeQty > 0 {
		tradingLot := domain.Lot{
			ID:       uuid.NewString(),
			Symbol:   symbol,
			Type:     domain.LotTypeTrading,
			Quantity: tradeQty,
			Price:    fillPrice,
			Status:   domain.LotStatusOpen,
			OpenedAt: time.Now().UTC(),
		}
		if err := a.store.AppendLot(ctx, tradingLot); err != nil {
			a.logger.ErrorContext(ctx, "trading lot append failed",
				slog.String("symbol", symbol),
				slog.String("lot_id", tradingLot.ID),
				slog.Any("error", err),
			)
		} else if _, err := a.placer.PlaceProfitTarget(ctx, tradingLot); err != nil {
			a.logger.WarnContext(ctx, "profit target placement failed",
				slog.String("symbol", symbol),
				slog.String("lot_id", tradingLot.ID),
				slog.Any("error", err),
			)
		}
	}

	a.auditEvent(ctx, "core_build", map[string]any{
		"symbol":   symbol,
		"order_id": filled.ID,
		"filled":   filled.FilledQty,
		"retained": retained,
		"price":    fillPrice,
	})
	a.publish(ctx, "events:core", map[string]string{
		"event":  "core_build",
		"symbol": symbol,
		"order":  filled.ID,
	})
	a.logger.InfoContext(ctx, "core build cycle completed",
		slog.String("symbol", symbol),
		slog.Int64("filled", filled.FilledQty),
		slog.Int64("retained", retained),
		slog.Float64("price", fillPrice),
	)

	return filled, true, nil
}

// Unwind sells the configured fraction of the symbol's core holding, at most
// once per risk-off episode. Because regime records append only on change,
// the newest RISK_OFF row marks the episode start; an unwind recorded after
// it means this episode is already handled.
func (a *Accountant) Unwind(ctx context.Context, symbol string) (domain.Order, bool, error) {
	state, err := a.states.Latest(ctx, symbol)
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("core: unwind %s: risk state: %w", symbol, err)
	}
	if state.Regime != domain.RegimeRiskOff {
		return domain.Order{}, false, nil
	}

	last, err := a.store.LatestUnwind(ctx, symbol)
	switch {
	case err == nil:
		if last.RecordedAt.After(state.RecordedAt) {
			return domain.Order{}, false, nil // already unwound this episode
		}
	case errors.Is(err, domain.ErrNotFound):
		// never unwound
	default:
		return domain.Order{}, false, fmt.Errorf("core: unwind %s: latest unwind: %w", symbol, err)
	}

	coreQty, err := a.store.CoreQuantity(ctx, symbol)
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("core: unwind %s: core quantity: %w", symbol, err)
	}
	if coreQty <= 0 {
		return domain.Order{}, false, nil
	}

	sellQty := int64(math.Floor(float64(coreQty) * a.sizing.UnwindFraction))
	if sellQty < 1 {
		sellQty = 1
	}

	quote, err := a.data.Quote(ctx, symbol)
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("core: unwind %s: quote: %w", symbol, err)
	}
	basePrice := quote.Mark()

	order, err := a.placer.Submit(ctx, domain.OrderRequest{
		Symbol:   symbol,
		Action:   domain.OrderActionSell,
		Kind:     domain.OrderKindMarket,
		Quantity: sellQty,
		Tag:      domain.OrderTagCoreUnwind,
	})
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("core: unwind %s: submit: %w", symbol, err)
	}

	count, err := a.store.CountUnwinds(ctx, symbol, time.Time{})
	if err != nil {
		count = 0
	}
	cycle := domain.UnwindCycle{
		Symbol:     symbol,
		BasePrice:  basePrice,
		CycleCount: count + 1,
		RecordedAt: time.Now().UTC(),
	}
	if _, err := a.store.AppendUnwind(ctx, cycle); err != nil {
		// Without this record the next tick repeats the unwind. Keep the
		// order result but surface the gap loudly.
		a.logger.ErrorContext(ctx, "unwind cycle append failed, episode dedup lost",
			slog.String("symbol", symbol),
			slog.String("order_id", order.ID),
			slog.Any("error", err),
		)
	}

	a.auditEvent(ctx, "core_unwind", map[string]any{
		"symbol":     symbol,
		"order_id":   order.ID,
		"quantity":   sellQty,
		"base_price": basePrice,
	})
	a.publish(ctx, "events:core", map[string]string{
		"event":  "core_unwind",
		"symbol": symbol,
		"order":  order.ID,
	})
	a.logger.InfoContext(ctx, "core unwind submitted",
		slog.String("symbol", symbol),
		slog.Int64("quantity", sellQty),
		slog.Float64("base_price", basePrice),
	)

	return order, true, nil
}

// RecordBreakdown snapshots the split of the symbol's broker position into
// core and trading shares.
func (a *Accountant) RecordBreakdown(ctx context.Context, symbol string, pf domain.Portfolio) error {
	coreQty, err := a.store.CoreQuantity(ctx, symbol)
	if err != nil {
		return fmt.Errorf("core: breakdown %s: core quantity: %w", symbol, err)
	}
	total := pf.PositionQuantity(symbol)
	trading := total - coreQty
	if trading < 0 {
		trading = 0
	}
	b := domain.PositionBreakdown{
		Symbol:        symbol,
		TotalShares:   total,
		CoreShares:    coreQty,
		TradingShares: trading,
		RecordedAt:    time.Now().UTC(),
	}
	if err := a.store.AppendBreakdown(ctx, b); err != nil {
		return fmt.Errorf("core: breakdown %s: append: %w", symbol, err)
	}
	return nil
}

// Symbols returns the core symbols the accountant manages.
func (a *Accountant) Symbols() []string {
	out := make([]string, 0, len(a.sizing.Weights))
	for sym := range a.sizing.Weights {
		out = append(out, sym)
	}
	return out
}

func (a *Accountant) logDenial(ctx context.Context, symbol, op, reason string) {
	a.logger.WarnContext(ctx, "guardrail denied order",
		slog.String("symbol", symbol),
		slog.String("operation", op),
		slog.String("reason", reason),
	)
	a.auditEvent(ctx, "guardrail_denied", map[string]any{
		"symbol":    symbol,
		"operation": op,
		"reason":    reason,
	})
	a.publish(ctx, "events:guardrail", map[string]string{
		"event":  "guardrail_denied",
		"symbol": symbol,
		"reason": reason,
	})
}

func (a *Accountant) auditEvent(ctx context.Context, event string, detail map[string]any) {
	if err := a.audit.Log(ctx, event, detail); err != nil {
		a.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.Any("error", err),
		)
	}
}

func (a *Accountant) publish(ctx context.Context, channel string, payload map[string]string) {
	evt, _ := json.Marshal(payload)
	if err := a.bus.Publish(ctx, channel, evt); err != nil {
		a.logger.WarnContext(ctx, "event publish failed",
			slog.String("channel", channel),
			slog.Any("error", err),
		)
	}
}
