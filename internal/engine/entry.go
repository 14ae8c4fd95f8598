package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/levtrade/corebot/internal/domain"
	"github.com/levtrade/corebot/internal/indicator"
	"github.com/levtrade/corebot/internal/risk"
)

const (
	// entryFillWait bounds the synchronous wait for an entry fill before the
	// remainder is cancelled.
	entryFillWait = 30 * time.Second

	// entryCooldown keeps one 15-minute bar from producing a second entry on
	// the next scan.
	entryCooldown = 15 * time.Minute
)

// signalTick scans every trading symbol for the RSI recovery entry. Risk-off
// symbols are skipped; detected signals are recorded even when no order
// follows.
func (e *Engine) signalTick(ctx context.Context) error {
	pf, err := e.portfolio(ctx)
	if err != nil {
		return fmt.Errorf("engine: signal tick: %w", err)
	}
	for _, symbol := range e.cfg.TradingSymbols {
		if err := e.scanEntry(ctx, symbol, pf); err != nil {
			if ctx.Err() != nil {
				return err
			}
			e.logger.ErrorContext(ctx, "entry scan failed",
				slog.String("symbol", symbol),
				slog.Any("error", err),
			)
		}
	}
	return nil
}

func (e *Engine) scanEntry(ctx context.Context, symbol string, pf domain.Portfolio) error {
	readings, err := e.deps.Indicators.Readings(ctx, symbol)
	if err != nil {
		e.logger.WarnContext(ctx, "indicator readings unavailable",
			slog.String("symbol", symbol),
			slog.Any("error", err),
		)
	}
	state, _, err := e.deps.Risk.Evaluate(ctx, symbol, readings)
	if err != nil {
		return err
	}
	if state.Regime == domain.RegimeRiskOff {
		e.logger.DebugContext(ctx, "risk-off, no entries",
			slog.String("symbol", symbol),
			slog.String("reason", state.Reason),
		)
		return nil
	}

	curr, prev, prev2, err := e.deps.Indicators.IntradayRSI(ctx, symbol)
	if err != nil {
		return err
	}
	oversold := e.cfg.RSIOversold
	if !(prev2 <= oversold && prev > oversold && curr > oversold) {
		return nil
	}

	// One signal per crossover bar: the previous scan may already have seen
	// this recovery.
	if last, err := e.deps.Signals.LatestEntry(ctx, symbol); err == nil {
		if e.now().Sub(last.RecordedAt) < entryCooldown {
			return nil
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		e.logger.WarnContext(ctx, "latest entry signal read failed",
			slog.String("symbol", symbol),
			slog.Any("error", err),
		)
	}

	quote, err := e.deps.Data.Quote(ctx, symbol)
	if err != nil {
		return fmt.Errorf("engine: entry %s: quote: %w", symbol, err)
	}
	price := quote.Ask
	if price <= 0 {
		price = quote.Mark()
	}
	if price <= 0 {
		return fmt.Errorf("engine: entry %s: no usable price: %w", symbol, domain.ErrDataUnavailable)
	}

	sig := domain.EntrySignal{
		Symbol:     symbol,
		RSI:        curr,
		PrevRSI:    prev,
		Prev2RSI:   prev2,
		Price:      price,
		RecordedAt: e.now().UTC(),
	}
	recorded, err := e.deps.Signals.AppendEntry(ctx, sig)
	if err != nil {
		// Durability gap: the detection still drives this tick.
		e.logger.ErrorContext(ctx, "entry signal append failed",
			slog.String("symbol", symbol),
			slog.Any("error", err),
		)
		recorded = sig
	}
	e.logger.InfoContext(ctx, "entry signal",
		slog.String("symbol", symbol),
		slog.Float64("rsi", curr),
		slog.Float64("prev_rsi", prev),
		slog.Float64("prev2_rsi", prev2),
		slog.Float64("price", price),
	)
	e.publish(ctx, "events:signal", map[string]string{
		"event":  "entry_signal",
		"symbol": symbol,
		"price":  fmt.Sprintf("%.2f", price),
	})

	if !e.trading() {
		return nil
	}
	return e.actOnEntry(ctx, symbol, recorded, price, pf)
}

// actOnEntry sizes, gates, and places the entry buy, then books the fill
// into a trading lot with its exit order.
func (e *Engine) actOnEntry(ctx context.Context, symbol string, sig domain.EntrySignal, price float64, pf domain.Portfolio) error {
	qty := int64(math.Floor(pf.Account.Equity * e.cfg.OrderSizeFraction / price))
	if qty < 1 {
		e.logger.InfoContext(ctx, "entry skipped, standard order below one share",
			slog.String("symbol", symbol),
			slog.Float64("price", price),
		)
		return nil
	}

	verdict := e.deps.Guards.Check(risk.CheckRequest{
		Symbol:         symbol,
		Action:         domain.OrderActionBuy,
		LotType:        domain.LotTypeTrading,
		TargetWeight:   e.cfg.CoreWeights[symbol],
		OrderValue:     float64(qty) * price,
		PositionValue:  pf.PositionValue(symbol),
		TotalInvested:  pf.TotalInvested(),
		Cash:           pf.Account.Cash,
		PortfolioValue: pf.Account.Equity,
	})
	if !verdict.Allowed {
		e.logger.WarnContext(ctx, "guardrail denied order",
			slog.String("symbol", symbol),
			slog.String("operation", "entry"),
			slog.String("reason", verdict.Reason),
		)
		e.auditEvent(ctx, "guardrail_denied", map[string]any{
			"symbol":    symbol,
			"operation": "entry",
			"reason":    verdict.Reason,
		})
		e.publish(ctx, "events:guardrail", map[string]string{
			"event":  "guardrail_denied",
			"symbol": symbol,
			"reason": verdict.Reason,
		})
		return nil
	}

	order, err := e.deps.Orders.Submit(ctx, domain.OrderRequest{
		Symbol:     symbol,
		Action:     domain.OrderActionBuy,
		Kind:       domain.OrderKindLimit,
		Quantity:   qty,
		LimitPrice: price,
		Tag:        domain.OrderTagEntry,
	})
	if err != nil {
		return fmt.Errorf("engine: entry %s: submit: %w", symbol, err)
	}

	filled, err := e.deps.Orders.AwaitTerminal(ctx, order.ID, entryFillWait)
	if err != nil {
		// Still working after the wait: cancel the remainder so a late fill
		// can never land untracked. A racing fill wins the cancel.
		if cErr := e.deps.Orders.Cancel(ctx, order.ID); cErr != nil && !errors.Is(cErr, domain.ErrOrderTerminal) {
			e.logger.WarnContext(ctx, "entry cancel failed",
				slog.String("symbol", symbol),
				slog.String("order_id", order.ID),
				slog.Any("error", cErr),
			)
		}
		filled, err = e.deps.Orders.Get(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("engine: entry %s: reload order: %w", symbol, err)
		}
	}

	e.markActed(ctx, symbol, sig)

	if filled.FilledQty <= 0 {
		e.logger.InfoContext(ctx, "entry order ended unfilled",
			slog.String("symbol", symbol),
			slog.String("order_id", filled.ID),
			slog.String("status", string(filled.Status)),
		)
		return nil
	}

	fillPrice := filled.AvgFillPrice
	if fillPrice <= 0 {
		fillPrice = price
	}
	lot := domain.Lot{
		ID:       uuid.NewString(),
		Symbol:   symbol,
		Type:     domain.LotTypeTrading,
		Quantity: filled.FilledQty,
		Price:    fillPrice,
		Status:   domain.LotStatusOpen,
		OpenedAt: time.Now().UTC(),
	}
	if err := e.deps.Lots.AppendLot(ctx, lot); err != nil {
		e.logger.ErrorContext(ctx, "trading lot append failed",
			slog.String("symbol", symbol),
			slog.String("lot_id", lot.ID),
			slog.Any("error", err),
		)
	}

	e.placeExit(ctx, symbol, lot, price)

	e.auditEvent(ctx, "signal_entry", map[string]any{
		"symbol":   symbol,
		"order_id": filled.ID,
		"filled":   filled.FilledQty,
		"price":    fillPrice,
		"rsi":      sig.RSI,
	})
	e.logger.InfoContext(ctx, "entry executed",
		slog.String("symbol", symbol),
		slog.Int64("filled", filled.FilledQty),
		slog.Float64("price", fillPrice),
	)
	return nil
}

// placeExit protects a fresh trading lot. A pre-market gap-up exits fast
// into the dislocation; every other entry rests at the profit target. When
// the fast exit misses its window the lot falls back to a resting target.
func (e *Engine) placeExit(ctx context.Context, symbol string, lot domain.Lot, currentPrice float64) {
	if sess, ok := e.deps.Calendar.Current(e.now()); ok && sess.Name == domain.SessionPremarket {
		prevClose, err := e.deps.Data.PrevDailyClose(ctx, symbol)
		if err != nil {
			e.logger.DebugContext(ctx, "previous close unavailable",
				slog.String("symbol", symbol),
				slog.Any("error", err),
			)
		} else if gapPct := indicator.GapPercent(prevClose, currentPrice); gapPct > 0 {
			e.recordGap(ctx, symbol, domain.GapUp, prevClose, currentPrice, gapPct, "fast_exit")
			exit, err := e.deps.Orders.GapUpExit(ctx, lot, currentPrice)
			if err != nil {
				e.logger.WarnContext(ctx, "gap-up exit failed",
					slog.String("symbol", symbol),
					slog.String("lot_id", lot.ID),
					slog.Any("error", err),
				)
			} else if exit.Status == domain.OrderStatusFilled {
				return
			}
			// The exit window closed with shares left; the lot may have
			// shrunk from a partial fill.
			fresh, err := e.deps.Lots.GetLot(ctx, lot.ID)
			if err != nil || fresh.Status != domain.LotStatusOpen || fresh.Quantity < 1 {
				return
			}
			lot = fresh
		}
	}
	if _, err := e.deps.Orders.PlaceProfitTarget(ctx, lot); err != nil {
		e.logger.WarnContext(ctx, "profit target placement failed",
			slog.String("symbol", symbol),
			slog.String("lot_id", lot.ID),
			slog.Any("error", err),
		)
	}
}

func (e *Engine) markActed(ctx context.Context, symbol string, sig domain.EntrySignal) {
	if sig.ID == 0 {
		return
	}
	if err := e.deps.Signals.MarkActed(ctx, sig.ID); err != nil {
		e.logger.WarnContext(ctx, "mark signal acted failed",
			slog.String("symbol", symbol),
			slog.Int64("signal_id", sig.ID),
			slog.Any("error", err),
		)
	}
}
