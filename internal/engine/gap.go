package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/levtrade/corebot/internal/domain"
	"github.com/levtrade/corebot/internal/indicator"
)

// Gap checks anchor at the pre-market open and thirty minutes after the
// close, exchange time.
var gapAnchors = []domain.TimeOfDay{
	{Hour: 4, Minute: 0},
	{Hour: 16, Minute: 30},
}

// gapTick fires the gap check when the clock is inside an anchor window, at
// most once per window per day.
func (e *Engine) gapTick(ctx context.Context) error {
	now := e.now().In(e.deps.Calendar.Location())
	anchor, ok := e.claimGapWindow(now)
	if !ok {
		return nil
	}
	e.logger.InfoContext(ctx, "gap check", slog.String("window", anchor))

	for _, symbol := range e.allSymbols() {
		if err := e.checkGaps(ctx, symbol); err != nil {
			if ctx.Err() != nil {
				return err
			}
			e.logger.ErrorContext(ctx, "gap check failed",
				slog.String("symbol", symbol),
				slog.Any("error", err),
			)
		}
	}
	return nil
}

// claimGapWindow reports whether now falls within one poll interval of an
// unfired anchor, and marks that anchor fired for the day.
func (e *Engine) claimGapWindow(now time.Time) (string, bool) {
	e.gapMu.Lock()
	defer e.gapMu.Unlock()

	day := now.Format("2006-01-02")
	for _, a := range gapAnchors {
		key := fmt.Sprintf("%02d:%02d", a.Hour, a.Minute)
		if e.gapFired[key] == day {
			continue
		}
		anchor := time.Date(now.Year(), now.Month(), now.Day(), a.Hour, a.Minute, 0, 0, now.Location())
		diff := now.Sub(anchor)
		if diff < 0 {
			diff = -diff
		}
		if diff <= e.cfg.Intervals.Gap.Duration {
			e.gapFired[key] = day
			return key, true
		}
	}
	return "", false
}

// checkGaps reprices working sells for any open trading lot whose target the
// price has gapped past. One gap event row summarizes the action per symbol.
func (e *Engine) checkGaps(ctx context.Context, symbol string) error {
	lots, err := e.deps.Lots.ActiveLots(ctx, symbol, domain.LotTypeTrading)
	if err != nil {
		return fmt.Errorf("engine: gap check %s: lots: %w", symbol, err)
	}
	if len(lots) == 0 {
		return nil
	}

	quote, err := e.deps.Data.Quote(ctx, symbol)
	if err != nil {
		return fmt.Errorf("engine: gap check %s: quote: %w", symbol, err)
	}
	current := quote.Last
	if current <= 0 {
		current = quote.Mark()
	}
	if current <= 0 {
		return fmt.Errorf("engine: gap check %s: no usable price: %w", symbol, domain.ErrDataUnavailable)
	}

	var adjusted int
	for _, lot := range lots {
		target := lot.Price * (1 + e.cfg.ProfitTarget)
		if current < target {
			continue
		}
		if !e.trading() {
			adjusted++
			continue
		}
		if _, err := e.deps.Orders.AdjustSellForGap(ctx, lot, current); err != nil {
			if ctx.Err() != nil {
				return err
			}
			e.logger.WarnContext(ctx, "gap sell adjustment failed",
				slog.String("symbol", symbol),
				slog.String("lot_id", lot.ID),
				slog.Any("error", err),
			)
			continue
		}
		adjusted++
	}
	if adjusted == 0 {
		return nil
	}

	var prevClose, gapPct float64
	if pc, err := e.deps.Data.PrevDailyClose(ctx, symbol); err == nil && pc > 0 {
		prevClose = pc
		gapPct = indicator.GapPercent(prevClose, current)
	} else if err != nil {
		e.logger.DebugContext(ctx, "previous close unavailable",
			slog.String("symbol", symbol),
			slog.Any("error", err),
		)
	}
	direction := domain.GapUp
	if gapPct < 0 {
		direction = domain.GapDown
	}
	action := "sell_adjusted"
	if !e.trading() {
		action = "detected"
	}
	e.recordGap(ctx, symbol, direction, prevClose, current, gapPct, action)
	e.logger.InfoContext(ctx, "gap handled",
		slog.String("symbol", symbol),
		slog.Float64("price", current),
		slog.Float64("gap_pct", gapPct),
		slog.Int("lots", adjusted),
		slog.String("action", action),
	)
	return nil
}

func (e *Engine) recordGap(ctx context.Context, symbol string, dir domain.GapDirection, prevClose, openPrice, gapPct float64, action string) {
	ev := domain.GapEvent{
		Symbol:     symbol,
		Direction:  dir,
		PrevClose:  prevClose,
		OpenPrice:  openPrice,
		GapPct:     gapPct,
		Action:     action,
		RecordedAt: e.now().UTC(),
	}
	if _, err := e.deps.Signals.AppendGap(ctx, ev); err != nil {
		e.logger.WarnContext(ctx, "gap event append failed",
			slog.String("symbol", symbol),
			slog.Any("error", err),
		)
	}
	e.publish(ctx, "events:signal", map[string]string{
		"event":     "gap_detected",
		"symbol":    symbol,
		"direction": string(dir),
		"action":    action,
	})
}
