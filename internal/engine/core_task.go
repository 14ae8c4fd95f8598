package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/levtrade/corebot/internal/domain"
)

// coreTick manages every core symbol once: evaluate and durably record the
// regime, then unwind or build per the recorded state, then snapshot
// progress and the position breakdown. One symbol failing never blocks the
// others.
func (e *Engine) coreTick(ctx context.Context) error {
	pf, err := e.portfolio(ctx)
	if err != nil {
		return fmt.Errorf("engine: core tick: %w", err)
	}
	for _, symbol := range e.deps.Accountant.Symbols() {
		if err := e.manageCore(ctx, symbol, pf); err != nil {
			if ctx.Err() != nil {
				return err
			}
			e.logger.ErrorContext(ctx, "core management failed",
				slog.String("symbol", symbol),
				slog.Any("error", err),
			)
		}
	}
	return nil
}

func (e *Engine) manageCore(ctx context.Context, symbol string, pf domain.Portfolio) error {
	readings, err := e.deps.Indicators.Readings(ctx, symbol)
	if err != nil {
		// Incomplete readings resolve fail-safe to risk-off inside Evaluate.
		e.logger.WarnContext(ctx, "indicator readings unavailable",
			slog.String("symbol", symbol),
			slog.Any("error", err),
		)
	}
	state, _, err := e.deps.Risk.Evaluate(ctx, symbol, readings)
	if err != nil {
		return err
	}

	if e.trading() {
		switch state.Regime {
		case domain.RegimeRiskOff:
			if _, _, err := e.deps.Accountant.Unwind(ctx, symbol); err != nil {
				return err
			}
		case domain.RegimeRiskOn:
			if _, _, err := e.deps.Accountant.Build(ctx, symbol, pf); err != nil {
				return err
			}
		}
	}

	progress, err := e.deps.Accountant.Requirements(ctx, symbol, pf)
	if err != nil {
		return err
	}
	if err := e.deps.Accountant.RecordProgress(ctx, progress); err != nil {
		e.logger.WarnContext(ctx, "core progress record failed",
			slog.String("symbol", symbol),
			slog.Any("error", err),
		)
	}
	if err := e.deps.Accountant.RecordBreakdown(ctx, symbol, pf); err != nil {
		e.logger.WarnContext(ctx, "position breakdown record failed",
			slog.String("symbol", symbol),
			slog.Any("error", err),
		)
	}
	return nil
}

// riskTick re-checks recorded regimes between core ticks and unwinds any
// symbol sitting in risk-off. The accountant's episode dedup makes repeated
// invocations idempotent.
func (e *Engine) riskTick(ctx context.Context) error {
	if !e.trading() {
		return nil
	}
	for _, symbol := range e.deps.Accountant.Symbols() {
		state, err := e.deps.Risk.Current(ctx, symbol)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if ctx.Err() != nil {
				return err
			}
			e.logger.WarnContext(ctx, "risk state read failed",
				slog.String("symbol", symbol),
				slog.Any("error", err),
			)
			continue
		}
		if state.Regime != domain.RegimeRiskOff {
			continue
		}
		if _, _, err := e.deps.Accountant.Unwind(ctx, symbol); err != nil {
			if ctx.Err() != nil {
				return err
			}
			e.logger.ErrorContext(ctx, "risk-off unwind failed",
				slog.String("symbol", symbol),
				slog.Any("error", err),
			)
		}
	}
	return nil
}

// perfTick records a portfolio snapshot and one core performance row per
// core symbol.
func (e *Engine) perfTick(ctx context.Context) error {
	pf, err := e.portfolio(ctx)
	if err != nil {
		return fmt.Errorf("engine: performance tick: %w", err)
	}
	if _, err := e.deps.Tracker.Snapshot(ctx, pf); err != nil {
		e.logger.WarnContext(ctx, "portfolio snapshot failed", slog.Any("error", err))
	}
	for _, symbol := range e.deps.Accountant.Symbols() {
		if _, err := e.deps.Tracker.CorePerformance(ctx, symbol); err != nil {
			if ctx.Err() != nil {
				return err
			}
			e.logger.WarnContext(ctx, "core performance record failed",
				slog.String("symbol", symbol),
				slog.Any("error", err),
			)
		}
	}
	return nil
}
