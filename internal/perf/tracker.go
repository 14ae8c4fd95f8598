// Package perf records realized and mark-to-market performance: portfolio
// snapshots, per-symbol core rows, and realized trade sums.
package perf

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/levtrade/corebot/internal/domain"
)

// Tracker derives performance rows from current holdings and prices.
type Tracker struct {
	store  domain.PerformanceStore
	lots   domain.CoreStore
	data   domain.MarketData
	logger *slog.Logger
}

// NewTracker creates a Tracker.
func NewTracker(
	store domain.PerformanceStore,
	lots domain.CoreStore,
	data domain.MarketData,
	logger *slog.Logger,
) *Tracker {
	return &Tracker{
		store:  store,
		lots:   lots,
		data:   data,
		logger: logger.With(slog.String("component", "perf_tracker")),
	}
}

// Snapshot persists a portfolio snapshot from the given account view.
func (t *Tracker) Snapshot(ctx context.Context, pf domain.Portfolio) (domain.PortfolioSnapshot, error) {
	invested := pf.TotalInvested()
	snap := domain.PortfolioSnapshot{
		Equity:        pf.Account.Equity,
		Cash:          pf.Account.Cash,
		PositionValue: invested,
		RecordedAt:    time.Now().UTC(),
	}
	if pf.Account.Equity > 0 {
		snap.InvestedPct = invested / pf.Account.Equity
		snap.CashPct = pf.Account.Cash / pf.Account.Equity
	}
	if err := t.store.RecordSnapshot(ctx, snap); err != nil {
		return snap, fmt.Errorf("perf: snapshot: %w", err)
	}
	return snap, nil
}

// CorePerformance marks one symbol's core holding to market against its
// cost basis and persists the row. Symbols with no core shares yield a zero
// row without touching market data.
func (t *Tracker) CorePerformance(ctx context.Context, symbol string) (domain.CorePerformance, error) {
	qty, err := t.lots.CoreQuantity(ctx, symbol)
	if err != nil {
		return domain.CorePerformance{}, fmt.Errorf("perf: core %s: shares: %w", symbol, err)
	}
	cp := domain.CorePerformance{
		Symbol:     symbol,
		Shares:     qty,
		RecordedAt: time.Now().UTC(),
	}
	if qty > 0 {
		basis, err := t.lots.CostBasis(ctx, symbol)
		if err != nil {
			return domain.CorePerformance{}, fmt.Errorf("perf: core %s: cost basis: %w", symbol, err)
		}
		quote, err := t.data.Quote(ctx, symbol)
		if err != nil {
			return domain.CorePerformance{}, fmt.Errorf("perf: core %s: quote: %w", symbol, err)
		}
		cp.CostBasis = basis
		cp.MarketValue = float64(qty) * quote.Mark()
		cp.UnrealizedPnL = cp.MarketValue - basis
		if basis > 0 {
			cp.PnLPct = cp.UnrealizedPnL / basis
		}
	}
	if err := t.store.RecordCorePerf(ctx, cp); err != nil {
		return cp, fmt.Errorf("perf: core %s: record: %w", symbol, err)
	}
	return cp, nil
}

// RealizedPnL sums realized trade results since the given time.
func (t *Tracker) RealizedPnL(ctx context.Context, since time.Time) (float64, error) {
	return t.store.SumPnL(ctx, since)
}

// Trades lists realized trades for a symbol, newest first.
func (t *Tracker) Trades(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.TradePerformance, error) {
	return t.store.ListTrades(ctx, symbol, opts)
}

// LatestSnapshot returns the most recent portfolio snapshot.
func (t *Tracker) LatestSnapshot(ctx context.Context) (domain.PortfolioSnapshot, error) {
	return t.store.LatestSnapshot(ctx)
}
