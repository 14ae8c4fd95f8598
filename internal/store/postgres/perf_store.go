package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/levtrade/corebot/internal/domain"
)

// PerformanceStore implements domain.PerformanceStore using PostgreSQL.
// Hold times are persisted as whole seconds.
type PerformanceStore struct {
	pool *pgxpool.Pool
}

// NewPerformanceStore creates a PerformanceStore backed by the given pool.
func NewPerformanceStore(pool *pgxpool.Pool) *PerformanceStore {
	return &PerformanceStore{pool: pool}
}

// RecordTrade persists the realized result of one closed trading lot.
func (s *PerformanceStore) RecordTrade(ctx context.Context, tp domain.TradePerformance) error {
	const query = `
		INSERT INTO trade_performance (
			symbol, lot_id, quantity, entry_price, exit_price,
			pnl, pnl_pct, hold_seconds, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	closedAt := tp.ClosedAt
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, query,
		tp.Symbol, tp.LotID, tp.Quantity, tp.EntryPrice, tp.ExitPrice,
		tp.PnL, tp.PnLPct, int64(tp.HoldTime.Seconds()), closedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record trade %s: %w", tp.LotID, err)
	}
	return nil
}

// ListTrades returns realized trades for a symbol, newest first. An empty
// symbol matches all symbols.
func (s *PerformanceStore) ListTrades(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.TradePerformance, error) {
	query := `
		SELECT id, symbol, lot_id, quantity, entry_price, exit_price,
		       pnl, pnl_pct, hold_seconds, closed_at
		FROM trade_performance WHERE 1=1`
	args := []any{}
	argIdx := 1

	if symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", argIdx)
		args = append(args, symbol)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND closed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND closed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY closed_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	var trades []domain.TradePerformance
	for rows.Next() {
		var tp domain.TradePerformance
		var holdSeconds int64
		err := rows.Scan(&tp.ID, &tp.Symbol, &tp.LotID, &tp.Quantity, &tp.EntryPrice,
			&tp.ExitPrice, &tp.PnL, &tp.PnLPct, &holdSeconds, &tp.ClosedAt)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		tp.HoldTime = time.Duration(holdSeconds) * time.Second
		trades = append(trades, tp)
	}
	return trades, rows.Err()
}

// SumPnL returns total realized profit since the given instant.
func (s *PerformanceStore) SumPnL(ctx context.Context, since time.Time) (float64, error) {
	const query = `SELECT COALESCE(SUM(pnl), 0) FROM trade_performance WHERE closed_at >= $1`
	var total float64
	if err := s.pool.QueryRow(ctx, query, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("postgres: sum pnl: %w", err)
	}
	return total, nil
}

// RecordSnapshot persists an account-level portfolio snapshot.
func (s *PerformanceStore) RecordSnapshot(ctx context.Context, snap domain.PortfolioSnapshot) error {
	const query = `
		INSERT INTO portfolio_snapshots (equity, cash, position_value, invested_pct, cash_pct, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	recordedAt := snap.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, query,
		snap.Equity, snap.Cash, snap.PositionValue, snap.InvestedPct, snap.CashPct, recordedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent portfolio snapshot.
func (s *PerformanceStore) LatestSnapshot(ctx context.Context) (domain.PortfolioSnapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, equity, cash, position_value, invested_pct, cash_pct, recorded_at
		 FROM portfolio_snapshots ORDER BY recorded_at DESC, id DESC LIMIT 1`)

	var snap domain.PortfolioSnapshot
	err := row.Scan(&snap.ID, &snap.Equity, &snap.Cash, &snap.PositionValue,
		&snap.InvestedPct, &snap.CashPct, &snap.RecordedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.PortfolioSnapshot{}, domain.ErrNotFound
		}
		return domain.PortfolioSnapshot{}, fmt.Errorf("postgres: latest snapshot: %w", err)
	}
	return snap, nil
}

// RecordCorePerf persists one symbol's core holding performance.
func (s *PerformanceStore) RecordCorePerf(ctx context.Context, cp domain.CorePerformance) error {
	const query = `
		INSERT INTO core_performance (symbol, shares, cost_basis, market_value, unrealized_pnl, pnl_pct, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	recordedAt := cp.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, query,
		cp.Symbol, cp.Shares, cp.CostBasis, cp.MarketValue, cp.UnrealizedPnL, cp.PnLPct, recordedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record core perf %s: %w", cp.Symbol, err)
	}
	return nil
}

// LatestCorePerf returns the most recent core performance row for a symbol.
func (s *PerformanceStore) LatestCorePerf(ctx context.Context, symbol string) (domain.CorePerformance, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, symbol, shares, cost_basis, market_value, unrealized_pnl, pnl_pct, recorded_at
		 FROM core_performance
		 WHERE symbol = $1 ORDER BY recorded_at DESC, id DESC LIMIT 1`, symbol)

	var cp domain.CorePerformance
	err := row.Scan(&cp.ID, &cp.Symbol, &cp.Shares, &cp.CostBasis,
		&cp.MarketValue, &cp.UnrealizedPnL, &cp.PnLPct, &cp.RecordedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.CorePerformance{}, domain.ErrNotFound
		}
		return domain.CorePerformance{}, fmt.Errorf("postgres: latest core perf %s: %w", symbol, err)
	}
	return cp, nil
}

// Compile-time interface check.
var _ domain.PerformanceStore = (*PerformanceStore)(nil)
