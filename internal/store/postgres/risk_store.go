package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/levtrade/corebot/internal/domain"
)

// RiskStateStore implements domain.RiskStateStore using PostgreSQL. Rows are
// append-only; the latest row per symbol is the current regime.
type RiskStateStore struct {
	pool *pgxpool.Pool
}

// NewRiskStateStore creates a RiskStateStore backed by the given pool.
func NewRiskStateStore(pool *pgxpool.Pool) *RiskStateStore {
	return &RiskStateStore{pool: pool}
}

const riskStateCols = `id, symbol, regime, reason, weekly_rsi, daily_rsi, current_rsi, recorded_at`

func scanRiskState(scanner interface{ Scan(dest ...any) error }) (domain.RiskState, error) {
	var s domain.RiskState
	var regime string
	err := scanner.Scan(
		&s.ID, &s.Symbol, &regime, &s.Reason,
		&s.WeeklyRSI, &s.DailyRSI, &s.CurrentRSI, &s.RecordedAt,
	)
	if err != nil {
		return domain.RiskState{}, err
	}
	s.Regime = domain.RiskRegime(regime)
	return s, nil
}

// Append inserts a new regime record and returns it with the assigned ID.
func (s *RiskStateStore) Append(ctx context.Context, state domain.RiskState) (domain.RiskState, error) {
	const query = `
		INSERT INTO risk_states (symbol, regime, reason, weekly_rsi, daily_rsi, current_rsi, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	recordedAt := state.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	err := s.pool.QueryRow(ctx, query,
		state.Symbol, string(state.Regime), state.Reason,
		state.WeeklyRSI, state.DailyRSI, state.CurrentRSI, recordedAt,
	).Scan(&state.ID)
	if err != nil {
		return domain.RiskState{}, fmt.Errorf("postgres: append risk state %s: %w", state.Symbol, err)
	}
	state.RecordedAt = recordedAt
	return state, nil
}

// Latest returns the most recent regime record for the symbol, or
// domain.ErrNotFound when the symbol has no history.
func (s *RiskStateStore) Latest(ctx context.Context, symbol string) (domain.RiskState, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+riskStateCols+` FROM risk_states
		 WHERE symbol = $1 ORDER BY recorded_at DESC, id DESC LIMIT 1`, symbol)

	state, err := scanRiskState(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.RiskState{}, domain.ErrNotFound
		}
		return domain.RiskState{}, fmt.Errorf("postgres: latest risk state %s: %w", symbol, err)
	}
	return state, nil
}

// List returns regime history for a symbol, newest first.
func (s *RiskStateStore) List(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.RiskState, error) {
	query := `SELECT ` + riskStateCols + ` FROM risk_states WHERE symbol = $1`
	args := []any{symbol}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND recorded_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND recorded_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY recorded_at DESC, id DESC"

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
		return nil, fmt.Errorf("postgres: list risk states %s: %w", symbol, err)
	}
	defer rows.Close()

	var states []domain.RiskState
	for rows.Next() {
		state, err := scanRiskState(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan risk state: %w", err)
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// ListBefore returns all regime records older than the cutoff. Used by the
// retention archiver.
func (s *RiskStateStore) ListBefore(ctx context.Context, before time.Time) ([]domain.RiskState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+riskStateCols+` FROM risk_states
		 WHERE recorded_at < $1 ORDER BY recorded_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list risk states before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var states []domain.RiskState
	for rows.Next() {
		state, err := scanRiskState(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan risk state: %w", err)
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// Compile-time interface check.
var _ domain.RiskStateStore = (*RiskStateStore)(nil)

// MilestoneStore implements domain.MilestoneStore using PostgreSQL.
type MilestoneStore struct {
	pool *pgxpool.Pool
}

// NewMilestoneStore creates a MilestoneStore backed by the given pool.
func NewMilestoneStore(pool *pgxpool.Pool) *MilestoneStore {
	return &MilestoneStore{pool: pool}
}

// Append inserts a new price milestone record.
func (s *MilestoneStore) Append(ctx context.Context, m domain.PriceMilestone) (domain.PriceMilestone, error) {
	const query = `
		INSERT INTO price_milestones (symbol, kind, price, recorded_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	recordedAt := m.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	err := s.pool.QueryRow(ctx, query,
		m.Symbol, string(m.Kind), m.Price, recordedAt,
	).Scan(&m.ID)
	if err != nil {
		return domain.PriceMilestone{}, fmt.Errorf("postgres: append milestone %s %s: %w", m.Symbol, m.Kind, err)
	}
	m.RecordedAt = recordedAt
	return m, nil
}

// Latest returns the most recent milestone of the given kind for a symbol.
func (s *MilestoneStore) Latest(ctx context.Context, symbol string, kind domain.MilestoneKind) (domain.PriceMilestone, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, symbol, kind, price, recorded_at FROM price_milestones
		 WHERE symbol = $1 AND kind = $2
		 ORDER BY recorded_at DESC, id DESC LIMIT 1`, symbol, string(kind))

	var m domain.PriceMilestone
	var k string
	err := row.Scan(&m.ID, &m.Symbol, &k, &m.Price, &m.RecordedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.PriceMilestone{}, domain.ErrNotFound
		}
		return domain.PriceMilestone{}, fmt.Errorf("postgres: latest milestone %s %s: %w", symbol, kind, err)
	}
	m.Kind = domain.MilestoneKind(k)
	return m, nil
}

// List returns milestone history for a symbol, newest first.
func (s *MilestoneStore) List(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.PriceMilestone, error) {
	query := `SELECT id, symbol, kind, price, recorded_at FROM price_milestones WHERE symbol = $1`
	args := []any{symbol}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND recorded_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND recorded_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY recorded_at DESC, id DESC"

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
		return nil, fmt.Errorf("postgres: list milestones %s: %w", symbol, err)
	}
	defer rows.Close()

	var milestones []domain.PriceMilestone
	for rows.Next() {
		var m domain.PriceMilestone
		var k string
		if err := rows.Scan(&m.ID, &m.Symbol, &k, &m.Price, &m.RecordedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan milestone: %w", err)
		}
		m.Kind = domain.MilestoneKind(k)
		milestones = append(milestones, m)
	}
	return milestones, rows.Err()
}

// Compile-time interface check.
var _ domain.MilestoneStore = (*MilestoneStore)(nil)
