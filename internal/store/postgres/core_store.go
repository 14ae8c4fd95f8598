package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/levtrade/corebot/internal/domain"
)

// CoreStore implements domain.CoreStore using PostgreSQL. Lots are the only
// rows that mutate (quantity shrinks, status flips to CLOSED as shares
// sell); unwind cycles, progress snapshots, and breakdowns are append-only.
type CoreStore struct {
	pool *pgxpool.Pool
}

// NewCoreStore creates a CoreStore backed by the given pool.
func NewCoreStore(pool *pgxpool.Pool) *CoreStore {
	return &CoreStore{pool: pool}
}

const lotCols = `id, symbol, lot_type, quantity, price, status, opened_at, closed_at`

func scanLot(scanner interface{ Scan(dest ...any) error }) (domain.Lot, error) {
	var l domain.Lot
	var lotType, status string
	err := scanner.Scan(
		&l.ID, &l.Symbol, &lotType, &l.Quantity, &l.Price,
		&status, &l.OpenedAt, &l.ClosedAt,
	)
	if err != nil {
		return domain.Lot{}, err
	}
	l.Type = domain.LotType(lotType)
	l.Status = domain.LotStatus(status)
	return l, nil
}

// AppendLot inserts a new lot row.
func (s *CoreStore) AppendLot(ctx context.Context, lot domain.Lot) error {
	const query = `
		INSERT INTO lots (id, symbol, lot_type, quantity, price, status, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	openedAt := lot.OpenedAt
	if openedAt.IsZero() {
		openedAt = time.Now().UTC()
	}
	status := lot.Status
	if status == "" {
		status = domain.LotStatusOpen
	}

	_, err := s.pool.Exec(ctx, query,
		lot.ID, lot.Symbol, string(lot.Type), lot.Quantity, lot.Price,
		string(status), openedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append lot %s: %w", lot.ID, err)
	}
	return nil
}

// CloseLot marks a lot CLOSED with the given timestamp.
func (s *CoreStore) CloseLot(ctx context.Context, lotID string, closedAt time.Time) error {
	const query = `UPDATE lots SET status = 'CLOSED', closed_at = $1 WHERE id = $2`
	tag, err := s.pool.Exec(ctx, query, closedAt, lotID)
	if err != nil {
		return fmt.Errorf("postgres: close lot %s: %w", lotID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ReduceLot sets a lot's remaining open quantity after a partial sale. The
// caller passes what is left, not what sold; a remaining of zero or less
// closes the lot.
func (s *CoreStore) ReduceLot(ctx context.Context, lotID string, remaining int64) error {
	const query = `
		UPDATE lots SET
			quantity = GREATEST($1, 0),
			status = CASE WHEN $1 <= 0 THEN 'CLOSED' ELSE status END,
			closed_at = CASE WHEN $1 <= 0 THEN NOW() ELSE closed_at END
		WHERE id = $2`
	tag, err := s.pool.Exec(ctx, query, remaining, lotID)
	if err != nil {
		return fmt.Errorf("postgres: reduce lot %s: %w", lotID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetLot returns a single lot by ID.
func (s *CoreStore) GetLot(ctx context.Context, lotID string) (domain.Lot, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+lotCols+` FROM lots WHERE id = $1`, lotID)
	lot, err := scanLot(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Lot{}, domain.ErrNotFound
		}
		return domain.Lot{}, fmt.Errorf("postgres: get lot %s: %w", lotID, err)
	}
	return lot, nil
}

// ActiveLots returns the symbol's open lots of the given type, oldest first
// so FIFO consumption walks them in order.
func (s *CoreStore) ActiveLots(ctx context.Context, symbol string, lotType domain.LotType) ([]domain.Lot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+lotCols+` FROM lots
		 WHERE symbol = $1 AND lot_type = $2 AND status = 'OPEN'
		 ORDER BY opened_at`, symbol, string(lotType))
	if err != nil {
		return nil, fmt.Errorf("postgres: active lots %s: %w", symbol, err)
	}
	defer rows.Close()

	var lots []domain.Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan lot: %w", err)
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// CoreQuantity returns the total open core shares for a symbol.
func (s *CoreStore) CoreQuantity(ctx context.Context, symbol string) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(quantity), 0) FROM lots
		WHERE symbol = $1 AND lot_type = 'CORE' AND status = 'OPEN'`
	var qty int64
	if err := s.pool.QueryRow(ctx, query, symbol).Scan(&qty); err != nil {
		return 0, fmt.Errorf("postgres: core quantity %s: %w", symbol, err)
	}
	return qty, nil
}

// CostBasis returns the value-weighted cost of the symbol's open core lots.
func (s *CoreStore) CostBasis(ctx context.Context, symbol string) (float64, error) {
	const query = `
		SELECT COALESCE(SUM(quantity * price), 0) FROM lots
		WHERE symbol = $1 AND lot_type = 'CORE' AND status = 'OPEN'`
	var basis float64
	if err := s.pool.QueryRow(ctx, query, symbol).Scan(&basis); err != nil {
		return 0, fmt.Errorf("postgres: cost basis %s: %w", symbol, err)
	}
	return basis, nil
}

// AppendUnwind inserts a new unwind cycle record.
func (s *CoreStore) AppendUnwind(ctx context.Context, u domain.UnwindCycle) (domain.UnwindCycle, error) {
	const query = `
		INSERT INTO unwind_cycles (symbol, base_price, cycle_count, recorded_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	recordedAt := u.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	cycleCount := u.CycleCount
	if cycleCount < 1 {
		cycleCount = 1
	}

	err := s.pool.QueryRow(ctx, query, u.Symbol, u.BasePrice, cycleCount, recordedAt).Scan(&u.ID)
	if err != nil {
		return domain.UnwindCycle{}, fmt.Errorf("postgres: append unwind %s: %w", u.Symbol, err)
	}
	u.RecordedAt = recordedAt
	u.CycleCount = cycleCount
	return u, nil
}

// LatestUnwind returns the most recent unwind record for a symbol.
func (s *CoreStore) LatestUnwind(ctx context.Context, symbol string) (domain.UnwindCycle, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, symbol, base_price, cycle_count, recorded_at FROM unwind_cycles
		 WHERE symbol = $1 ORDER BY recorded_at DESC, id DESC LIMIT 1`, symbol)

	var u domain.UnwindCycle
	err := row.Scan(&u.ID, &u.Symbol, &u.BasePrice, &u.CycleCount, &u.RecordedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.UnwindCycle{}, domain.ErrNotFound
		}
		return domain.UnwindCycle{}, fmt.Errorf("postgres: latest unwind %s: %w", symbol, err)
	}
	return u, nil
}

// CountUnwinds returns how many unwind records exist for the symbol since
// the given instant.
func (s *CoreStore) CountUnwinds(ctx context.Context, symbol string, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM unwind_cycles WHERE symbol = $1 AND recorded_at >= $2`
	var count int
	if err := s.pool.QueryRow(ctx, query, symbol, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count unwinds %s: %w", symbol, err)
	}
	return count, nil
}

// AppendProgress inserts a new progress snapshot.
func (s *CoreStore) AppendProgress(ctx context.Context, p domain.CoreProgress) error {
	const query = `
		INSERT INTO core_progress (
			symbol, target_pct, current_pct, value_per_cycle,
			total_cycles, cycles_completed, cycles_remaining, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	recordedAt := p.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, query,
		p.Symbol, p.TargetPct, p.CurrentPct, p.ValuePerCycle,
		p.TotalCycles, p.CyclesCompleted, p.CyclesRemaining, recordedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append progress %s: %w", p.Symbol, err)
	}
	return nil
}

// LatestProgress returns the most recent progress snapshot for a symbol.
func (s *CoreStore) LatestProgress(ctx context.Context, symbol string) (domain.CoreProgress, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, symbol, target_pct, current_pct, value_per_cycle,
		        total_cycles, cycles_completed, cycles_remaining, recorded_at
		 FROM core_progress
		 WHERE symbol = $1 ORDER BY recorded_at DESC, id DESC LIMIT 1`, symbol)

	var p domain.CoreProgress
	err := row.Scan(
		&p.ID, &p.Symbol, &p.TargetPct, &p.CurrentPct, &p.ValuePerCycle,
		&p.TotalCycles, &p.CyclesCompleted, &p.CyclesRemaining, &p.RecordedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.CoreProgress{}, domain.ErrNotFound
		}
		return domain.CoreProgress{}, fmt.Errorf("postgres: latest progress %s: %w", symbol, err)
	}
	return p, nil
}

// AppendBreakdown inserts a new position breakdown snapshot.
func (s *CoreStore) AppendBreakdown(ctx context.Context, b domain.PositionBreakdown) error {
	const query = `
		INSERT INTO position_breakdowns (symbol, total_shares, core_shares, trading_shares, recorded_at)
		VALUES ($1, $2, $3, $4, $5)`

	recordedAt := b.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, query,
		b.Symbol, b.TotalShares, b.CoreShares, b.TradingShares, recordedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append breakdown %s: %w", b.Symbol, err)
	}
	return nil
}

// LatestBreakdown returns the most recent position breakdown for a symbol.
func (s *CoreStore) LatestBreakdown(ctx context.Context, symbol string) (domain.PositionBreakdown, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, symbol, total_shares, core_shares, trading_shares, recorded_at
		 FROM position_breakdowns
		 WHERE symbol = $1 ORDER BY recorded_at DESC, id DESC LIMIT 1`, symbol)

	var b domain.PositionBreakdown
	err := row.Scan(&b.ID, &b.Symbol, &b.TotalShares, &b.CoreShares, &b.TradingShares, &b.RecordedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.PositionBreakdown{}, domain.ErrNotFound
		}
		return domain.PositionBreakdown{}, fmt.Errorf("postgres: latest breakdown %s: %w", symbol, err)
	}
	return b, nil
}

// Compile-time interface check.
var _ domain.CoreStore = (*CoreStore)(nil)
