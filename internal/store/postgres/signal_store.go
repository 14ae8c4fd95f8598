package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/levtrade/corebot/internal/domain"
)

// SignalStore implements domain.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *pgxpool.Pool
}

// NewSignalStore creates a SignalStore backed by the given pool.
func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

// AppendEntry records an RSI recovery signal.
func (s *SignalStore) AppendEntry(ctx context.Context, sig domain.EntrySignal) (domain.EntrySignal, error) {
	const query = `
		INSERT INTO entry_signals (symbol, rsi, prev_rsi, prev2_rsi, price, acted_on, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	recordedAt := sig.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	err := s.pool.QueryRow(ctx, query,
		sig.Symbol, sig.RSI, sig.PrevRSI, sig.Prev2RSI, sig.Price, sig.ActedOn, recordedAt,
	).Scan(&sig.ID)
	if err != nil {
		return domain.EntrySignal{}, fmt.Errorf("postgres: append entry signal %s: %w", sig.Symbol, err)
	}
	sig.RecordedAt = recordedAt
	return sig, nil
}

// MarkActed flags an entry signal as consumed by an order.
func (s *SignalStore) MarkActed(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE entry_signals SET acted_on = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: mark entry signal %d acted: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// LatestEntry returns the most recent entry signal for a symbol.
func (s *SignalStore) LatestEntry(ctx context.Context, symbol string) (domain.EntrySignal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, symbol, rsi, prev_rsi, prev2_rsi, price, acted_on, recorded_at
		 FROM entry_signals
		 WHERE symbol = $1 ORDER BY recorded_at DESC, id DESC LIMIT 1`, symbol)

	var sig domain.EntrySignal
	err := row.Scan(&sig.ID, &sig.Symbol, &sig.RSI, &sig.PrevRSI, &sig.Prev2RSI,
		&sig.Price, &sig.ActedOn, &sig.RecordedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.EntrySignal{}, domain.ErrNotFound
		}
		return domain.EntrySignal{}, fmt.Errorf("postgres: latest entry signal %s: %w", symbol, err)
	}
	return sig, nil
}

// AppendGap records an overnight gap event.
func (s *SignalStore) AppendGap(ctx context.Context, ev domain.GapEvent) (domain.GapEvent, error) {
	const query = `
		INSERT INTO gap_events (symbol, direction, prev_close, open_price, gap_pct, action, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	recordedAt := ev.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	err := s.pool.QueryRow(ctx, query,
		ev.Symbol, string(ev.Direction), ev.PrevClose, ev.OpenPrice, ev.GapPct, ev.Action, recordedAt,
	).Scan(&ev.ID)
	if err != nil {
		return domain.GapEvent{}, fmt.Errorf("postgres: append gap event %s: %w", ev.Symbol, err)
	}
	ev.RecordedAt = recordedAt
	return ev, nil
}

// ListGaps returns gap events for a symbol, newest first.
func (s *SignalStore) ListGaps(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.GapEvent, error) {
	query := `
		SELECT id, symbol, direction, prev_close, open_price, gap_pct, action, recorded_at
		FROM gap_events WHERE symbol = $1`
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

	query += " ORDER BY recorded_at DESC"
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
		return nil, fmt.Errorf("postgres: list gap events %s: %w", symbol, err)
	}
	defer rows.Close()

	var events []domain.GapEvent
	for rows.Next() {
		var ev domain.GapEvent
		var direction string
		err := rows.Scan(&ev.ID, &ev.Symbol, &direction, &ev.PrevClose,
			&ev.OpenPrice, &ev.GapPct, &ev.Action, &ev.RecordedAt)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan gap event: %w", err)
		}
		ev.Direction = domain.GapDirection(direction)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Compile-time interface check.
var _ domain.SignalStore = (*SignalStore)(nil)
