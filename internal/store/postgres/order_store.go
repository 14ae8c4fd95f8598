package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/levtrade/corebot/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL. The orders row
// is a mutable snapshot kept current by UpdateSnapshot; the full lifecycle
// lives in the append-only order_status_events table.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates an OrderStore backed by the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderCols = `id, broker_id, symbol, action, kind, quantity, limit_price,
	lot_id, tag, session, status, filled_qty, remaining_qty, avg_fill_price,
	created_at, updated_at`

func scanOrder(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var o domain.Order
	var action, kind, tag, session, status string
	err := scanner.Scan(
		&o.ID, &o.BrokerID, &o.Symbol, &action, &kind, &o.Quantity, &o.LimitPrice,
		&o.LotID, &tag, &session, &status, &o.FilledQty, &o.RemainingQty, &o.AvgFillPrice,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Action = domain.OrderAction(action)
	o.Kind = domain.OrderKind(kind)
	o.Tag = domain.OrderTag(tag)
	o.Session = domain.SessionName(session)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

// Create inserts a new order row.
func (s *OrderStore) Create(ctx context.Context, order domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, broker_id, symbol, action, kind, quantity, limit_price,
			lot_id, tag, session, status, filled_qty, remaining_qty,
			avg_fill_price, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	now := time.Now().UTC()
	createdAt := order.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := order.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err := s.pool.Exec(ctx, query,
		order.ID, order.BrokerID, order.Symbol, string(order.Action), string(order.Kind),
		order.Quantity, order.LimitPrice, order.LotID, string(order.Tag),
		string(order.Session), string(order.Status), order.FilledQty,
		order.RemainingQty, order.AvgFillPrice, createdAt, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", order.ID, err)
	}
	return nil
}

// UpdateSnapshot overwrites the mutable fields of an order row.
func (s *OrderStore) UpdateSnapshot(ctx context.Context, order domain.Order) error {
	const query = `
		UPDATE orders SET
			broker_id = $1, status = $2, filled_qty = $3, remaining_qty = $4,
			avg_fill_price = $5, updated_at = $6
		WHERE id = $7`

	updatedAt := order.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx, query,
		order.BrokerID, string(order.Status), order.FilledQty, order.RemainingQty,
		order.AvgFillPrice, updatedAt, order.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: update order %s: %w", order.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AppendStatusEvent records one lifecycle event for an order.
func (s *OrderStore) AppendStatusEvent(ctx context.Context, ev domain.OrderStatusEvent) error {
	const query = `
		INSERT INTO order_status_events (
			order_id, broker_id, status, filled_qty, remaining_qty,
			avg_fill_price, last_fill_price, note, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	occurredAt := ev.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, query,
		ev.OrderID, ev.BrokerID, string(ev.Status), ev.FilledQty, ev.RemainingQty,
		ev.AvgFillPrice, ev.LastFillPrice, ev.Note, occurredAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append status event for %s: %w", ev.OrderID, err)
	}
	return nil
}

// GetByID returns a single order by its local ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return order, nil
}

// GetByBrokerID returns a single order by the brokerage's identifier.
func (s *OrderStore) GetByBrokerID(ctx context.Context, brokerID string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE broker_id = $1`, brokerID)
	order, err := scanOrder(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order by broker id %s: %w", brokerID, err)
	}
	return order, nil
}

const activeStatuses = `('SUBMITTED', 'PARTIALLY_FILLED')`

// ListActive returns all non-terminal orders.
func (s *OrderStore) ListActive(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderCols+` FROM orders
		 WHERE status IN `+activeStatuses+` ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active orders: %w", err)
	}
	return collectOrders(rows)
}

// ListActiveBySymbol returns non-terminal orders for a symbol.
func (s *OrderStore) ListActiveBySymbol(ctx context.Context, symbol string) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderCols+` FROM orders
		 WHERE symbol = $1 AND status IN `+activeStatuses+` ORDER BY created_at`, symbol)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active orders for %s: %w", symbol, err)
	}
	return collectOrders(rows)
}

// ListActiveSellsForLot returns the open sell orders protecting a lot.
func (s *OrderStore) ListActiveSellsForLot(ctx context.Context, lotID string) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderCols+` FROM orders
		 WHERE lot_id = $1 AND action = 'SELL' AND status IN `+activeStatuses+`
		 ORDER BY created_at`, lotID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active sells for lot %s: %w", lotID, err)
	}
	return collectOrders(rows)
}

// StatusHistory returns the full event history of an order in occurrence
// order.
func (s *OrderStore) StatusHistory(ctx context.Context, orderID string) ([]domain.OrderStatusEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, order_id, broker_id, status, filled_qty, remaining_qty,
		        avg_fill_price, last_fill_price, note, occurred_at
		 FROM order_status_events
		 WHERE order_id = $1 ORDER BY occurred_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("postgres: status history for %s: %w", orderID, err)
	}
	defer rows.Close()

	var events []domain.OrderStatusEvent
	for rows.Next() {
		var ev domain.OrderStatusEvent
		var status string
		err := rows.Scan(
			&ev.ID, &ev.OrderID, &ev.BrokerID, &status, &ev.FilledQty, &ev.RemainingQty,
			&ev.AvgFillPrice, &ev.LastFillPrice, &ev.Note, &ev.OccurredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan status event: %w", err)
		}
		ev.Status = domain.OrderStatus(status)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// List returns orders for a symbol, newest first, with optional time bounds
// and pagination. An empty symbol matches all symbols.
func (s *OrderStore) List(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.Order, error) {
	query := `SELECT ` + orderCols + ` FROM orders WHERE 1=1`
	args := []any{}
	argIdx := 1

	if symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", argIdx)
		args = append(args, symbol)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"
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
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	return collectOrders(rows)
}

// ListBefore returns terminal orders older than the cutoff. Used by the
// retention archiver.
func (s *OrderStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderCols+` FROM orders
		 WHERE updated_at < $1 AND status NOT IN `+activeStatuses+`
		 ORDER BY updated_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders before %s: %w", before.Format(time.RFC3339), err)
	}
	return collectOrders(rows)
}

// ListStatusEventsBefore returns status events older than the cutoff. Used
// by the retention archiver.
func (s *OrderStore) ListStatusEventsBefore(ctx context.Context, before time.Time) ([]domain.OrderStatusEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, order_id, broker_id, status, filled_qty, remaining_qty,
		        avg_fill_price, last_fill_price, note, occurred_at
		 FROM order_status_events
		 WHERE occurred_at < $1 ORDER BY occurred_at, id`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list status events before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var events []domain.OrderStatusEvent
	for rows.Next() {
		var ev domain.OrderStatusEvent
		var status string
		err := rows.Scan(
			&ev.ID, &ev.OrderID, &ev.BrokerID, &status, &ev.FilledQty, &ev.RemainingQty,
			&ev.AvgFillPrice, &ev.LastFillPrice, &ev.Note, &ev.OccurredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan status event: %w", err)
		}
		ev.Status = domain.OrderStatus(status)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func collectOrders(rows pgx.Rows) ([]domain.Order, error) {
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
