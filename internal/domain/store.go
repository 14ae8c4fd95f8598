package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// RiskStateStore persists the append-only risk regime history. A new row
// is appended only when the regime changes; the latest row per symbol is
// the current state.
type RiskStateStore interface {
	Append(ctx context.Context, state RiskState) (RiskState, error)
	Latest(ctx context.Context, symbol string) (RiskState, error)
	List(ctx context.Context, symbol string, opts ListOpts) ([]RiskState, error)
}

// MilestoneStore persists 52-week-high and all-time-high crossings.
type MilestoneStore interface {
	Append(ctx context.Context, m PriceMilestone) (PriceMilestone, error)
	Latest(ctx context.Context, symbol string, kind MilestoneKind) (PriceMilestone, error)
	List(ctx context.Context, symbol string, opts ListOpts) ([]PriceMilestone, error)
}

// CoreStore persists core lots, unwind events, and derived progress
// snapshots. Lots shrink or close as their shares sell; unwinds are
// recorded as separate events.
type CoreStore interface {
	AppendLot(ctx context.Context, lot Lot) error
	CloseLot(ctx context.Context, lotID string, closedAt time.Time) error
	// ReduceLot sets the lot's remaining open quantity (what is left after
	// a partial sale, not the amount sold); remaining <= 0 closes the lot.
	ReduceLot(ctx context.Context, lotID string, remaining int64) error
	GetLot(ctx context.Context, lotID string) (Lot, error)
	ActiveLots(ctx context.Context, symbol string, lotType LotType) ([]Lot, error)
	CoreQuantity(ctx context.Context, symbol string) (int64, error)
	CostBasis(ctx context.Context, symbol string) (float64, error)

	AppendUnwind(ctx context.Context, u UnwindCycle) (UnwindCycle, error)
	LatestUnwind(ctx context.Context, symbol string) (UnwindCycle, error)
	CountUnwinds(ctx context.Context, symbol string, since time.Time) (int, error)

	AppendProgress(ctx context.Context, p CoreProgress) error
	LatestProgress(ctx context.Context, symbol string) (CoreProgress, error)

	AppendBreakdown(ctx context.Context, b PositionBreakdown) error
	LatestBreakdown(ctx context.Context, symbol string) (PositionBreakdown, error)
}

// OrderStore persists orders and their append-only status event history.
type OrderStore interface {
	Create(ctx context.Context, order Order) error
	UpdateSnapshot(ctx context.Context, order Order) error
	AppendStatusEvent(ctx context.Context, ev OrderStatusEvent) error
	GetByID(ctx context.Context, id string) (Order, error)
	GetByBrokerID(ctx context.Context, brokerID string) (Order, error)
	ListActive(ctx context.Context) ([]Order, error)
	ListActiveBySymbol(ctx context.Context, symbol string) ([]Order, error)
	ListActiveSellsForLot(ctx context.Context, lotID string) ([]Order, error)
	StatusHistory(ctx context.Context, orderID string) ([]OrderStatusEvent, error)
	List(ctx context.Context, symbol string, opts ListOpts) ([]Order, error)
}

// SignalStore persists entry signals and gap events.
type SignalStore interface {
	AppendEntry(ctx context.Context, sig EntrySignal) (EntrySignal, error)
	MarkActed(ctx context.Context, id int64) error
	LatestEntry(ctx context.Context, symbol string) (EntrySignal, error)
	AppendGap(ctx context.Context, ev GapEvent) (GapEvent, error)
	ListGaps(ctx context.Context, symbol string, opts ListOpts) ([]GapEvent, error)
}

// PerformanceStore persists realized trade results, portfolio snapshots,
// and per-symbol core performance rows.
type PerformanceStore interface {
	RecordTrade(ctx context.Context, tp TradePerformance) error
	ListTrades(ctx context.Context, symbol string, opts ListOpts) ([]TradePerformance, error)
	SumPnL(ctx context.Context, since time.Time) (float64, error)
	RecordSnapshot(ctx context.Context, snap PortfolioSnapshot) error
	LatestSnapshot(ctx context.Context) (PortfolioSnapshot, error)
	RecordCorePerf(ctx context.Context, cp CorePerformance) error
	LatestCorePerf(ctx context.Context, symbol string) (CorePerformance, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
