package domain

import "time"

// LotType separates the long-horizon core holding from short-term trading
// shares of the same symbol.
type LotType string

const (
	LotTypeCore    LotType = "CORE"
	LotTypeTrading LotType = "TRADING"
)

// LotStatus tracks whether a lot still contributes to the position.
type LotStatus string

const (
	LotStatusOpen   LotStatus = "OPEN"
	LotStatusClosed LotStatus = "CLOSED"
)

// Lot is one purchased parcel of shares. Core lots are appended once per
// completed build cycle; a filled risk-off unwind consumes them oldest-first
// and is also recorded as a separate UnwindCycle event. Trading lots shrink
// or close as their exit orders fill.
type Lot struct {
	ID       string
	Symbol   string
	Type     LotType
	Quantity int64
	Price    float64 // entry price per share
	Status   LotStatus
	OpenedAt time.Time
	ClosedAt *time.Time
}

// Value returns the lot's worth at the given price.
func (l Lot) Value(price float64) float64 {
	return float64(l.Quantity) * price
}

// UnwindCycle marks one risk-off unwind event and the reference price used
// for it. At most one unwind is recorded per risk-off episode.
type UnwindCycle struct {
	ID         int64
	Symbol     string
	BasePrice  float64
	CycleCount int
	RecordedAt time.Time
}

// CoreProgress is a derived snapshot of how far a symbol's core position has
// progressed toward its target weight. Every snapshot is recomputed from
// current holdings and prices; nothing is carried between computations.
type CoreProgress struct {
	ID              int64
	Symbol          string
	TargetPct       float64
	CurrentPct      float64
	ValuePerCycle   float64
	TotalCycles     int
	CyclesCompleted int
	CyclesRemaining int
	RecordedAt      time.Time
}

// PositionBreakdown splits a symbol's brokerage position into its core and
// trading components at a point in time.
type PositionBreakdown struct {
	ID            int64
	Symbol        string
	TotalShares   int64
	CoreShares    int64
	TradingShares int64
	RecordedAt    time.Time
}
