package domain

import "time"

// TradePerformance is the realized result of one closed trading lot.
type TradePerformance struct {
	ID         int64
	Symbol     string
	LotID      string
	Quantity   int64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	PnLPct     float64
	HoldTime   time.Duration
	ClosedAt   time.Time
}

// PortfolioSnapshot captures account-level state at a point in time for
// performance tracking.
type PortfolioSnapshot struct {
	ID            int64
	Equity        float64
	Cash          float64
	PositionValue float64
	InvestedPct   float64
	CashPct       float64
	RecordedAt    time.Time
}

// CorePerformance summarizes one symbol's core holding against its cost
// basis.
type CorePerformance struct {
	ID            int64
	Symbol        string
	Shares        int64
	CostBasis     float64
	MarketValue   float64
	UnrealizedPnL float64
	PnLPct        float64
	RecordedAt    time.Time
}
