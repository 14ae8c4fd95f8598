package domain

import "time"

// AccountSnapshot is the brokerage account state used for sizing and
// guardrail checks.
type AccountSnapshot struct {
	Equity      float64 // total account value including positions
	Cash        float64
	BuyingPower float64
	FetchedAt   time.Time
}

// BrokerPosition is a live position as reported by the brokerage.
type BrokerPosition struct {
	Symbol       string
	Quantity     int64
	AvgCost      float64
	MarketValue  float64
	CurrentPrice float64
}

// Portfolio is a point-in-time view of the account and its positions,
// fetched once per control-loop tick and passed into sizing and guardrail
// decisions so every check within a tick sees the same numbers.
type Portfolio struct {
	Account   AccountSnapshot
	Positions map[string]BrokerPosition
}

// PositionValue returns the market value of the symbol's position, zero when
// flat.
func (p Portfolio) PositionValue(symbol string) float64 {
	pos, ok := p.Positions[symbol]
	if !ok {
		return 0
	}
	return pos.MarketValue
}

// PositionQuantity returns the share count held for symbol, zero when flat.
func (p Portfolio) PositionQuantity(symbol string) int64 {
	pos, ok := p.Positions[symbol]
	if !ok {
		return 0
	}
	return pos.Quantity
}

// TotalInvested returns the combined market value of all positions.
func (p Portfolio) TotalInvested() float64 {
	var total float64
	for _, pos := range p.Positions {
		total += pos.MarketValue
	}
	return total
}

// Quote is a top-of-book snapshot for one symbol.
type Quote struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Last      float64
	Timestamp time.Time
}

// Mark returns the price used for valuation: the bid when present,
// otherwise the last trade.
func (q Quote) Mark() float64 {
	if q.Bid > 0 {
		return q.Bid
	}
	return q.Last
}

// BarInterval selects the aggregation period for historical bars.
type BarInterval string

const (
	Bar15Min  BarInterval = "15m"
	BarDaily  BarInterval = "1d"
	BarWeekly BarInterval = "1w"
)

// Bar is one OHLCV aggregate.
type Bar struct {
	Symbol   string
	Interval BarInterval
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   int64
	Start    time.Time
}
