package domain

import "time"

// EntrySignal records an RSI recovery detection for a trading symbol: the
// indicator crossed back above the oversold threshold and held above it on
// the following bar.
type EntrySignal struct {
	ID         int64
	Symbol     string
	RSI        float64
	PrevRSI    float64
	Prev2RSI   float64
	Price      float64
	ActedOn    bool
	RecordedAt time.Time
}

// GapDirection distinguishes overnight moves against or in favor of open
// sell orders.
type GapDirection string

const (
	GapDown GapDirection = "DOWN"
	GapUp   GapDirection = "UP"
)

// GapEvent records an overnight price dislocation detected at a session
// boundary check, along with the action taken in response.
type GapEvent struct {
	ID         int64
	Symbol     string
	Direction  GapDirection
	PrevClose  float64
	OpenPrice  float64
	GapPct     float64
	Action     string
	RecordedAt time.Time
}

// BotStatus is a summary of the engine's current operational state.
type BotStatus struct {
	Mode          string
	Session       string
	UptimeSeconds int64
	OpenPositions int32
	OpenOrders    int32
	Symbols       []string
}
