package brokerage

import (
	"time"

	"github.com/levtrade/corebot/internal/domain"
)

// orderRequestJSON is the wire form of an order submission.
type orderRequestJSON struct {
	Symbol     string   `json:"symbol"`
	Action     string   `json:"action"`
	Kind       string   `json:"type"`
	Quantity   int64    `json:"quantity"`
	LimitPrice *float64 `json:"limit_price,omitempty"`
}

// orderAckJSON is the gateway's acknowledgement of a submission.
type orderAckJSON struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// orderStatusJSON is one order state report, returned by the status endpoint
// and pushed over the websocket stream. Local order IDs are resolved from
// the gateway order ID on the consuming side.
type orderStatusJSON struct {
	OrderID       string    `json:"order_id"`
	Status        string    `json:"status"`
	FilledQty     int64     `json:"filled_quantity"`
	RemainingQty  int64     `json:"remaining_quantity"`
	AvgFillPrice  float64   `json:"avg_fill_price"`
	LastFillPrice float64   `json:"last_fill_price"`
	Reason        string    `json:"reason,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (o orderStatusJSON) toEvent() domain.OrderStatusEvent {
	return domain.OrderStatusEvent{
		BrokerID:      o.OrderID,
		Status:        domain.OrderStatus(o.Status),
		FilledQty:     o.FilledQty,
		RemainingQty:  o.RemainingQty,
		AvgFillPrice:  o.AvgFillPrice,
		LastFillPrice: o.LastFillPrice,
		Note:          o.Reason,
		OccurredAt:    o.UpdatedAt,
	}
}

// accountJSON is the gateway's account summary.
type accountJSON struct {
	Equity      float64 `json:"equity"`
	Cash        float64 `json:"cash"`
	BuyingPower float64 `json:"buying_power"`
}

// positionJSON is one open position.
type positionJSON struct {
	Symbol       string  `json:"symbol"`
	Quantity     int64   `json:"quantity"`
	AvgCost      float64 `json:"avg_cost"`
	MarketValue  float64 `json:"market_value"`
	CurrentPrice float64 `json:"current_price"`
}

func (p positionJSON) toDomain() domain.BrokerPosition {
	return domain.BrokerPosition{
		Symbol:       p.Symbol,
		Quantity:     p.Quantity,
		AvgCost:      p.AvgCost,
		MarketValue:  p.MarketValue,
		CurrentPrice: p.CurrentPrice,
	}
}

// quoteJSON is a top-of-book snapshot.
type quoteJSON struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	Timestamp time.Time `json:"timestamp"`
}

func (q quoteJSON) toDomain() domain.Quote {
	return domain.Quote{
		Symbol:    q.Symbol,
		Bid:       q.Bid,
		Ask:       q.Ask,
		Last:      q.Last,
		Timestamp: q.Timestamp,
	}
}

// barJSON is one OHLCV aggregate.
type barJSON struct {
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   int64     `json:"volume"`
	Start    time.Time `json:"start"`
}

func (b barJSON) toDomain() domain.Bar {
	return domain.Bar{
		Symbol:   b.Symbol,
		Interval: domain.BarInterval(b.Interval),
		Open:     b.Open,
		High:     b.High,
		Low:      b.Low,
		Close:    b.Close,
		Volume:   b.Volume,
		Start:    b.Start,
	}
}

// errorJSON is the gateway's error envelope.
type errorJSON struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
