package domain

import (
	"context"
	"time"
)

// Brokerage is the order and account surface of the trading venue. Both the
// live HTTP gateway and the paper simulator implement it.
type Brokerage interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, brokerID string) error
	OrderStatus(ctx context.Context, brokerID string) (OrderStatusEvent, error)
	Account(ctx context.Context) (AccountSnapshot, error)
	Positions(ctx context.Context) ([]BrokerPosition, error)
}

// MarketData supplies quotes and historical bars for indicator work.
type MarketData interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
	Bars(ctx context.Context, symbol string, interval BarInterval, limit int, end time.Time) ([]Bar, error)
	PrevDailyClose(ctx context.Context, symbol string) (float64, error)
}

// OrderStream delivers asynchronous order status updates from the venue.
type OrderStream interface {
	OrderUpdates(ctx context.Context) (<-chan OrderStatusEvent, error)
}
