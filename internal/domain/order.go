package domain

import "time"

// OrderAction indicates whether an order buys or sells shares.
type OrderAction string

const (
	OrderActionBuy  OrderAction = "BUY"
	OrderActionSell OrderAction = "SELL"
)

// OrderKind is the execution style of an order.
type OrderKind string

const (
	OrderKindLimit  OrderKind = "LIMIT"
	OrderKindMarket OrderKind = "MARKET"
)

// OrderStatus tracks the order lifecycle. FILLED, CANCELLED and REJECTED are
// terminal: an order never leaves them, and a resubmission is always a new
// Order with a new ID.
type OrderStatus string

const (
	OrderStatusSubmitted       OrderStatus = "SUBMITTED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether the status is final.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// OrderTag classifies why an order was issued. It drives resubmission and
// reporting, not execution.
type OrderTag string

const (
	OrderTagCoreBuild    OrderTag = "core_build"
	OrderTagCoreUnwind   OrderTag = "core_unwind"
	OrderTagEntry        OrderTag = "entry"
	OrderTagProfitTarget OrderTag = "profit_target"
	OrderTagGapAdjust    OrderTag = "gap_adjust"
	OrderTagGapExit      OrderTag = "gap_exit"
	OrderTagResubmit     OrderTag = "resubmit"
	OrderTagManual       OrderTag = "manual"
)

// Order is a brokerage order owned by the lifecycle manager. ID is assigned
// locally at submission time; BrokerID is the brokerage's identifier and is
// set once the submission is acknowledged.
type Order struct {
	ID           string
	BrokerID     string
	Symbol       string
	Action       OrderAction
	Kind         OrderKind
	Quantity     int64
	LimitPrice   *float64 // nil for MARKET orders
	LotID        *string  // lot this order builds or protects, if any
	Tag          OrderTag
	Session      SessionName // session the order was submitted in
	Status       OrderStatus
	FilledQty    int64
	RemainingQty int64
	AvgFillPrice float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Terminal reports whether the order has reached a final status.
func (o Order) Terminal() bool { return o.Status.Terminal() }

// Price returns the limit price or zero for market orders.
func (o Order) Price() float64 {
	if o.LimitPrice == nil {
		return 0
	}
	return *o.LimitPrice
}

// OrderRequest is the validated input to Submit. LimitPrice is ignored for
// MARKET orders.
type OrderRequest struct {
	Symbol     string
	Action     OrderAction
	Kind       OrderKind
	Quantity   int64
	LimitPrice float64
	LotID      string // optional
	Tag        OrderTag
}

// OrderAck is the brokerage's acknowledgement of a submission.
type OrderAck struct {
	BrokerID string
	Status   OrderStatus
}

// OrderStatusEvent is one append-only entry in an order's status history.
// Every change reported by the brokerage is recorded, so the full fill
// history of an order can be reconstructed.
type OrderStatusEvent struct {
	ID            int64
	OrderID       string // local order ID; resolved from BrokerID when empty
	BrokerID      string
	Status        OrderStatus
	FilledQty     int64
	RemainingQty  int64
	AvgFillPrice  float64
	LastFillPrice float64
	Note          string
	OccurredAt    time.Time
}
