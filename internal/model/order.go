package model

import "time"

// OrderAction is the broker-side direction of an exit order.
type OrderAction string

const (
	ActionBuy  OrderAction = "BUY"
	ActionSell OrderAction = "SELL"
)

// OrderType is the execution style used when an intent becomes a real order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderIntent is an exit order the engine wants routed. LimitPrice is only
// set for limit orders.
type OrderIntent struct {
	StrategyID string      `json:"strategy_id"`
	Level      string      `json:"level"` // level identifier that fired
	Instrument Instrument  `json:"instrument"`
	Action     OrderAction `json:"action"`
	Qty        int64       `json:"qty"`
	OrderType  OrderType   `json:"order_type"`
	LimitPrice int64       `json:"limit_price,omitempty"` // cents
}

// OrderStatus is the routing-side lifecycle of a submitted order.
type OrderStatus string

const (
	OrderAccepted  OrderStatus = "ACCEPTED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderPartFill  OrderStatus = "PARTIAL"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Fill is one execution report for an order.
type Fill struct {
	Qty    int64     `json:"qty"`
	Price  int64     `json:"price"` // cents
	FillTS time.Time `json:"fill_ts"`
}

// OrderUpdate is the asynchronous report from the order-routing collaborator.
// Fills carries only the executions new in this update, not a cumulative list.
type OrderUpdate struct {
	OrderID string      `json:"order_id"`
	Status  OrderStatus `json:"status"`
	Reason  string      `json:"reason,omitempty"` // rejection reason
	Fills   []Fill      `json:"fills,omitempty"`
}
