// Package broker defines the brokerage capability surface the core depends
// on. The real HTTP client (authentication, signing, retry) lives outside
// this module; anything satisfying Broker can back the engine.
package broker

import (
	"context"
)

// Side of an order.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Order is a request to buy or sell one instrument.
type Order struct {
	Code       string
	Market     string
	Side       string
	Qty        int
	LimitPrice float64 // 0 means market order
}

// Ack is the brokerage response to a submitted order.
type Ack struct {
	OK            bool
	BrokerOrderID string
	Message       string
	FillPrice     float64
}

// OrderableCheck is the non-mutating pre-trade validation result: would the
// brokerage accept this order right now.
type OrderableCheck struct {
	OK          bool
	Reasons     []string
	MaxQty      int
	CashPerUnit float64
}

// Holding is one row of the brokerage's authoritative position snapshot.
type Holding struct {
	Code     string  `json:"code"`
	Qty      int     `json:"qty"`
	AvgPrice float64 `json:"avg_price"`
}

// Broker is the abstract brokerage capability.
type Broker interface {
	// SubmitOrder places a real order.
	SubmitOrder(ctx context.Context, order Order) (Ack, error)
	// CheckOrderable validates an order without placing it.
	CheckOrderable(ctx context.Context, order Order) (OrderableCheck, error)
	// Holdings returns the account's current positions.
	Holdings(ctx context.Context) ([]Holding, error)
	// Quote returns the current mark price for an instrument.
	Quote(ctx context.Context, code string) (float64, error)
	// Cash returns the orderable cash balance.
	Cash(ctx context.Context) (float64, error)
}
