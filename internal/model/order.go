package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Mode is the order execution mode.
type Mode string

const (
	ModeMarket Mode = "market"
	ModeLimit  Mode = "limit"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderStatus tracks the order lifecycle: pending → filled | canceled.
type OrderStatus string

const (
	StatusPending  OrderStatus = "pending"
	StatusFilled   OrderStatus = "filled"
	StatusCanceled OrderStatus = "canceled"
)

// Order is a simulator order. Market orders carry the reference price they
// executed at; limit orders carry their limit price.
type Order struct {
	ID        string          `json:"id"`
	Mode      Mode            `json:"mode"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Status    OrderStatus     `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	FilledAt  *time.Time      `json:"filled_at,omitempty"`
}

// Notional returns price × amount.
func (o *Order) Notional() decimal.Decimal {
	return o.Price.Mul(o.Amount)
}

// Terminal reports whether the order can no longer change state.
func (o *Order) Terminal() bool {
	return o.Status == StatusFilled || o.Status == StatusCanceled
}

// OrderRequest is the caller-supplied part of an order.
// Price is ignored for market orders.
type OrderRequest struct {
	Mode   Mode            `json:"mode"`
	Side   Side            `json:"side"`
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}
