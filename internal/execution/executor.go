// Package execution matches pending limit orders against the live price and
// applies filled orders to the portfolio.
//
// The OrderBook owns pending orders. The Executor owns the open Position and
// is the only writer of ledger balances and trade history.
package execution

import (
	"fmt"
	"time"

	"spot-simulator/internal/model"
	"spot-simulator/internal/portfolio"

	"github.com/shopspring/decimal"
)

// Executor applies filled orders to the ledger, tracks the single open
// position and records a Trade whenever a sell closes (part of) it.
type Executor struct {
	ledger   *portfolio.Ledger
	history  *portfolio.History
	position *model.Position

	now func() time.Time
}

// NewExecutor creates an executor writing to ledger and history.
func NewExecutor(ledger *portfolio.Ledger, history *portfolio.History) *Executor {
	return &Executor{ledger: ledger, history: history, now: time.Now}
}

// SetClock overrides the time source (tests and replay).
func (e *Executor) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Execute fills o at o.Price. A buy opens the position or averages into it.
// A sell requires an open position, realizes (exit − entry) × amount and
// shrinks or clears the position. On error nothing changes.
func (e *Executor) Execute(o *model.Order) (*model.Trade, error) {
	at := e.now().UTC()

	var trade *model.Trade
	switch o.Side {
	case model.SideBuy:
		if err := e.ledger.Buy(o.Price, o.Amount); err != nil {
			return nil, err
		}
		e.openOrAdd(o.Price, o.Amount, at)

	case model.SideSell:
		if e.position == nil {
			return nil, &model.NoPositionError{OrderID: o.ID}
		}
		if o.Amount.GreaterThan(e.position.Amount) {
			return nil, fmt.Errorf("execution: sell %s exceeds position %s", o.Amount, e.position.Amount)
		}
		if err := e.ledger.Sell(o.Price, o.Amount); err != nil {
			return nil, err
		}
		trade = e.close(o.Price, o.Amount, at)

	default:
		return nil, fmt.Errorf("execution: unknown side %q", o.Side)
	}

	o.Status = model.StatusFilled
	o.FilledAt = &at
	return trade, nil
}

func (e *Executor) openOrAdd(price, amount decimal.Decimal, at time.Time) {
	if e.position == nil {
		e.position = &model.Position{EntryPrice: price, Amount: amount, OpenedAt: at}
		return
	}
	// Weighted average entry; OpenedAt stays at the first entry.
	cost := e.position.EntryPrice.Mul(e.position.Amount).Add(price.Mul(amount))
	e.position.Amount = e.position.Amount.Add(amount)
	e.position.EntryPrice = cost.Div(e.position.Amount)
}

func (e *Executor) close(price, amount decimal.Decimal, at time.Time) *model.Trade {
	t := model.Trade{
		OpenedAt:   e.position.OpenedAt,
		ClosedAt:   at,
		EntryPrice: e.position.EntryPrice,
		ExitPrice:  price,
		Amount:     amount,
		PnL:        price.Sub(e.position.EntryPrice).Mul(amount),
	}
	e.history.Append(t)

	e.position.Amount = e.position.Amount.Sub(amount)
	if !e.position.Amount.IsPositive() {
		e.position = nil
	}
	return &t
}

// Position returns a copy of the open position, or nil.
func (e *Executor) Position() *model.Position {
	if e.position == nil {
		return nil
	}
	p := *e.position
	return &p
}

// RestorePosition replaces the open position (nil clears it).
func (e *Executor) RestorePosition(p *model.Position) {
	if p == nil {
		e.position = nil
		return
	}
	cp := *p
	e.position = &cp
}
