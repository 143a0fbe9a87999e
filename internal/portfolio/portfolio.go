// Package portfolio tracks balances, escrow, trade history and P&L.
//
// The Ledger holds cash and coin balances together with the amounts held in
// escrow for pending limit orders. Available balances (total minus held) are
// what pre-trade validation checks, so two pending orders can never spend
// the same funds.
//
// Nothing in this package locks: the simulator owns every instance and
// serializes access.
package portfolio

import (
	"fmt"

	"spot-simulator/internal/model"

	"github.com/shopspring/decimal"
)

// Ledger holds the cash and coin balances relative to a fixed baseline.
type Ledger struct {
	baseline decimal.Decimal
	cash     decimal.Decimal
	coin     decimal.Decimal
	heldCash decimal.Decimal
	heldCoin decimal.Decimal
}

// NewLedger creates a ledger funded with baseline cash and no coin.
func NewLedger(baseline decimal.Decimal) *Ledger {
	return &Ledger{baseline: baseline, cash: baseline}
}

// Baseline returns the starting cash balance used for P&L.
func (l *Ledger) Baseline() decimal.Decimal { return l.baseline }

// Balances returns total cash and coin, including held amounts.
func (l *Ledger) Balances() model.Portfolio {
	return model.Portfolio{Cash: l.cash, Coin: l.coin}
}

// AvailableCash returns cash not held for pending buys.
func (l *Ledger) AvailableCash() decimal.Decimal { return l.cash.Sub(l.heldCash) }

// AvailableCoin returns coin not held for pending sells.
func (l *Ledger) AvailableCoin() decimal.Decimal { return l.coin.Sub(l.heldCoin) }

// Held returns the escrowed cash and coin.
func (l *Ledger) Held() (cash, coin decimal.Decimal) { return l.heldCash, l.heldCoin }

// Hold escrows funds for a pending order: limit×amount cash for a buy,
// amount coin for a sell.
func (l *Ledger) Hold(o *model.Order) {
	switch o.Side {
	case model.SideBuy:
		l.heldCash = l.heldCash.Add(o.Notional())
	case model.SideSell:
		l.heldCoin = l.heldCoin.Add(o.Amount)
	}
}

// Release returns an order's escrow to the available balance.
func (l *Ledger) Release(o *model.Order) {
	switch o.Side {
	case model.SideBuy:
		l.heldCash = clampZero(l.heldCash.Sub(o.Notional()))
	case model.SideSell:
		l.heldCoin = clampZero(l.heldCoin.Sub(o.Amount))
	}
}

// Buy debits price×amount cash and credits amount coin.
func (l *Ledger) Buy(price, amount decimal.Decimal) error {
	cost := price.Mul(amount)
	if cost.GreaterThan(l.cash) {
		return fmt.Errorf("portfolio: buy cost %s exceeds cash %s", cost, l.cash)
	}
	l.cash = l.cash.Sub(cost)
	l.coin = l.coin.Add(amount)
	return nil
}

// Sell debits amount coin and credits price×amount cash.
func (l *Ledger) Sell(price, amount decimal.Decimal) error {
	if amount.GreaterThan(l.coin) {
		return fmt.Errorf("portfolio: sell amount %s exceeds coin %s", amount, l.coin)
	}
	l.coin = l.coin.Sub(amount)
	l.cash = l.cash.Add(price.Mul(amount))
	return nil
}

// UnrealizedPnL returns cash + coin×price − baseline.
func (l *Ledger) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	return l.Equity(price).Sub(l.baseline)
}

// Equity returns cash + coin×price.
func (l *Ledger) Equity(price decimal.Decimal) decimal.Decimal {
	return l.cash.Add(l.coin.Mul(price))
}

// Restore loads persisted balances and clears all escrow. Callers re-hold
// pending orders afterwards.
func (l *Ledger) Restore(p model.Portfolio) {
	l.cash = p.Cash
	l.coin = p.Coin
	l.heldCash = decimal.Zero
	l.heldCoin = decimal.Zero
}

// Reset returns the ledger to baseline cash and zero coin with no escrow.
func (l *Ledger) Reset() {
	l.Restore(model.Portfolio{Cash: l.baseline, Coin: decimal.Zero})
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
