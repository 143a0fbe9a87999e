package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the simulator's single open holding between a buy and the sell
// that closes it.
type Position struct {
	EntryPrice decimal.Decimal `json:"entry_price"`
	Amount     decimal.Decimal `json:"amount"`
	OpenedAt   time.Time       `json:"opened_at"`
}

// UnrealizedPnL computes (price - entry) × amount.
func (p *Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	return price.Sub(p.EntryPrice).Mul(p.Amount)
}

// Trade is the immutable record of a closed (or partially closed) position.
type Trade struct {
	OpenedAt   time.Time       `json:"opened_at"`
	ClosedAt   time.Time       `json:"closed_at"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	Amount     decimal.Decimal `json:"amount"`
	PnL        decimal.Decimal `json:"pnl"`
}

// Portfolio holds the cash and coin balances.
type Portfolio struct {
	Cash decimal.Decimal `json:"cash"`
	Coin decimal.Decimal `json:"coin"`
}

// Stats summarizes the trade history.
type Stats struct {
	Count    int             `json:"count"`
	Wins     int             `json:"wins"`
	WinRate  float64         `json:"win_rate"` // 0..1
	TotalPnL decimal.Decimal `json:"total_pnl"`
	Best     decimal.Decimal `json:"best"`
	Worst    decimal.Decimal `json:"worst"`
}
