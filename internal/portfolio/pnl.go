package portfolio

import (
	"spot-simulator/internal/model"

	"github.com/shopspring/decimal"
)

// History is the append-only list of closed trades.
type History struct {
	trades []model.Trade
}

// NewHistory creates an empty trade history.
func NewHistory() *History {
	return &History{trades: make([]model.Trade, 0, 64)}
}

// Append records a closed trade.
func (h *History) Append(t model.Trade) {
	h.trades = append(h.trades, t)
}

// Trades returns a copy of all trades, oldest first.
func (h *History) Trades() []model.Trade {
	cp := make([]model.Trade, len(h.trades))
	copy(cp, h.trades)
	return cp
}

// Len returns the number of trades.
func (h *History) Len() int { return len(h.trades) }

// Restore replaces the history with persisted trades.
func (h *History) Restore(trades []model.Trade) {
	h.trades = append(h.trades[:0], trades...)
}

// Reset clears all trades.
func (h *History) Reset() {
	h.trades = h.trades[:0]
}

// Stats summarizes the current history.
func (h *History) Stats() model.Stats {
	return ComputeStats(h.trades)
}

// RealizedPnL returns the sum of trade P&L.
func (h *History) RealizedPnL() decimal.Decimal {
	total := decimal.Zero
	for _, t := range h.trades {
		total = total.Add(t.PnL)
	}
	return total
}

// ComputeStats is a pure function over trade history. An empty history
// yields all zeros.
func ComputeStats(trades []model.Trade) model.Stats {
	s := model.Stats{
		TotalPnL: decimal.Zero,
		Best:     decimal.Zero,
		Worst:    decimal.Zero,
	}
	if len(trades) == 0 {
		return s
	}

	s.Count = len(trades)
	s.Best = trades[0].PnL
	s.Worst = trades[0].PnL
	for _, t := range trades {
		if t.PnL.IsPositive() {
			s.Wins++
		}
		s.TotalPnL = s.TotalPnL.Add(t.PnL)
		if t.PnL.GreaterThan(s.Best) {
			s.Best = t.PnL
		}
		if t.PnL.LessThan(s.Worst) {
			s.Worst = t.PnL
		}
	}
	s.WinRate = float64(s.Wins) / float64(s.Count)
	return s
}

// PnLSummary splits portfolio P&L into its closed and open parts.
type PnLSummary struct {
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	OpenPnL     decimal.Decimal `json:"open_pnl"`
	NetPnL      decimal.Decimal `json:"net_pnl"` // cash + coin×price − baseline
	TotalTrades int             `json:"total_trades"`
}

// Summarize returns the P&L summary at price. OpenPnL marks the open
// position (if any) to price.
func Summarize(l *Ledger, h *History, pos *model.Position, price decimal.Decimal) PnLSummary {
	open := decimal.Zero
	if pos != nil {
		open = pos.UnrealizedPnL(price)
	}
	return PnLSummary{
		RealizedPnL: h.RealizedPnL(),
		OpenPnL:     open,
		NetPnL:      l.UnrealizedPnL(price),
		TotalTrades: h.Len(),
	}
}
