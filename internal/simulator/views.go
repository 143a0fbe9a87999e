package simulator

import (
	"spot-simulator/internal/indicator"
	"spot-simulator/internal/model"
	"spot-simulator/internal/portfolio"

	"github.com/shopspring/decimal"
)

// State is a read-only view of the portfolio side.
type State struct {
	Price         decimal.Decimal      `json:"price"`
	Connected     bool                 `json:"connected"`
	Timeframe     int                  `json:"timeframe"`
	Portfolio     model.Portfolio      `json:"portfolio"`
	AvailableCash decimal.Decimal      `json:"available_cash"`
	AvailableCoin decimal.Decimal      `json:"available_coin"`
	Baseline      decimal.Decimal      `json:"baseline"`
	UnrealizedPnL decimal.Decimal      `json:"unrealized_pnl"`
	PnL           portfolio.PnLSummary `json:"pnl"`
	Position      *model.Position      `json:"position"`
	PendingOrders []model.Order        `json:"pending_orders"`
}

// Chart is the candle window with its aligned indicator series.
type Chart struct {
	Timeframe int              `json:"timeframe"`
	Candles   []model.Candle   `json:"candles"`
	Series    indicator.Series `json:"indicators"`
}

// State returns the current portfolio view.
func (s *Simulator) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := s.exec.Position()
	return State{
		Price:         s.price,
		Connected:     s.connected,
		Timeframe:     s.agg.Timeframe(),
		Portfolio:     s.ledger.Balances(),
		AvailableCash: s.ledger.AvailableCash(),
		AvailableCoin: s.ledger.AvailableCoin(),
		Baseline:      s.ledger.Baseline(),
		UnrealizedPnL: s.ledger.UnrealizedPnL(s.price),
		PnL:           portfolio.Summarize(s.ledger, s.history, pos, s.price),
		Position:      pos,
		PendingOrders: s.book.Pending(),
	}
}

// Chart returns the candles and indicator series. Both slices are copies and
// have equal length.
func (s *Simulator) Chart() Chart {
	s.mu.Lock()
	defer s.mu.Unlock()

	series := indicator.Series{
		SMA: append([]indicator.Value(nil), s.series.SMA...),
		EMA: append([]indicator.Value(nil), s.series.EMA...),
		RSI: append([]indicator.Value(nil), s.series.RSI...),
	}
	return Chart{
		Timeframe: s.agg.Timeframe(),
		Candles:   s.agg.Candles(),
		Series:    series,
	}
}

// Trades returns the closed trades, oldest first.
func (s *Simulator) Trades() []model.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Trades()
}

// Stats summarizes the trade history.
func (s *Simulator) Stats() model.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Stats()
}

// Price returns the latest reference price (zero before the first tick).
func (s *Simulator) Price() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.price
}

// Timeframe returns the active candle width in minutes.
func (s *Simulator) Timeframe() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agg.Timeframe()
}
