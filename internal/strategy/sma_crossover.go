package strategy

import (
	"fmt"

	"spot-simulator/internal/indicator"
)

// SMACrossover implements a simple SMA crossover strategy.
//
// Buy signal: fast SMA crosses above slow SMA (golden cross)
// Sell signal: fast SMA crosses below slow SMA (death cross)
//
// The optional RSI filter suppresses buys when overbought (>70) and sells
// when oversold (<30).
type SMACrossover struct {
	fast, slow *indicator.SMA
	rsi        *indicator.RSI

	prev int // sign of fast-slow at the last non-equal ready close
}

// NewSMACrossover creates a crossover strategy. rsiPeriod 0 disables the
// RSI filter.
func NewSMACrossover(fastPeriod, slowPeriod, rsiPeriod int) *SMACrossover {
	s := &SMACrossover{
		fast: indicator.NewSMA(fastPeriod),
		slow: indicator.NewSMA(slowPeriod),
	}
	if rsiPeriod > 0 {
		s.rsi = indicator.NewRSI(rsiPeriod)
	}
	return s
}

func (s *SMACrossover) Name() string { return "SMA_Crossover" }

func (s *SMACrossover) OnClose(close float64) *Signal {
	s.fast.Update(close)
	s.slow.Update(close)
	if s.rsi != nil {
		s.rsi.Update(close)
	}
	if !s.fast.Ready() || !s.slow.Ready() {
		return nil
	}

	fast, slow := s.fast.Value(), s.slow.Value()
	sign := 0
	switch {
	case fast > slow:
		sign = 1
	case fast < slow:
		sign = -1
	}
	prev := s.prev
	if sign != 0 {
		s.prev = sign
	}

	switch {
	case prev < 0 && sign > 0:
		if s.rsi != nil && s.rsi.Ready() && s.rsi.Value() > 70 {
			return nil
		}
		return &Signal{Strategy: s.Name(), Action: ActionBuy,
			Reason: fmt.Sprintf("golden cross: fast=%.2f slow=%.2f", fast, slow)}
	case prev > 0 && sign < 0:
		if s.rsi != nil && s.rsi.Ready() && s.rsi.Value() < 30 {
			return nil
		}
		return &Signal{Strategy: s.Name(), Action: ActionSell,
			Reason: fmt.Sprintf("death cross: fast=%.2f slow=%.2f", fast, slow)}
	}
	return nil
}
