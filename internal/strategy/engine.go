// Package strategy runs rule-based strategies over closed candles.
//
// A Strategy receives each closed candle's close and may emit a Signal.
// The Engine fans closes out to registered strategies and collects signals.
package strategy

// Signal represents a trading decision emitted by a strategy.
type Signal struct {
	Strategy string `json:"strategy"`
	Action   Action `json:"action"`
	Reason   string `json:"reason"`
}

// Action represents a trading action.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Strategy is the interface that all strategies implement.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// OnClose is called once per closed candle. Return a Signal to act, or
	// nil to skip.
	OnClose(close float64) *Signal
}

// Engine routes closes to registered strategies.
type Engine struct {
	strategies []Strategy
}

// NewEngine creates an engine with the given strategies.
func NewEngine(strategies ...Strategy) *Engine {
	return &Engine{strategies: strategies}
}

// Register adds a strategy to the engine.
func (e *Engine) Register(s Strategy) {
	e.strategies = append(e.strategies, s)
}

// OnClose feeds one close to every strategy in registration order and
// returns the signals they emitted.
func (e *Engine) OnClose(close float64) []Signal {
	var out []Signal
	for _, s := range e.strategies {
		if sig := s.OnClose(close); sig != nil {
			out = append(out, *sig)
		}
	}
	return out
}
