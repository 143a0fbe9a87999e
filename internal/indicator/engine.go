package indicator

// Config holds the indicator periods.
type Config struct {
	SMAPeriod int
	EMAPeriod int
	RSIPeriod int
}

// DefaultConfig returns SMA(10), EMA(10), RSI(14).
func DefaultConfig() Config {
	return Config{SMAPeriod: 10, EMAPeriod: 10, RSIPeriod: 14}
}

// Series holds indicator outputs aligned index-for-index with the closes
// they were computed from.
type Series struct {
	SMA []Value `json:"sma"`
	EMA []Value `json:"ema"`
	RSI []Value `json:"rsi"`
}

// Len returns the series length.
func (s Series) Len() int { return len(s.SMA) }

// Last returns the newest point of each series.
func (s Series) Last() (sma, ema, rsi Value) {
	n := s.Len()
	if n == 0 {
		return
	}
	return s.SMA[n-1], s.EMA[n-1], s.RSI[n-1]
}

// Engine recomputes all configured indicators from a close sequence.
// Compute is deterministic: the same closes always yield the same series.
// Designed for single-goroutine usage; no locks.
type Engine struct {
	cfg Config
	sma *SMA
	ema *EMA
	rsi *RSI
}

// NewEngine creates an indicator engine. Non-positive periods fall back to
// the defaults.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.SMAPeriod < 1 {
		cfg.SMAPeriod = def.SMAPeriod
	}
	if cfg.EMAPeriod < 1 {
		cfg.EMAPeriod = def.EMAPeriod
	}
	if cfg.RSIPeriod < 1 {
		cfg.RSIPeriod = def.RSIPeriod
	}
	return &Engine{
		cfg: cfg,
		sma: NewSMA(cfg.SMAPeriod),
		ema: NewEMA(cfg.EMAPeriod),
		rsi: NewRSI(cfg.RSIPeriod),
	}
}

// Config returns the effective periods.
func (e *Engine) Config() Config { return e.cfg }

// Compute feeds closes from index 0 through fresh indicator state.
func (e *Engine) Compute(closes []float64) Series {
	n := len(closes)
	out := Series{
		SMA: make([]Value, n),
		EMA: make([]Value, n),
		RSI: make([]Value, n),
	}

	inds := [...]Indicator{e.sma, e.ema, e.rsi}
	for _, ind := range inds {
		ind.Reset()
	}
	for i, c := range closes {
		for _, ind := range inds {
			ind.Update(c)
		}
		out.SMA[i] = sample(e.sma)
		out.EMA[i] = sample(e.ema)
		out.RSI[i] = sample(e.rsi)
	}
	return out
}
