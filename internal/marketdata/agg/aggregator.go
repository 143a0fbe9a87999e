// Package agg buckets price ticks into fixed-width close-only candles.
package agg

import (
	"spot-simulator/internal/model"
	"spot-simulator/internal/ringbuf"
)

// DefaultMaxCandles bounds the candle window when no limit is configured.
const DefaultMaxCandles = 60

// Aggregator builds candles for one timeframe from a stream of ticks.
// It is not safe for concurrent use: the simulator owns it under its lock.
type Aggregator struct {
	minutes  int
	bucketMs int64
	window   *ringbuf.Ring

	active    int64 // open time of the active bucket
	hasActive bool

	// Metrics hooks (optional, set externally)
	OnLateTick func()
	OnEvicted  func()
}

// New creates an aggregator for a timeframe of minutes, keeping at most
// maxCandles candles. Non-positive values fall back to 1 minute and
// DefaultMaxCandles.
func New(minutes, maxCandles int) *Aggregator {
	if minutes < 1 {
		minutes = 1
	}
	if maxCandles < 1 {
		maxCandles = DefaultMaxCandles
	}
	return &Aggregator{
		minutes:  minutes,
		bucketMs: int64(minutes) * 60_000,
		window:   ringbuf.New(maxCandles),
	}
}

// BucketStart returns the timeframe-aligned open time containing ts.
func (a *Aggregator) BucketStart(ts int64) int64 {
	return floorDiv(ts, a.bucketMs) * a.bucketMs
}

// OnTick folds a tick into the candle sequence. ok is false for a late tick
// whose bucket is older than the active one; such ticks leave the candles
// untouched.
func (a *Aggregator) OnTick(tick model.PriceTick) (model.CandleUpdate, bool) {
	key := a.BucketStart(tick.Timestamp)
	price := tick.Price.InexactFloat64()

	if a.hasActive && key < a.active {
		if a.OnLateTick != nil {
			a.OnLateTick()
		}
		return model.CandleUpdate{}, false
	}

	if a.hasActive && key == a.active {
		c := model.Candle{OpenTime: key, Close: price}
		a.window.SetLast(c)
		return model.CandleUpdate{Candle: c, IsNew: false}, true
	}

	c := model.Candle{OpenTime: key, Close: price}
	if a.window.Push(c) && a.OnEvicted != nil {
		a.OnEvicted()
	}
	a.active = key
	a.hasActive = true
	return model.CandleUpdate{Candle: c, IsNew: true}, true
}

// Reset clears the active bucket. The next tick always opens a new candle.
func (a *Aggregator) Reset() {
	a.hasActive = false
	a.active = 0
}

// Seed replaces the window with historical candles, keeping the newest ones
// that fit. No bucket is active afterwards: the next live tick always opens
// a new candle.
func (a *Aggregator) Seed(candles []model.Candle) {
	a.window.Reset()
	a.Reset()
	if n := len(candles) - a.window.Cap(); n > 0 {
		candles = candles[n:]
	}
	for _, c := range candles {
		a.window.Push(c)
	}
}

// Candles returns the current window oldest-first.
func (a *Aggregator) Candles() []model.Candle { return a.window.Slice() }

// Closes returns the close prices of the window oldest-first.
func (a *Aggregator) Closes() []float64 { return a.window.Closes() }

// Len returns the number of candles in the window.
func (a *Aggregator) Len() int { return a.window.Len() }

// Timeframe returns the bucket width in minutes.
func (a *Aggregator) Timeframe() int { return a.minutes }

// MaxCandles returns the window capacity.
func (a *Aggregator) MaxCandles() int { return a.window.Cap() }

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
