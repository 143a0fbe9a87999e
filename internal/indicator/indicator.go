// Package indicator provides technical indicator calculations over candle
// close prices.
//
// All indicators implement the Indicator interface and are fed one close at
// a time. The Engine replays a close sequence through fresh instances to
// produce series aligned index-for-index with the candles.
package indicator

import (
	"math"
	"strconv"
)

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "SMA", "EMA").
	Name() string

	// Update feeds the next close price and recalculates.
	Update(close float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when the current value is defined.
	Ready() bool

	// Reset clears all accumulated state.
	Reset()
}

// Value is one point of an indicator series. OK is false while the warm-up
// window is unsatisfied; such points encode as JSON null.
type Value struct {
	V  float64
	OK bool
}

// Defined wraps a computed value.
func Defined(v float64) Value { return Value{V: v, OK: true} }

// MarshalJSON encodes undefined (or non-finite) values as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.OK || math.IsNaN(v.V) || math.IsInf(v.V, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v.V, 'f', -1, 64), nil
}

// UnmarshalJSON accepts a number or null.
func (v *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = Value{}
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*v = Defined(f)
	return nil
}

// sample reads an indicator's current point.
func sample(ind Indicator) Value {
	if !ind.Ready() {
		return Value{}
	}
	return Defined(ind.Value())
}
