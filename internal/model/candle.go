package model

import "encoding/json"

// Candle is a close-only price summary for one timeframe bucket.
// OpenTime is the bucket start in epoch milliseconds, aligned to the timeframe.
type Candle struct {
	OpenTime int64   `json:"open_time"`
	Close    float64 `json:"close"`
}

// CandleUpdate is emitted by the aggregator for every accepted tick.
// IsNew is true when the tick opened a new bucket.
type CandleUpdate struct {
	Candle Candle `json:"candle"`
	IsNew  bool   `json:"is_new"`
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
