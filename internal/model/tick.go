package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceTick is a single normalized trade print from the price feed.
// Timestamp is epoch milliseconds; Price is always positive.
type PriceTick struct {
	Timestamp int64           `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
}

// Time returns the tick timestamp as a UTC time.Time.
func (t PriceTick) Time() time.Time {
	return time.UnixMilli(t.Timestamp).UTC()
}
