// Package normalize turns raw price-feed messages into model.PriceTick values.
//
// Two wire shapes are accepted:
//
//	{"e":"trade","s":"BTCUSDT","p":"67000.10","q":"0.01","T":1700000000000}   (Binance trade stream)
//	{"timestamp":1700000000000,"price":"67000.10"}                           (canonical)
//
// The canonical price may also be a JSON number. A missing timestamp is
// replaced by the caller's clock.
package normalize

import (
	"encoding/json"
	"errors"
	"time"

	"spot-simulator/internal/model"

	"github.com/shopspring/decimal"
)

// wireTick covers both message shapes in one decode. encoding/json matches
// keys case-insensitively, so "E" and "t" need their own fields or they would
// land in "e" and "T".
type wireTick struct {
	Event     string          `json:"e"`
	EventTime int64           `json:"E"`
	TradeID   int64           `json:"t"`
	TradeTime int64           `json:"T"`
	P         json.RawMessage `json:"p"`
	Timestamp int64           `json:"timestamp"`
	Price     json.RawMessage `json:"price"`
}

// Parse decodes and validates a single feed message. now supplies the
// timestamp when the message carries none; nil means time.Now.
// All failures are returned as *model.FeedError.
func Parse(raw []byte, now func() time.Time) (model.PriceTick, error) {
	var w wireTick
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.PriceTick{}, &model.FeedError{Reason: "malformed message", Raw: raw, Err: err}
	}

	priceRaw := w.Price
	ts := w.Timestamp
	if len(w.P) > 0 {
		priceRaw = w.P
		ts = w.TradeTime
	}
	if len(priceRaw) == 0 {
		return model.PriceTick{}, &model.FeedError{Reason: "missing price", Raw: raw}
	}

	price, err := parseDecimal(priceRaw)
	if err != nil {
		return model.PriceTick{}, &model.FeedError{Reason: "bad price", Raw: raw, Err: err}
	}
	if !price.IsPositive() {
		return model.PriceTick{}, &model.FeedError{Reason: "non-positive price " + price.String(), Raw: raw}
	}

	if ts < 0 {
		return model.PriceTick{}, &model.FeedError{Reason: "negative timestamp", Raw: raw}
	}
	if ts == 0 {
		if now == nil {
			now = time.Now
		}
		ts = now().UnixMilli()
	}

	return model.PriceTick{Timestamp: ts, Price: price}, nil
}

// parseDecimal accepts a quoted decimal string or a bare JSON number.
func parseDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return decimal.NewFromString(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return decimal.Decimal{}, errors.New("price is neither string nor number")
	}
	return decimal.NewFromString(n.String())
}
