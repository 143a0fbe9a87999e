package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// UpdateKind classifies simulator events published on the bus.
type UpdateKind string

const (
	UpdateTick       UpdateKind = "tick"
	UpdateFill       UpdateKind = "fill"
	UpdateCancel     UpdateKind = "cancel"
	UpdateTrade      UpdateKind = "trade"
	UpdateConnection UpdateKind = "connection"
	UpdateReload     UpdateKind = "reload"
	UpdateReset      UpdateKind = "reset"
)

// Update is a simulator event for downstream consumers (publishers, alerts,
// candle journal). Only the fields relevant to Kind are set.
type Update struct {
	Kind      UpdateKind       `json:"kind"`
	At        time.Time        `json:"at"`
	Price     decimal.Decimal  `json:"price"`
	Candle    *CandleUpdate    `json:"candle,omitempty"`
	Timeframe int              `json:"timeframe,omitempty"`
	Order     *Order           `json:"order,omitempty"`
	Trade     *Trade           `json:"trade,omitempty"`
	Connected bool             `json:"connected"`
	Portfolio *Portfolio       `json:"portfolio,omitempty"`
	PnL       *decimal.Decimal `json:"pnl,omitempty"`
}

// JSON returns the JSON-encoded update (ignoring errors for hot-path usage).
func (u *Update) JSON() []byte {
	b, _ := json.Marshal(u)
	return b
}
