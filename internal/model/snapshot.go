package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCash is the starting (and reset) cash balance.
var DefaultCash = decimal.NewFromInt(10000)

// Snapshot is the persisted simulator state.
type Snapshot struct {
	Portfolio     Portfolio `json:"portfolio"`
	PendingOrders []Order   `json:"pending_orders"`
	Trades        []Trade   `json:"trades"`
	Position      *Position `json:"position,omitempty"`
	SavedAt       time.Time `json:"saved_at"`
}

// DefaultSnapshot returns the fresh-start state: baseline cash, no coin,
// no orders and no history.
func DefaultSnapshot(cash decimal.Decimal) Snapshot {
	return Snapshot{
		Portfolio:     Portfolio{Cash: cash, Coin: decimal.Zero},
		PendingOrders: []Order{},
		Trades:        []Trade{},
	}
}

// Validate rejects snapshots that would poison in-memory state.
func (s *Snapshot) Validate() error {
	if s.Portfolio.Cash.IsNegative() || s.Portfolio.Coin.IsNegative() {
		return fmt.Errorf("snapshot: negative balance cash=%s coin=%s", s.Portfolio.Cash, s.Portfolio.Coin)
	}
	seen := make(map[string]bool, len(s.PendingOrders))
	for _, o := range s.PendingOrders {
		if o.ID == "" || seen[o.ID] {
			return fmt.Errorf("snapshot: missing or duplicate order id %q", o.ID)
		}
		seen[o.ID] = true
		if o.Mode != ModeLimit || o.Status != StatusPending {
			return fmt.Errorf("snapshot: order %s is not a pending limit order", o.ID)
		}
		if !o.Amount.IsPositive() || !o.Price.IsPositive() {
			return fmt.Errorf("snapshot: order %s has non-positive price or amount", o.ID)
		}
		if o.Side != SideBuy && o.Side != SideSell {
			return fmt.Errorf("snapshot: order %s has unknown side %q", o.ID, o.Side)
		}
	}
	if s.Position != nil && !s.Position.Amount.IsPositive() {
		return fmt.Errorf("snapshot: position with non-positive amount %s", s.Position.Amount)
	}
	return nil
}

// JSON returns the JSON-encoded snapshot.
func (s *Snapshot) JSON() ([]byte, error) {
	return json.Marshal(s)
}
