package model

import (
	"errors"
	"fmt"
)

// ValidationKind names the rule a rejected order broke.
type ValidationKind string

const (
	KindAmount  ValidationKind = "amount"
	KindPrice   ValidationKind = "price"
	KindBalance ValidationKind = "balance"
)

// ValidationError rejects an order at submission. State is unchanged and the
// message is safe to show to the user.
type ValidationError struct {
	Kind    ValidationKind
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NoPositionError is returned when a sell executes with no open position.
type NoPositionError struct {
	OrderID string
}

func (e *NoPositionError) Error() string {
	return fmt.Sprintf("no open position to close for order %s", e.OrderID)
}

// FeedError marks a malformed price update. The tick is dropped.
type FeedError struct {
	Reason string
	Raw    []byte
	Err    error
}

func (e *FeedError) Error() string {
	if e.Err != nil {
		return "feed: " + e.Reason + ": " + e.Err.Error()
	}
	return "feed: " + e.Reason
}

func (e *FeedError) Unwrap() error { return e.Err }

var (
	// ErrTradingDisabled is returned while the price feed is disconnected.
	ErrTradingDisabled = errors.New("live connection required to trade")

	// ErrOrderNotFound is returned when canceling an unknown or settled order.
	ErrOrderNotFound = errors.New("order not found")

	// ErrReloadSuperseded is returned by a history reload that lost to a
	// newer one. State reflects the newer reload.
	ErrReloadSuperseded = errors.New("history reload superseded by a newer one")
)
