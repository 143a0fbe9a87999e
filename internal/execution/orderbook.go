package execution

import (
	"spot-simulator/internal/model"

	"github.com/shopspring/decimal"
)

// OrderBook holds pending limit orders in submission order.
// Not safe for concurrent use; the simulator serializes access.
type OrderBook struct {
	orders []*model.Order
}

// NewOrderBook creates an empty book.
func NewOrderBook() *OrderBook {
	return &OrderBook{orders: make([]*model.Order, 0, 16)}
}

// Add appends a pending order.
func (b *OrderBook) Add(o *model.Order) {
	b.orders = append(b.orders, o)
}

// Remove takes the pending order with id out of the book.
func (b *OrderBook) Remove(id string) (*model.Order, error) {
	for i, o := range b.orders {
		if o.ID == id {
			b.orders = append(b.orders[:i], b.orders[i+1:]...)
			return o, nil
		}
	}
	return nil, model.ErrOrderNotFound
}

// Crosses reports whether price meets the order's limit: at or below it for
// a buy, at or above it for a sell.
func Crosses(o *model.Order, price decimal.Decimal) bool {
	switch o.Side {
	case model.SideBuy:
		return price.LessThanOrEqual(o.Price)
	case model.SideSell:
		return price.GreaterThanOrEqual(o.Price)
	}
	return false
}

// Match removes and returns every order crossed by price, in submission
// order. Orders that do not cross keep their relative order.
func (b *OrderBook) Match(price decimal.Decimal) []*model.Order {
	var matched []*model.Order
	kept := b.orders[:0]
	for _, o := range b.orders {
		if Crosses(o, price) {
			matched = append(matched, o)
			continue
		}
		kept = append(kept, o)
	}
	for i := len(kept); i < len(b.orders); i++ {
		b.orders[i] = nil
	}
	b.orders = kept
	return matched
}

// Pending returns copies of the pending orders in submission order.
func (b *OrderBook) Pending() []model.Order {
	out := make([]model.Order, len(b.orders))
	for i, o := range b.orders {
		out[i] = *o
	}
	return out
}

// Len returns the number of pending orders.
func (b *OrderBook) Len() int { return len(b.orders) }

// Clear empties the book and returns the removed orders.
func (b *OrderBook) Clear() []*model.Order {
	out := b.orders
	b.orders = make([]*model.Order, 0, 16)
	return out
}
