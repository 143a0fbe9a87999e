package portfolio

import (
	"spot-simulator/internal/model"

	"github.com/shopspring/decimal"
)

// Validation messages shown to the user.
const (
	msgAmount      = "Amount must be greater than zero."
	msgLimitPrice  = "Limit price required."
	msgNoPrice     = "No market price yet."
	msgUnknownSide = "Order side must be buy or sell."
	msgUnknownMode = "Order mode must be market or limit."
	msgInsuffCash  = "Insufficient cash."
	msgInsuffCoin  = "Insufficient coin balance."
)

// CheckOrder validates an order request before any state changes. ref is the
// latest market price (zero when none has arrived). It returns the price the
// order is valued at: ref for market orders, the limit price otherwise.
// Failures are *model.ValidationError.
func CheckOrder(req model.OrderRequest, ref decimal.Decimal, l *Ledger) (decimal.Decimal, error) {
	if !req.Amount.IsPositive() {
		return decimal.Zero, reject(model.KindAmount, msgAmount)
	}

	var price decimal.Decimal
	switch req.Mode {
	case model.ModeMarket:
		if !ref.IsPositive() {
			return decimal.Zero, reject(model.KindPrice, msgNoPrice)
		}
		price = ref
	case model.ModeLimit:
		if !req.Price.IsPositive() {
			return decimal.Zero, reject(model.KindPrice, msgLimitPrice)
		}
		price = req.Price
	default:
		return decimal.Zero, reject(model.KindPrice, msgUnknownMode)
	}

	switch req.Side {
	case model.SideBuy:
		if price.Mul(req.Amount).GreaterThan(l.AvailableCash()) {
			return decimal.Zero, reject(model.KindBalance, msgInsuffCash)
		}
	case model.SideSell:
		if req.Amount.GreaterThan(l.AvailableCoin()) {
			return decimal.Zero, reject(model.KindBalance, msgInsuffCoin)
		}
	default:
		return decimal.Zero, reject(model.KindAmount, msgUnknownSide)
	}
	return price, nil
}

func reject(kind model.ValidationKind, msg string) *model.ValidationError {
	return &model.ValidationError{Kind: kind, Message: msg}
}
