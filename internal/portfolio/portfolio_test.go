package portfolio

import (
	"testing"

	"spot-simulator/internal/model"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, label string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(d(want)) {
		t.Errorf("%s: expected %s, got %s", label, want, got)
	}
}

func TestLedger_BuySell(t *testing.T) {
	l := NewLedger(d("10000"))
	if err := l.Buy(d("100"), d("1")); err != nil {
		t.Fatal(err)
	}
	assertDec(t, "cash", l.Balances().Cash, "9900")
	assertDec(t, "coin", l.Balances().Coin, "1")

	if err := l.Sell(d("120"), d("1")); err != nil {
		t.Fatal(err)
	}
	assertDec(t, "cash", l.Balances().Cash, "10020")
	assertDec(t, "coin", l.Balances().Coin, "0")
	assertDec(t, "pnl", l.UnrealizedPnL(d("500")), "20")
}

func TestLedger_RejectsOverdraft(t *testing.T) {
	l := NewLedger(d("100"))
	if err := l.Buy(d("101"), d("1")); err == nil {
		t.Error("expected buy overdraft error")
	}
	if err := l.Sell(d("1"), d("0.5")); err == nil {
		t.Error("expected sell overdraft error")
	}
	assertDec(t, "cash unchanged", l.Balances().Cash, "100")
}

func TestLedger_HoldAndRelease(t *testing.T) {
	l := NewLedger(d("1000"))
	buy := &model.Order{Side: model.SideBuy, Price: d("90"), Amount: d("5")}
	l.Hold(buy)
	assertDec(t, "available cash", l.AvailableCash(), "550")
	assertDec(t, "total cash", l.Balances().Cash, "1000")

	l.Release(buy)
	assertDec(t, "available after release", l.AvailableCash(), "1000")

	l.Buy(d("10"), d("2"))
	sell := &model.Order{Side: model.SideSell, Price: d("20"), Amount: d("1.5")}
	l.Hold(sell)
	assertDec(t, "available coin", l.AvailableCoin(), "0.5")
	l.Release(sell)
	l.Release(sell) // double release must not go negative
	assertDec(t, "available coin after release", l.AvailableCoin(), "2")
}

func TestLedger_ResetAndRestore(t *testing.T) {
	l := NewLedger(d("10000"))
	l.Buy(d("100"), d("3"))
	l.Hold(&model.Order{Side: model.SideSell, Amount: d("1")})

	l.Reset()
	assertDec(t, "cash", l.Balances().Cash, "10000")
	assertDec(t, "coin", l.Balances().Coin, "0")
	if c, k := l.Held(); !c.IsZero() || !k.IsZero() {
		t.Errorf("expected no escrow after reset, got %s/%s", c, k)
	}

	l.Restore(model.Portfolio{Cash: d("42"), Coin: d("0.1")})
	assertDec(t, "restored cash", l.Balances().Cash, "42")
	assertDec(t, "restored coin", l.AvailableCoin(), "0.1")
}
