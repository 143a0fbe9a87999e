package portfolio

import (
	"testing"
	"time"

	"spot-simulator/internal/model"
)

func trade(pnl string) model.Trade {
	now := time.Unix(1_700_000_000, 0).UTC()
	return model.Trade{OpenedAt: now, ClosedAt: now.Add(time.Minute), Amount: d("1"), PnL: d(pnl)}
}

func TestComputeStats_Empty(t *testing.T) {
	s := ComputeStats(nil)
	if s.Count != 0 || s.Wins != 0 || s.WinRate != 0 {
		t.Errorf("unexpected stats %+v", s)
	}
	assertDec(t, "total", s.TotalPnL, "0")
	assertDec(t, "best", s.Best, "0")
	assertDec(t, "worst", s.Worst, "0")
}

func TestComputeStats(t *testing.T) {
	s := ComputeStats([]model.Trade{trade("20"), trade("-5.5"), trade("0"), trade("7")})
	if s.Count != 4 || s.Wins != 2 {
		t.Fatalf("expected count=4 wins=2, got %+v", s)
	}
	if s.WinRate != 0.5 {
		t.Errorf("expected winRate=0.5, got %f", s.WinRate)
	}
	assertDec(t, "total", s.TotalPnL, "21.5")
	assertDec(t, "best", s.Best, "20")
	assertDec(t, "worst", s.Worst, "-5.5")
}

func TestComputeStats_AllLosses(t *testing.T) {
	s := ComputeStats([]model.Trade{trade("-3"), trade("-1")})
	assertDec(t, "best", s.Best, "-1")
	assertDec(t, "worst", s.Worst, "-3")
	if s.WinRate != 0 {
		t.Errorf("expected winRate=0, got %f", s.WinRate)
	}
}

func TestHistory(t *testing.T) {
	h := NewHistory()
	h.Append(trade("10"))
	h.Append(trade("-4"))

	got := h.Trades()
	got[0].PnL = d("999") // copy must not alias
	assertDec(t, "realized", h.RealizedPnL(), "6")

	h.Restore([]model.Trade{trade("1")})
	if h.Len() != 1 {
		t.Fatalf("expected 1 trade after restore, got %d", h.Len())
	}
	h.Reset()
	if h.Len() != 0 || h.Stats().Count != 0 {
		t.Error("expected empty history after reset")
	}
}

func TestSummarize(t *testing.T) {
	l := NewLedger(d("10000"))
	h := NewHistory()
	l.Buy(d("100"), d("2"))
	pos := &model.Position{EntryPrice: d("100"), Amount: d("2")}
	h.Append(trade("5"))

	s := Summarize(l, h, pos, d("110"))
	assertDec(t, "open", s.OpenPnL, "20")
	assertDec(t, "net", s.NetPnL, "20")
	assertDec(t, "realized", s.RealizedPnL, "5")
	if s.TotalTrades != 1 {
		t.Errorf("expected 1 trade, got %d", s.TotalTrades)
	}
}
