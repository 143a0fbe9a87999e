package strategy

import "testing"

func actions(sigs []Signal) []Action {
	var out []Action
	for _, s := range sigs {
		out = append(out, s.Action)
	}
	return out
}

func TestSMACrossoverSignals(t *testing.T) {
	s := NewSMACrossover(2, 3, 0)
	closes := []float64{10, 10, 10, 7, 13, 16, 16, 4}
	want := []Action{"", "", "", "", "", ActionBuy, "", ActionSell}
	for i, c := range closes {
		var got Action
		if sig := s.OnClose(c); sig != nil {
			got = sig.Action
		}
		if got != want[i] {
			t.Fatalf("close %d (%v): got %q, want %q", i, c, got, want[i])
		}
	}
}

func TestSMACrossoverWaitsForSlowWindow(t *testing.T) {
	s := NewSMACrossover(2, 5, 0)
	for _, c := range []float64{1, 2, 3, 4} {
		if sig := s.OnClose(c); sig != nil {
			t.Fatalf("signal %+v before slow window filled", sig)
		}
	}
}

func TestSMACrossoverRSIFilterBlocksOverboughtBuy(t *testing.T) {
	closes := []float64{10, 20, 30, 25, 20, 40}

	plain := NewSMACrossover(2, 3, 0)
	filtered := NewSMACrossover(2, 3, 2)
	var plainLast, filteredLast *Signal
	for i, c := range closes {
		plainLast, filteredLast = plain.OnClose(c), filtered.OnClose(c)
		if i == 4 && (filteredLast == nil || filteredLast.Action != ActionSell) {
			t.Fatalf("expected sell at close %v, got %+v", c, filteredLast)
		}
	}
	if plainLast == nil || plainLast.Action != ActionBuy {
		t.Fatalf("unfiltered strategy should buy, got %+v", plainLast)
	}
	// RSI(2) is about 85.7 on the final close.
	if filteredLast != nil {
		t.Fatalf("buy signal not filtered: %+v", filteredLast)
	}
}

func TestEngineCollectsInOrder(t *testing.T) {
	e := NewEngine(NewSMACrossover(2, 3, 0))
	e.Register(NewSMACrossover(2, 3, 0))
	var last []Signal
	for _, c := range []float64{10, 10, 10, 7, 13, 16} {
		last = e.OnClose(c)
	}
	if got := actions(last); len(got) != 2 || got[0] != ActionBuy || got[1] != ActionBuy {
		t.Fatalf("signals = %v", got)
	}
}
