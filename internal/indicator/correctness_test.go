package indicator

import (
	"math"
	"testing"

	"github.com/markcheno/go-talib"
)

// ────────────────────────────────────────────────────────────
// Helper
// ────────────────────────────────────────────────────────────

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// wave is a deterministic series with both gains and losses.
func wave(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + 10*math.Sin(float64(i)/3) + float64(i%7)*0.5
	}
	return out
}

// ────────────────────────────────────────────────────────────
// SMA Correctness
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// Prices: 100, 102, 104, 103, 105
	// SMA after candle 3: (100+102+104)/3 = 102.0000
	// SMA after candle 4: (102+104+103)/3 = 103.0000
	// SMA after candle 5: (104+103+105)/3 = 104.0000

	sma := NewSMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 103.0, 104.0}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		sma.Update(p)
		if sma.Ready() != ready[i] {
			t.Errorf("candle %d: Ready()=%v, want %v", i, sma.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "SMA(3)", sma.Value(), expected[i], 0.0001)
		}
	}
}

func TestSMA_MatchesTalib(t *testing.T) {
	closes := wave(60)
	want := talib.Sma(closes, 10)

	sma := NewSMA(10)
	for i, c := range closes {
		sma.Update(c)
		if i < 9 {
			continue
		}
		assertClose(t, "SMA(10) vs talib", sma.Value(), want[i], 1e-9)
	}
}

// ────────────────────────────────────────────────────────────
// EMA Correctness
// ────────────────────────────────────────────────────────────

func TestEMA_SeedsWithFirstClose(t *testing.T) {
	// EMA(3): multiplier = 2/(3+1) = 0.5
	// Prices: 100, 102, 104, 103
	// Candle 1: EMA = 100 (seed)
	// Candle 2: EMA = 102*0.5 + 100*0.5 = 101
	// Candle 3: EMA = 104*0.5 + 101*0.5 = 102.5
	// Candle 4: EMA = 103*0.5 + 102.5*0.5 = 102.75

	ema := NewEMA(3)
	prices := []float64{100, 102, 104, 103}
	expected := []float64{100, 101, 102.5, 102.75}

	for i, p := range prices {
		ema.Update(p)
		if !ema.Ready() {
			t.Fatalf("candle %d: EMA should be defined from the first close", i)
		}
		assertClose(t, "EMA(3)", ema.Value(), expected[i], 1e-9)
	}
}

func TestEMA_MoreResponsiveThanSMA(t *testing.T) {
	sma := NewSMA(5)
	ema := NewEMA(5)
	for i := 0; i < 10; i++ {
		sma.Update(100)
		ema.Update(100)
	}
	// Sudden jump
	sma.Update(200)
	ema.Update(200)

	smaChange := sma.Value() - 100
	emaChange := ema.Value() - 100
	if emaChange <= smaChange {
		t.Errorf("EMA should react faster: EMA change=%.2f, SMA change=%.2f", emaChange, smaChange)
	}
}

// ────────────────────────────────────────────────────────────
// SMMA Correctness
// ────────────────────────────────────────────────────────────

func TestSMMA_Correctness_Period3(t *testing.T) {
	// Prices: 10, 20, 30, 40
	// Seed: (10+20+30)/3 = 20
	// Next: (20*2 + 40)/3 = 26.6667
	smma := NewSMMA(3)
	for _, p := range []float64{10, 20, 30} {
		smma.Update(p)
	}
	if !smma.Ready() {
		t.Fatal("SMMA(3) should be ready after 3 values")
	}
	assertClose(t, "SMMA seed", smma.Value(), 20, 1e-9)
	smma.Update(40)
	assertClose(t, "SMMA smoothed", smma.Value(), 80.0/3.0, 1e-9)
}

// ────────────────────────────────────────────────────────────
// RSI Correctness
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period3(t *testing.T) {
	// Prices: 10, 11, 10, 12, 13
	// Deltas: +1, -1, +2, +1
	// Seed (first 3 deltas): avgGain = 3/3 = 1, avgLoss = 1/3
	//   RSI = 100 - 100/(1+3) = 75
	// Next: avgGain = (1*2+1)/3 = 1, avgLoss = (1/3*2+0)/3 = 2/9
	//   RS = 4.5 → RSI = 100 - 100/5.5 = 81.8182
	rsi := NewRSI(3)
	prices := []float64{10, 11, 10, 12, 13}
	for i, p := range prices {
		rsi.Update(p)
		if i < 3 && rsi.Ready() {
			t.Errorf("candle %d: RSI should not be ready", i)
		}
	}
	assertClose(t, "RSI(3)", rsi.Value(), 100-100/5.5, 1e-9)
}

func TestRSI_MatchesTalib(t *testing.T) {
	closes := wave(80)
	want := talib.Rsi(closes, 14)

	rsi := NewRSI(14)
	for i, c := range closes {
		rsi.Update(c)
		if i < 14 {
			if rsi.Ready() {
				t.Fatalf("index %d: RSI ready too early", i)
			}
			continue
		}
		assertClose(t, "RSI(14) vs talib", rsi.Value(), want[i], 1e-6)
	}
}

func TestRSI_SeedAllGains_Is100(t *testing.T) {
	rsi := NewRSI(3)
	for _, p := range []float64{1, 2, 3, 4} {
		rsi.Update(p)
	}
	if !rsi.Ready() {
		t.Fatal("RSI should be ready at index=period")
	}
	assertClose(t, "RSI seed all-up", rsi.Value(), 100, 1e-12)
}

func TestRSI_SaturatesBelow100(t *testing.T) {
	rsi := NewRSI(14)
	for i := 0; i < 40; i++ {
		rsi.Update(float64(100 + i))
	}
	// avgLoss stays 0 after the seed, so rs is pinned to 100.
	assertClose(t, "RSI saturation", rsi.Value(), 100-100.0/101.0, 1e-9)
	if rsi.Value() > 100 || rsi.Value() < 0 {
		t.Errorf("RSI out of range: %f", rsi.Value())
	}
}

func TestRSI_AllDown_Is0(t *testing.T) {
	rsi := NewRSI(14)
	for i := 0; i < 30; i++ {
		rsi.Update(float64(200 - i))
	}
	assertClose(t, "RSI all-down", rsi.Value(), 0, 1e-9)
}

func TestRSI_FlatSeedUndefined(t *testing.T) {
	rsi := NewRSI(3)
	for i := 0; i < 4; i++ {
		rsi.Update(50)
	}
	if rsi.Ready() {
		t.Fatalf("flat seed should leave RSI undefined, got %f", rsi.Value())
	}
	// Smoothing starts on the next close; zero loss hits the sentinel.
	rsi.Update(50)
	if !rsi.Ready() {
		t.Fatal("RSI should be defined once smoothing starts")
	}
	assertClose(t, "RSI flat smoothed", rsi.Value(), 100-100.0/101.0, 1e-9)
}

func TestRSI_Reset(t *testing.T) {
	rsi := NewRSI(3)
	for _, p := range []float64{1, 2, 3, 4, 5} {
		rsi.Update(p)
	}
	rsi.Reset()
	if rsi.Ready() || rsi.Value() != 0 {
		t.Fatal("expected cleared RSI after Reset")
	}
}
