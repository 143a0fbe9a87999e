package ringbuf

import (
	"testing"

	"spot-simulator/internal/model"
)

func makeCandle(i int) model.Candle {
	return model.Candle{OpenTime: int64(i) * 60_000, Close: float64(100 + i)}
}

func TestRing_PushAndSlice(t *testing.T) {
	r := New(4)
	for i := 0; i < 3; i++ {
		if r.Push(makeCandle(i)) {
			t.Fatalf("push %d: unexpected eviction", i)
		}
	}
	if r.Len() != 3 {
		t.Fatalf("expected len=3, got %d", r.Len())
	}
	got := r.Slice()
	for i, c := range got {
		if c != makeCandle(i) {
			t.Errorf("index %d: expected %+v, got %+v", i, makeCandle(i), c)
		}
	}
}

func TestRing_EvictsOldest(t *testing.T) {
	r := New(3)
	for i := 0; i < 5; i++ {
		evicted := r.Push(makeCandle(i))
		if want := i >= 3; evicted != want {
			t.Errorf("push %d: expected evicted=%v, got %v", i, want, evicted)
		}
	}
	if r.Len() != 3 {
		t.Fatalf("expected len=3, got %d", r.Len())
	}
	if r.Evicted() != 2 {
		t.Errorf("expected 2 evictions, got %d", r.Evicted())
	}
	closes := r.Closes()
	want := []float64{102, 103, 104}
	for i := range want {
		if closes[i] != want[i] {
			t.Errorf("closes[%d]: expected %.0f, got %.0f", i, want[i], closes[i])
		}
	}
}

func TestRing_LastAndSetLast(t *testing.T) {
	r := New(2)
	if _, ok := r.Last(); ok {
		t.Fatal("expected no last candle on empty ring")
	}
	if r.SetLast(makeCandle(0)) {
		t.Fatal("SetLast on empty ring should fail")
	}

	for i := 0; i < 3; i++ { // wraps once
		r.Push(makeCandle(i))
	}
	last, ok := r.Last()
	if !ok || last != makeCandle(2) {
		t.Fatalf("expected last=%+v, got %+v", makeCandle(2), last)
	}

	updated := last
	updated.Close = 999
	r.SetLast(updated)
	s := r.Slice()
	if s[len(s)-1].Close != 999 || s[0] != makeCandle(1) {
		t.Errorf("unexpected window after SetLast: %+v", s)
	}
}

func TestRing_Reset(t *testing.T) {
	r := New(2)
	r.Push(makeCandle(0))
	r.Push(makeCandle(1))
	r.Push(makeCandle(2))
	r.Reset()
	if r.Len() != 0 || len(r.Slice()) != 0 {
		t.Fatal("expected empty ring after reset")
	}
	r.Push(makeCandle(7))
	if s := r.Slice(); len(s) != 1 || s[0] != makeCandle(7) {
		t.Errorf("unexpected contents after reset+push: %+v", s)
	}
}

func TestNew_MinimumCapacity(t *testing.T) {
	if c := New(0).Cap(); c != 1 {
		t.Errorf("expected cap=1, got %d", c)
	}
}
