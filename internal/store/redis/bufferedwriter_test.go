package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"spot-simulator/internal/model"

	"github.com/shopspring/decimal"
)

type fakeStore struct {
	mu    sync.Mutex
	fail  bool
	saved []model.Snapshot
}

func (f *fakeStore) Save(_ context.Context, snap model.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("connection refused")
	}
	f.saved = append(f.saved, snap)
	return nil
}

func (f *fakeStore) Load(context.Context) (*model.Snapshot, error) { return nil, nil }
func (f *fakeStore) Close() error                                  { return nil }

func (f *fakeStore) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeStore) last() (model.Snapshot, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saved) == 0 {
		return model.Snapshot{}, 0
	}
	return f.saved[len(f.saved)-1], len(f.saved)
}

func snapWithCash(sec int64, cash int64) model.Snapshot {
	s := model.DefaultSnapshot(decimal.NewFromInt(cash))
	s.SavedAt = time.Unix(sec, 0)
	return s
}

func TestBufferedStore_HoldsLatestWhileOpen(t *testing.T) {
	inner := &fakeStore{fail: true}
	cb := NewCircuitBreaker(1, 50*time.Millisecond)
	bs := NewBufferedStore(inner, cb, nil)
	ctx := context.Background()

	if err := bs.Save(ctx, snapWithCash(1, 1)); err == nil {
		t.Fatal("expected first failure to surface")
	}
	if cb.CurrentState() != StateOpen {
		t.Fatalf("expected Open, got %v", cb.CurrentState())
	}

	if err := bs.Save(ctx, snapWithCash(2, 2)); err != nil {
		t.Fatalf("expected held save to return nil, got %v", err)
	}
	bs.Save(ctx, snapWithCash(3, 3))
	bs.Save(ctx, snapWithCash(2, 99)) // older, ignored
	if !bs.Pending() {
		t.Fatal("expected a held snapshot")
	}

	inner.setFail(false)
	time.Sleep(60 * time.Millisecond)

	// Probe closes the breaker; the held snapshot is older than the probe and dropped.
	if err := bs.Save(ctx, snapWithCash(4, 4)); err != nil {
		t.Fatalf("probe save: %v", err)
	}
	if cb.CurrentState() != StateClosed {
		t.Fatalf("expected Closed, got %v", cb.CurrentState())
	}
	deadline := time.Now().Add(time.Second)
	for bs.Pending() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if bs.Pending() {
		t.Error("expected held snapshot cleared after close")
	}
	last, _ := inner.last()
	if !last.Portfolio.Cash.Equal(decimal.NewFromInt(4)) {
		t.Errorf("expected newest snapshot stored last, got cash=%s", last.Portfolio.Cash)
	}
}

func TestBufferedStore_FlushWritesHeld(t *testing.T) {
	inner := &fakeStore{fail: true}
	cb := NewCircuitBreaker(1, time.Hour)
	bs := NewBufferedStore(inner, cb, nil)
	flushed := 0
	bs.OnFlush = func() { flushed++ }
	ctx := context.Background()

	bs.Save(ctx, snapWithCash(1, 1))
	bs.Save(ctx, snapWithCash(2, 2))

	bs.Flush(ctx)
	if !bs.Pending() {
		t.Fatal("expected snapshot kept after failed flush")
	}

	inner.setFail(false)
	bs.Flush(ctx)
	if bs.Pending() || flushed != 1 {
		t.Fatalf("expected flush to write held snapshot (flushed=%d)", flushed)
	}
	last, n := inner.last()
	if n != 1 || !last.Portfolio.Cash.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected one save of cash=2, got n=%d cash=%s", n, last.Portfolio.Cash)
	}
}

func TestDecodeSnapshot(t *testing.T) {
	snap, err := decodeSnapshot([]byte(`{"portfolio":{"cash":"9000","coin":"1.5"},"saved_at":"2024-01-01T00:00:00Z"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Portfolio.Coin.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("coin mismatch: %s", snap.Portfolio.Coin)
	}
	if snap.PendingOrders == nil || snap.Trades == nil {
		t.Error("expected empty, non-nil collections")
	}

	if _, err := decodeSnapshot([]byte(`{"portfolio":`)); err == nil {
		t.Error("expected error for truncated JSON")
	}
}
