package redis

import (
	"context"
	"sync"
	"time"

	"spot-simulator/internal/model"

	"go.uber.org/zap"
)

// BufferedStore wraps a snapshot store with a circuit breaker. While the
// circuit is open the latest snapshot is held locally and written when the
// circuit closes again. Older held snapshots are superseded, not queued.
type BufferedStore struct {
	store model.SnapshotStore
	cb    *CircuitBreaker
	log   *zap.Logger

	mu      sync.Mutex
	pending *model.Snapshot

	// wmu serializes writes so a held snapshot never overwrites a newer one.
	wmu       sync.Mutex
	lastSaved time.Time

	// Callbacks
	OnBuffer func() // called when a snapshot is held (for metrics)
	OnFlush  func() // called after a held snapshot is written
}

// NewBufferedStore creates a BufferedStore wrapping store.
func NewBufferedStore(store model.SnapshotStore, cb *CircuitBreaker, log *zap.Logger) *BufferedStore {
	if log == nil {
		log = zap.NewNop()
	}
	bs := &BufferedStore{
		store: store,
		cb:    cb,
		log:   log,
	}

	// Register flush on circuit close
	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bs.Flush(context.Background())
		}
	}

	return bs
}

// Save writes snap through the circuit breaker. If the circuit is open the
// snapshot is held and nil is returned.
func (bs *BufferedStore) Save(ctx context.Context, snap model.Snapshot) error {
	err := bs.cb.Execute(func() error {
		return bs.write(ctx, snap)
	})
	if err == ErrCircuitOpen {
		bs.hold(snap)
		return nil
	}
	if err == nil {
		bs.discardOlder(snap.SavedAt)
	}
	return err
}

// Load reads through the circuit breaker.
func (bs *BufferedStore) Load(ctx context.Context) (*model.Snapshot, error) {
	var snap *model.Snapshot
	err := bs.cb.Execute(func() error {
		var err error
		snap, err = bs.store.Load(ctx)
		return err
	})
	return snap, err
}

// Close flushes any held snapshot and closes the underlying store.
func (bs *BufferedStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	bs.Flush(ctx)
	cancel()
	return bs.store.Close()
}

func (bs *BufferedStore) write(ctx context.Context, snap model.Snapshot) error {
	bs.wmu.Lock()
	defer bs.wmu.Unlock()
	if snap.SavedAt.Before(bs.lastSaved) {
		return nil
	}
	if err := bs.store.Save(ctx, snap); err != nil {
		return err
	}
	bs.lastSaved = snap.SavedAt
	return nil
}

func (bs *BufferedStore) hold(snap model.Snapshot) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.pending != nil && snap.SavedAt.Before(bs.pending.SavedAt) {
		return
	}
	bs.pending = &snap
	bs.log.Warn("redis circuit open, holding snapshot", zap.Time("saved_at", snap.SavedAt))
	if bs.OnBuffer != nil {
		bs.OnBuffer()
	}
}

func (bs *BufferedStore) discardOlder(t time.Time) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.pending != nil && !bs.pending.SavedAt.After(t) {
		bs.pending = nil
	}
}

// Flush writes the held snapshot, if any, directly to the underlying store.
// On failure it is held again unless something newer arrived.
func (bs *BufferedStore) Flush(ctx context.Context) {
	bs.mu.Lock()
	snap := bs.pending
	bs.pending = nil
	bs.mu.Unlock()
	if snap == nil {
		return
	}

	if err := bs.write(ctx, *snap); err != nil {
		bs.log.Error("flushing held snapshot failed", zap.Error(err))
		bs.mu.Lock()
		if bs.pending == nil {
			bs.pending = snap
		}
		bs.mu.Unlock()
		return
	}

	bs.log.Info("flushed held snapshot", zap.Time("saved_at", snap.SavedAt))
	if bs.OnFlush != nil {
		bs.OnFlush()
	}
}

// Pending reports whether a snapshot is held.
func (bs *BufferedStore) Pending() bool {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.pending != nil
}
