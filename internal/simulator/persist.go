package simulator

import (
	"context"
	"sync"
	"time"

	"spot-simulator/internal/model"

	"go.uber.org/zap"
)

// Persister writes snapshots off the critical path. Snapshots enqueued while
// a save is in flight coalesce: only the newest is written next. A snapshot
// older than the last one saved is never written.
type Persister struct {
	store model.SnapshotStore
	log   *zap.Logger

	mu        sync.Mutex
	pending   *model.Snapshot
	lastSaved time.Time
	signal    chan struct{}

	// saveMu serializes Flush so saves reach the store in SavedAt order.
	saveMu sync.Mutex

	// Metrics hooks (optional, set externally)
	OnSaved func(d time.Duration)
	OnError func(err error)
}

// NewPersister creates a persister for store.
func NewPersister(store model.SnapshotStore, log *zap.Logger) *Persister {
	if log == nil {
		log = zap.NewNop()
	}
	return &Persister{
		store:  store,
		log:    log,
		signal: make(chan struct{}, 1),
	}
}

// Enqueue schedules snap for saving. Never blocks. A snapshot older than the
// one pending or the one last saved is ignored.
func (p *Persister) Enqueue(snap model.Snapshot) {
	p.mu.Lock()
	if snap.SavedAt.Before(p.lastSaved) {
		p.mu.Unlock()
		p.log.Debug("dropping stale snapshot", zap.Time("saved_at", snap.SavedAt))
		return
	}
	if p.pending == nil || !snap.SavedAt.Before(p.pending.SavedAt) {
		p.pending = &snap
	}
	p.mu.Unlock()

	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// Run saves pending snapshots until ctx is cancelled, then flushes the last
// one with a short grace period.
func (p *Persister) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			p.Flush(flushCtx)
			cancel()
			return
		case <-p.signal:
			p.Flush(ctx)
		}
	}
}

// Flush saves the pending snapshot, if any.
func (p *Persister) Flush(ctx context.Context) {
	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	p.mu.Lock()
	snap := p.pending
	p.pending = nil
	stale := snap != nil && snap.SavedAt.Before(p.lastSaved)
	p.mu.Unlock()
	if snap == nil || stale {
		return
	}

	start := time.Now()
	if err := p.store.Save(ctx, *snap); err != nil {
		p.log.Error("snapshot save failed", zap.Error(err))
		if p.OnError != nil {
			p.OnError(err)
		}
		// Keep it for the next attempt unless something newer arrived.
		p.mu.Lock()
		if p.pending == nil {
			p.pending = snap
		}
		p.mu.Unlock()
		return
	}
	p.mu.Lock()
	if snap.SavedAt.After(p.lastSaved) {
		p.lastSaved = snap.SavedAt
	}
	p.mu.Unlock()
	if p.OnSaved != nil {
		p.OnSaved(time.Since(start))
	}
}

// Pending reports whether a snapshot is waiting to be saved.
func (p *Persister) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending != nil
}

// LoadInto restores the simulator from store. Absence, load failure and
// snapshots that fail validation all leave the default portfolio in place;
// the simulator never starts from a poisoned state.
func LoadInto(ctx context.Context, store model.SnapshotStore, sim *Simulator, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	snap, err := store.Load(ctx)
	if err != nil {
		log.Error("snapshot load failed, using default portfolio", zap.Error(err))
		sim.Restore(nil)
		return
	}
	if snap == nil {
		log.Info("no snapshot found, starting with default portfolio")
		sim.Restore(nil)
		return
	}
	if err := sim.Restore(snap); err != nil {
		log.Error("snapshot rejected, using default portfolio", zap.Error(err))
		return
	}
	log.Info("snapshot restored",
		zap.String("cash", snap.Portfolio.Cash.String()),
		zap.String("coin", snap.Portfolio.Coin.String()),
		zap.Int("pending_orders", len(snap.PendingOrders)),
		zap.Int("trades", len(snap.Trades)))
}
