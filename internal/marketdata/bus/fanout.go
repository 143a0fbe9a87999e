// Package bus fans simulator updates out to independent consumers.
package bus

import (
	"context"
	"sync"

	"spot-simulator/internal/model"

	"go.uber.org/zap"
)

// FanOut broadcasts updates from a single input channel to N named output
// channels. If an output channel is full, the update is dropped for that
// consumer so a slow consumer never blocks the simulator.
type FanOut struct {
	mu      sync.RWMutex
	outputs []chan model.Update
	names   []string
	bufSize int
	log     *zap.Logger

	// OnDrop is called when an update is dropped for a subscriber.
	OnDrop func(subscriber string)
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int, log *zap.Logger) *FanOut {
	if log == nil {
		log = zap.NewNop()
	}
	return &FanOut{
		bufSize: outputBufferSize,
		log:     log,
	}
}

// Subscribe creates and returns a new output channel. name labels drops.
func (f *FanOut) Subscribe(name string) <-chan model.Update {
	ch := make(chan model.Update, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, ch)
	f.names = append(f.names, name)
	f.mu.Unlock()
	return ch
}

// Run reads from the input channel and fans out to all subscribers.
// Blocks until ctx is cancelled or input is closed, then closes every
// output channel.
func (f *FanOut) Run(ctx context.Context, input <-chan model.Update) {
	defer func() {
		f.mu.RLock()
		for _, ch := range f.outputs {
			close(ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-input:
			if !ok {
				return
			}
			f.broadcast(upd)
		}
	}
}

func (f *FanOut) broadcast(upd model.Update) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for i, ch := range f.outputs {
		select {
		case ch <- upd:
		default:
			if f.OnDrop != nil {
				f.OnDrop(f.names[i])
			} else {
				f.log.Warn("subscriber full, dropping update",
					zap.String("subscriber", f.names[i]),
					zap.String("kind", string(upd.Kind)))
			}
		}
	}
}

// ChannelStat is the (length, capacity) of one subscriber channel.
// Used for reporting channel saturation percentage.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// ChannelStats returns occupancy for each subscriber channel.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Name: f.names[i], Len: len(ch), Cap: cap(ch)}
	}
	return stats
}
