// Package ringbuf provides a fixed-capacity candle window. When full, pushing
// a new candle evicts the oldest one from the front. The last candle can be
// rewritten in place while its bucket is still active.
//
// Ring is not safe for concurrent use; its owner serializes access.
package ringbuf

import "spot-simulator/internal/model"

// Ring is a circular buffer of candles with front eviction.
type Ring struct {
	buf  []model.Candle
	head int // index of the oldest element
	n    int // number of stored elements

	// Evicted counts candles pushed out of the front (for metrics).
	evicted uint64
}

// New creates a ring holding at most capacity candles. Minimum capacity is 1.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]model.Candle, capacity)}
}

// Push appends c. Returns true if the oldest candle was evicted to make room.
func (r *Ring) Push(c model.Candle) bool {
	if r.n < len(r.buf) {
		r.buf[(r.head+r.n)%len(r.buf)] = c
		r.n++
		return false
	}
	r.buf[r.head] = c
	r.head = (r.head + 1) % len(r.buf)
	r.evicted++
	return true
}

// Last returns the newest candle.
func (r *Ring) Last() (model.Candle, bool) {
	if r.n == 0 {
		return model.Candle{}, false
	}
	return r.buf[(r.head+r.n-1)%len(r.buf)], true
}

// SetLast overwrites the newest candle. Returns false if the ring is empty.
func (r *Ring) SetLast(c model.Candle) bool {
	if r.n == 0 {
		return false
	}
	r.buf[(r.head+r.n-1)%len(r.buf)] = c
	return true
}

// Slice returns the candles oldest-first as a new slice.
func (r *Ring) Slice() []model.Candle {
	out := make([]model.Candle, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Closes returns the close prices oldest-first.
func (r *Ring) Closes() []float64 {
	out := make([]float64, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)].Close
	}
	return out
}

// Reset empties the ring without releasing its storage.
func (r *Ring) Reset() {
	r.head = 0
	r.n = 0
}

// Len returns the current number of candles.
func (r *Ring) Len() int { return r.n }

// Cap returns the ring capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// Evicted returns the total number of candles evicted from the front.
func (r *Ring) Evicted() uint64 { return r.evicted }
