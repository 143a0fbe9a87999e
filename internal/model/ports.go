package model

import "context"

// ── Collaborator ports ──
// These interfaces decouple the simulator from concrete storage and network
// implementations (SQLite, Redis, Binance REST).

// SnapshotStore persists and restores simulator snapshots.
type SnapshotStore interface {
	// Save persists a snapshot, replacing any previous one.
	Save(ctx context.Context, snap Snapshot) error

	// Load returns the latest snapshot. Returns nil, nil if none exists.
	Load(ctx context.Context) (*Snapshot, error)

	// Close releases underlying resources.
	Close() error
}

// HistoryProvider returns ordered historical candles for a timeframe in minutes.
type HistoryProvider interface {
	Fetch(ctx context.Context, minutes int) ([]Candle, error)
}

// CandleWriter caches candles per timeframe.
type CandleWriter interface {
	WriteCandles(ctx context.Context, minutes int, candles []Candle) error
}

// CandleReader reads cached candles per timeframe, ordered by open time.
type CandleReader interface {
	ReadCandles(ctx context.Context, minutes int, afterMs int64) ([]Candle, error)
}
