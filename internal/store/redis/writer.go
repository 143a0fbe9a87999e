// Package redis stores simulator snapshots in Redis and publishes
// simulator updates over PubSub.
package redis

import (
	"context"
	"fmt"
	"time"

	"spot-simulator/internal/model"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	// DefaultSnapshotKey holds the JSON-encoded snapshot.
	DefaultSnapshotKey = "sim:snapshot"
	// DefaultUpdatesChannel carries JSON-encoded simulator updates.
	DefaultUpdatesChannel = "sim:updates"

	publishBatch = 64
)

// WriterConfig configures the Redis store.
type WriterConfig struct {
	Addr           string // Redis address, e.g. "localhost:6379"
	Password       string
	DB             int
	SnapshotKey    string
	UpdatesChannel string
}

// Store persists the snapshot as JSON under a single key.
type Store struct {
	client  *goredis.Client
	key     string
	channel string
	log     *zap.Logger
}

// Client returns the underlying Redis client for health checks.
func (s *Store) Client() *goredis.Client { return s.client }

// New creates a Redis store and pings the server.
func New(cfg WriterConfig, log *zap.Logger) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	if log == nil {
		log = zap.NewNop()
	}
	key := cfg.SnapshotKey
	if key == "" {
		key = DefaultSnapshotKey
	}
	channel := cfg.UpdatesChannel
	if channel == "" {
		channel = DefaultUpdatesChannel
	}
	log.Info("connected to redis", zap.String("addr", cfg.Addr), zap.String("key", key))
	return &Store{client: client, key: key, channel: channel, log: log}, nil
}

// Save overwrites the snapshot key.
func (s *Store) Save(ctx context.Context, snap model.Snapshot) error {
	data, err := snap.JSON()
	if err != nil {
		return fmt.Errorf("redis marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", s.key, err)
	}
	return nil
}

// RunPublisher publishes updates to the updates channel. Updates already queued
// are sent in one pipeline. Blocks until ctx is cancelled or the channel is
// closed.
func (s *Store) RunPublisher(ctx context.Context, updates <-chan model.Update) {
	batch := make([]model.Update, 0, publishBatch)
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			batch = append(batch[:0], u)
		drain:
			for len(batch) < publishBatch {
				select {
				case u, ok := <-updates:
					if !ok {
						break drain
					}
					batch = append(batch, u)
				default:
					break drain
				}
			}
			s.publishBatch(ctx, batch)
		}
	}
}

func (s *Store) publishBatch(ctx context.Context, batch []model.Update) {
	pipe := s.client.Pipeline()
	for i := range batch {
		pipe.Publish(ctx, s.channel, string(batch[i].JSON()))
	}
	if _, err := pipe.Exec(ctx); err != nil && ctx.Err() == nil {
		s.log.Warn("update publish failed", zap.Int("count", len(batch)), zap.Error(err))
	}
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
