package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"spot-simulator/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// Load reads the snapshot key. Returns nil, nil when the key is missing.
func (s *Store) Load(ctx context.Context) (*model.Snapshot, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", s.key, err)
	}
	return decodeSnapshot(data)
}

func decodeSnapshot(data []byte) (*model.Snapshot, error) {
	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("redis decode snapshot: %w", err)
	}
	if snap.PendingOrders == nil {
		snap.PendingOrders = []model.Order{}
	}
	if snap.Trades == nil {
		snap.Trades = []model.Trade{}
	}
	return &snap, nil
}

// SubscribeUpdates streams decoded updates from the updates channel into out until
// ctx is cancelled. Malformed messages are skipped.
func (s *Store) SubscribeUpdates(ctx context.Context, out chan<- model.Update) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis SUBSCRIBE %s: %w", s.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var u model.Update
			if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
				continue
			}
			select {
			case out <- u:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
