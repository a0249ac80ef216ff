package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/FTacke/hispanistica-games-sub000/internal/backend/local"
)

// RunStore persists run snapshots in Redis as one JSON document per run, so
// a player who reconnects (or a new instance taking over) sees the same
// shuffle orders, hidden options and recorded outcomes.
// Runs are stored as: SET quizrun:run:{userID}:{topicID} {json} EX ttl
type RunStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRunStore(client *redis.Client, ttl time.Duration) *RunStore {
	return &RunStore{client: client, ttl: ttl}
}

func (s *RunStore) Load(ctx context.Context, key string) (local.RunSnapshot, bool, error) {
	raw, err := s.client.Get(ctx, s.runKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return local.RunSnapshot{}, false, nil
	}
	if err != nil {
		return local.RunSnapshot{}, false, fmt.Errorf("get run: %w", err)
	}
	var snap local.RunSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return local.RunSnapshot{}, false, fmt.Errorf("unmarshal run: %w", err)
	}
	return snap, true, nil
}

func (s *RunStore) Save(ctx context.Context, key string, snap local.RunSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	if err := s.client.Set(ctx, s.runKey(key), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("set run: %w", err)
	}
	return nil
}

func (s *RunStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.runKey(key)).Err(); err != nil {
		return fmt.Errorf("del run: %w", err)
	}
	return nil
}

func (s *RunStore) runKey(key string) string {
	return "quizrun:run:" + key
}
