package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/m3rciful/chainbot/core/metrics"
)

const redisKeyPrefix = "chainbot:chain:"

// RedisStore keeps each dialog state as one JSON value. A non-zero TTL lets
// abandoned dialogs expire.
type RedisStore struct {
	cli *redis.Client
	ttl time.Duration
}

// NewRedisStore returns a Store over cli; ttl 0 keeps rows forever.
func NewRedisStore(cli *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{cli: cli, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, chatID, userID int64) (*DialogState, error) {
	raw, err := s.cli.Get(ctx, redisKeyPrefix+key(chatID, userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get state: %w", err)
	}
	var row DialogState
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &row, nil
}

// Save writes the whole row with a single SET, which Redis applies atomically.
func (s *RedisStore) Save(ctx context.Context, chatID, userID int64, step, content *string) error {
	raw, err := json.Marshal(DialogState{
		ChatID:    chatID,
		UserID:    userID,
		Step:      step,
		Content:   content,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := s.cli.Set(ctx, redisKeyPrefix+key(chatID, userID), raw, s.ttl).Err(); err != nil {
		metrics.StateWrites.WithLabelValues("redis", "error").Inc()
		return fmt.Errorf("redis set state: %w", err)
	}
	metrics.StateWrites.WithLabelValues("redis", "ok").Inc()
	return nil
}
