package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"cart-recovery-agent/internal/domain"
)

// redisAPI is the subset of *redis.Client used by RedisSink.
type redisAPI interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisSink stores the snapshot as one string value without expiry.
type RedisSink struct {
	api redisAPI
	key string
}

func NewRedisSink(api redisAPI, key string) (*RedisSink, error) {
	if api == nil {
		return nil, errors.New("repository: redis client must not be nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("repository: redis key must not be empty")
	}
	return &RedisSink{api: api, key: key}, nil
}

func (r *RedisSink) LoadSnapshot(ctx context.Context) (domain.Snapshot, error) {
	body, err := r.api.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("repository: redis get %s: %w", r.key, err)
	}
	return decodeSnapshot(body)
}

func (r *RedisSink) SaveSnapshot(ctx context.Context, snap domain.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("repository: redis encode: %w", err)
	}
	if err := r.api.Set(ctx, r.key, body, 0).Err(); err != nil {
		return fmt.Errorf("repository: redis set %s: %w", r.key, err)
	}
	return nil
}
