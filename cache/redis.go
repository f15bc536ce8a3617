package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sljivkov/ethticker/pricefeed"
)

// RedisStore keeps the slot under a single Redis key
type RedisStore struct {
	Client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStore creates a Redis backed slot. A zero ttl keeps the key forever.
func NewRedisStore(opt *redis.Options, key string, ttl time.Duration) *RedisStore {
	if key == "" {
		key = SlotKey
	}
	return &RedisStore{Client: redis.NewClient(opt), key: key, ttl: ttl}
}

// Ping checks connectivity
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) ([]byte, error) {
	b, err := s.Client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, pricefeed.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	return b, nil
}

func (s *RedisStore) Save(ctx context.Context, data []byte) error {
	if err := s.Client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.Client.Close()
}
