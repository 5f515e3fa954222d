package persist

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client  *redis.Client
	baseTTL time.Duration
}

// NewRedisStore keeps each value for baseTTL plus a random jitter of up to baseTTL/15.
func NewRedisStore(client *redis.Client, baseTTL time.Duration) *RedisStore {
	if baseTTL <= 0 {
		baseTTL = 30 * 24 * time.Hour
	}
	return &RedisStore{client: client, baseTTL: baseTTL}
}

func (r *RedisStore) Load(ctx context.Context, name Name, session string, v any) error {
	data, err := r.client.Get(ctx, key(name, session)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("redis get failed: %w", err)
	}
	return unmarshal(name, data, v)
}

func (r *RedisStore) Save(ctx context.Context, name Name, session string, v any) error {
	data, err := partialize(name, v)
	if err != nil {
		return err
	}

	if err := r.client.Set(ctx, key(name, session), data, r.ttl()).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, name Name, session string) error {
	if err := r.client.Del(ctx, key(name, session)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r *RedisStore) ttl() time.Duration {
	maxJitter := int64(r.baseTTL / 15)
	if maxJitter <= 0 {
		return r.baseTTL
	}
	return r.baseTTL + time.Duration(rand.Int63n(maxJitter))
}
