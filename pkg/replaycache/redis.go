package replaycache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "payguard:replay:"

// Redis is a durable Cache backed by Redis. SET NX PX gives the atomic
// compare-and-set the replay invariant requires, and reservations
// survive kernel restarts within the TTL window.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a cache backed by an existing Redis client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// NewRedisFromAddr dials Redis and wraps it in a cache.
func NewRedisFromAddr(addr, password string, db int) *Redis {
	return NewRedis(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

// Reserve implements Cache.
func (r *Redis) Reserve(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Second
	}
	// Retain for ttl + grace (grace == ttl).
	ok, err := r.client.SetNX(ctx, redisKeyPrefix+nonce, "1", 2*ttl).Result()
	if err != nil {
		return false, fmt.Errorf("replay cache reserve: %w", err)
	}
	return ok, nil
}
