package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only when it still holds our fencing
// token, so an expired lock re-acquired by another writer is never
// released from under them.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisProvider implements Provider with SET NX and a TTL. The TTL bounds
// how long a crashed holder can starve a canvas.
type RedisProvider struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisProvider connects to Redis and verifies the connection.
func NewRedisProvider(redisURL string, ttl time.Duration) (*RedisProvider, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisProviderWithClient(client, ttl), nil
}

// NewRedisProviderWithClient wraps an existing Redis client.
func NewRedisProviderWithClient(client *redis.Client, ttl time.Duration) *RedisProvider {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisProvider{
		client: client,
		prefix: "canvas-lock:",
		ttl:    ttl,
	}
}

func (p *RedisProvider) key(key string) string {
	return p.prefix + key
}

func (p *RedisProvider) Acquire(ctx context.Context, key string) (*Handle, bool, error) {
	token := uuid.NewString()
	lockKey := p.key(key)

	ok, err := p.client.SetNX(ctx, lockKey, token, p.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	handle := NewHandle(func(ctx context.Context) error {
		err := releaseScript.Run(ctx, p.client, []string{lockKey}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	})
	return handle, true, nil
}

// Ping checks if Redis is reachable.
func (p *RedisProvider) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (p *RedisProvider) Close() error {
	return p.client.Close()
}
