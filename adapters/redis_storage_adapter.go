package adapters

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStorageAdapter persists values in Redis. A TTL bounds how long
// recovery payloads can linger server-side; zero means no expiry.
type RedisStorageAdapter struct {
	client *redis.Client
	ttl    time.Duration
}

var _ StorageAdapter = (*RedisStorageAdapter)(nil)

// RedisStorageConfig configures the Redis connection.
type RedisStorageConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisStorageAdapter creates an adapter backed by the given Redis
// instance.
func NewRedisStorageAdapter(cfg RedisStorageConfig) *RedisStorageAdapter {
	return &RedisStorageAdapter{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl: cfg.TTL,
	}
}

// Get returns the value stored under key, or "" if absent.
func (r *RedisStorageAdapter) Get(key string) (string, error) {
	ctx, cancel := r.opContext()
	defer cancel()

	value, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Set stores value under key with the configured TTL.
func (r *RedisStorageAdapter) Set(key, value string) error {
	ctx, cancel := r.opContext()
	defer cancel()
	return r.client.Set(ctx, key, value, r.ttl).Err()
}

// Remove deletes key.
func (r *RedisStorageAdapter) Remove(key string) error {
	ctx, cancel := r.opContext()
	defer cancel()
	return r.client.Del(ctx, key).Err()
}

// Close releases the underlying connection pool.
func (r *RedisStorageAdapter) Close() error {
	return r.client.Close()
}

func (r *RedisStorageAdapter) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
