package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/darkodi/shortlink/internal/config"
	"github.com/darkodi/shortlink/internal/model"
)

const keyPrefix = "shortlink:redirect:"

// RedisCache stores redirect entries keyed by short code
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(cfg *config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.Addr, err)
	}

	return NewRedisCacheFromClient(client, cfg.TTL), nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl, now: time.Now}
}

// Get returns the cached entry, or nil, nil on a miss
func (c *RedisCache) Get(ctx context.Context, code string) (*model.RedirectEntry, error) {
	data, err := c.client.Get(ctx, keyPrefix+code).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entry model.RedirectEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode cached entry %s: %w", code, err)
	}
	return &entry, nil
}

// Set caches entry for the configured TTL, shortened so the key never
// outlives the mapping's expiry. Already expired entries are not cached.
func (c *RedisCache) Set(ctx context.Context, code string, entry *model.RedirectEntry) error {
	ttl := c.ttl
	if entry.ExpiresAt != nil {
		remaining := entry.ExpiresAt.Sub(c.now())
		if remaining <= 0 {
			return nil
		}
		ttl = min(ttl, remaining)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, keyPrefix+code, data, ttl).Err()
}

// Delete drops the cached entry for code
func (c *RedisCache) Delete(ctx context.Context, code string) error {
	return c.client.Del(ctx, keyPrefix+code).Err()
}

// Ping checks the connection
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying client
func (c *RedisCache) Close() error {
	return c.client.Close()
}
