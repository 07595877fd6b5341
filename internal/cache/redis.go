package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sandro988/Weather-API/internal/models"
)

const keyPrefix = "weather:"

// RedisStore implements Store on a Redis instance. One JSON-serialized
// CacheEntry per city at key "weather:{city}", SET without expiration so the
// entry outlives the freshness window (staleness is the caller's decision).
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis at the given URL (redis://host:port/db)
// and verifies the connection with a ping.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &RedisStore{client: client}, nil
}

func storeKey(city string) string {
	return keyPrefix + city
}

// Get implements Store.Get. A missing key is (zero, false, nil); a
// backend or decode failure wraps ErrUnavailable.
func (s *RedisStore) Get(ctx context.Context, city string) (models.CacheEntry, bool, error) {
	raw, err := s.client.Get(ctx, storeKey(city)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.CacheEntry{}, false, nil
		}
		return models.CacheEntry{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("%w: decode cache entry: %v", ErrUnavailable, err)
	}
	return entry, true, nil
}

// Put implements Store.Put, overwriting any existing entry for the city.
func (s *RedisStore) Put(ctx context.Context, entry models.CacheEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := s.client.Set(ctx, storeKey(entry.City), raw, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Ping checks Redis reachability. Used for health checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client connections. Call during shutdown.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
