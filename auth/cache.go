package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CapabilityCache stores resolved capability views keyed by username.
// A miss returns (nil, nil).
type CapabilityCache interface {
	Get(ctx context.Context, username string) (*User, error)
	Set(ctx context.Context, user *User) error
	Invalidate(ctx context.Context, username string) error
}

// RedisCache shares resolved capability views between the web and
// uploader processes through Redis, each entry expiring after the
// configured refresh interval.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisCache{client: client, ttl: ttl, prefix: "airlock:authz:"}, nil
}

// NewRedisCacheWithClient wraps an existing client. Tests use this with
// miniredis.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, prefix: "airlock:authz:"}
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error { return c.client.Close() }

func (c *RedisCache) key(username string) string { return c.prefix + username }

// Get fetches a cached capability view, nil on miss.
func (c *RedisCache) Get(ctx context.Context, username string) (*User, error) {
	raw, err := c.client.Get(ctx, c.key(username)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read authz cache: %w", err)
	}
	var user User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("failed to decode cached user: %w", err)
	}
	return &user, nil
}

// Set stores a capability view with the cache TTL.
func (c *RedisCache) Set(ctx context.Context, user *User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	return c.client.Set(ctx, c.key(user.Username), raw, c.ttl).Err()
}

// Invalidate drops a user's cached capability view.
func (c *RedisCache) Invalidate(ctx context.Context, username string) error {
	return c.client.Del(ctx, c.key(username)).Err()
}

// MemoryCache is the in-process fallback used when no Redis URL is
// configured.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
}

type memoryEntry struct {
	user      User
	expiresAt time.Time
}

// NewMemoryCache creates an in-process capability cache.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, entries: map[string]memoryEntry{}}
}

func (c *MemoryCache) Get(_ context.Context, username string) (*User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[username]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(c.entries, username)
		return nil, nil
	}
	user := entry.user
	return &user, nil
}

func (c *MemoryCache) Set(_ context.Context, user *User) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[user.Username] = memoryEntry{user: *user, expiresAt: time.Now().Add(c.ttl)}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, username string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, username)
	return nil
}
