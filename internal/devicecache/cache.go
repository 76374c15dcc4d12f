package devicecache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKey = "voltmon:device_names"

// Cache keeps the cloud device-name map in Redis so the presentation path
// does not hit the metered cloud API on every request.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis and verifies the connection.
func New(addr string, ttl time.Duration) (*Cache, error) {
	if addr == "" {
		return nil, errors.New("devicecache: empty addr")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Cache{client: client, ttl: ttl}, nil
}

// GetNames returns the cached device-name map, or ok=false on miss.
func (c *Cache) GetNames(ctx context.Context) (map[string]string, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, cacheKey).Bytes()
	if err != nil {
		return nil, false
	}
	var names map[string]string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, false
	}
	return names, true
}

// SetNames stores the device-name map with the configured TTL.
func (c *Cache) SetNames(ctx context.Context, names map[string]string) error {
	if c == nil || c.client == nil {
		return errors.New("devicecache: nil client")
	}
	data, err := json.Marshal(names)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey, data, c.ttl).Err()
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
