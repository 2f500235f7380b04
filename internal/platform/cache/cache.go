// Package cache holds the Redis connection shared by progress locks when
// several server instances serve the same learners.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures a Cache. Zero timeouts take the package defaults.
type Options struct {
	URL          string
	KeyPrefix    string // namespaces every key this package writes, e.g. "pai-activity:"
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Cache is a Redis client plus the key namespace it writes under.
type Cache struct {
	Client redis.UniversalClient
	prefix string
}

// ParseURL validates a Redis connection URL.
func ParseURL(url string) (*redis.Options, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("cache URL is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid cache URL: %w", err)
	}
	return opts, nil
}

// New connects to Redis and pings it before returning.
func New(ctx context.Context, o Options) (*Cache, error) {
	opts, err := ParseURL(o.URL)
	if err != nil {
		return nil, err
	}

	opts.DialTimeout = orDefault(o.DialTimeout, 5*time.Second)
	opts.ReadTimeout = orDefault(o.ReadTimeout, 3*time.Second)
	opts.WriteTimeout = orDefault(o.WriteTimeout, 3*time.Second)

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging cache: %w", err)
	}

	return Wrap(client, o.KeyPrefix), nil
}

// Wrap uses an existing client, such as a cluster or sentinel client.
func Wrap(client redis.UniversalClient, keyPrefix string) *Cache {
	return &Cache{Client: client, prefix: keyPrefix}
}

// Key joins parts with ':' under the cache prefix.
func (c *Cache) Key(parts ...string) string {
	return c.prefix + strings.Join(parts, ":")
}

// Close shuts down the cache client.
func (c *Cache) Close() error {
	return c.Client.Close()
}

// HealthCheck verifies the cache connection is alive.
func (c *Cache) HealthCheck(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
