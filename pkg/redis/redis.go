// Package redis holds the process-wide Redis client used by the record cache.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// Package-level singleton instance
var clientInstance *redis.Client

// Config Redis 配置
type Config struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	CacheTTL string `toml:"cache_ttl"` // 记录缓存过期时间，默认 10m
}

// Validate 验证配置
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Addr == "" {
		return fmt.Errorf("addr is required when redis is enabled")
	}
	if c.CacheTTL != "" {
		if _, err := time.ParseDuration(c.CacheTTL); err != nil {
			return fmt.Errorf("cache_ttl is invalid: %w", err)
		}
	}
	return nil
}

// TTL returns the cache entry lifetime.
func (c *Config) TTL() time.Duration {
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil || d <= 0 {
		return 10 * time.Minute
	}
	return d
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Init initializes the Redis client singleton with config.
func Init(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		return nil
	}

	client, err := NewClient(ctx, cfg)
	if err != nil {
		return err
	}

	clientInstance = client
	return nil
}

// Client returns the singleton Redis client instance.
// Returns nil if Redis is not enabled or not initialized.
func Client() *redis.Client {
	return clientInstance
}

// Close closes the Redis client connection.
func Close() error {
	if clientInstance == nil {
		return nil
	}
	err := clientInstance.Close()
	clientInstance = nil
	return err
}
