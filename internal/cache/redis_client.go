package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the shared Store. Approvers, agents and the CLI on
// different hosts see the same kill switch and decisions through it.
type RedisClient struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisClient creates a Redis client from connection parameters
func NewRedisClient(ctx context.Context, host string, port int, password string) (*RedisClient, error) {
	if host == "" {
		return nil, fmt.Errorf("redis host missing")
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password, // Empty string if no password
		DB:       0,
	})

	// Verify connectivity (fail fast on startup)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	c := WrapRedis(client)
	c.logger.Info("redis client connected", "addr", addr)
	return c, nil
}

// WrapRedis adapts an existing go-redis client
func WrapRedis(client *redis.Client) *RedisClient {
	return &RedisClient{
		client: client,
		logger: slog.Default().With("component", "redis"),
	}
}

// Client exposes the underlying go-redis client for callers that run
// their own scripts (LLM quota)
func (c *RedisClient) Client() *redis.Client { return c.client }

// Close closes the Redis client connection
func (c *RedisClient) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	c.logger.Info("redis client closed")
	return nil
}

// HealthCheck verifies Redis connectivity
func (c *RedisClient) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Get retrieves a value by key and unmarshals into target
// Returns: true if found, false if miss (not an error)
func (c *RedisClient) Get(ctx context.Context, key string, target interface{}) (bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		c.logger.Debug("cache miss", "key", key)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get failed for key %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(val), target); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value for key %s: %w", key, err)
	}

	c.logger.Debug("cache hit", "key", key)
	return true, nil
}

// SetWithTTL stores a JSON-encoded value. ttl <= 0 means no expiry.
func (c *RedisClient) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for key %s: %w", key, err)
	}
	if ttl < 0 {
		ttl = 0
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed for key %s: %w", key, err)
	}

	c.logger.Debug("cache set", "key", key, "ttl", ttl)
	return nil
}

// Delete removes a key
func (c *RedisClient) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete failed for key %s: %w", key, err)
	}

	c.logger.Debug("cache delete", "key", key)
	return nil
}

// Keys lists all keys starting with prefix using SCAN (never KEYS)
func (c *RedisClient) Keys(ctx context.Context, prefix string) ([]string, error) {
	var cursor uint64
	var keys []string
	pattern := prefix + "*"

	for {
		var batch []string
		var err error
		batch, cursor, err = c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan failed for pattern %s: %w", pattern, err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	return keys, nil
}

// Publish sends message on a pub/sub channel
func (c *RedisClient) Publish(ctx context.Context, channel, message string) error {
	if err := c.client.Publish(ctx, channel, message).Err(); err != nil {
		return fmt.Errorf("redis publish failed on %s: %w", channel, err)
	}
	return nil
}

// Subscribe forwards pub/sub payloads until cancel is called or ctx ends
func (c *RedisClient) Subscribe(ctx context.Context, channel string) (<-chan string, func()) {
	ctx, cancel := context.WithCancel(ctx)
	sub := c.client.Subscribe(ctx, channel)
	out := make(chan string, 8)

	// Wait for the subscription confirmation so a publish issued right after
	// Subscribe returns is not lost
	if _, err := sub.Receive(ctx); err != nil {
		c.logger.Warn("redis subscribe failed", "channel", channel, "error", err)
	}

	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				default:
					// Waiter is slow; its poll ticker will catch up
				}
			}
		}
	}()

	return out, cancel
}

// PushCapped prepends value to a list and trims it to max entries
func (c *RedisClient) PushCapped(ctx context.Context, key string, value interface{}, max int) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal list value for key %s: %w", key, err)
	}

	pipe := c.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(max-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis capped push failed for key %s: %w", key, err)
	}
	return nil
}

// Range returns up to n newest list entries
func (c *RedisClient) Range(ctx context.Context, key string, n int) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	vals, err := c.client.LRange(ctx, key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange failed for key %s: %w", key, err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}
