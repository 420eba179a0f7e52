// Package redis wraps a go-redis client for settings persistence.
//
// Graceful fallback: a nil *Client is valid and every operation on it
// returns ErrUnavailable instead of blocking the business logic.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Key prefixes.
const (
	KeySettings = "pacebot:settings:" // chat settings overrides
	KeyCache    = "pacebot:cache:"    // general cache
)

var (
	// ErrNotConfigured is returned by Connect when no URL is set.
	ErrNotConfigured = errors.New("redis URL not configured")
	// ErrUnavailable is returned by operations on a nil client.
	ErrUnavailable = errors.New("redis unavailable")
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("redis key not found")
)

// Config holds Redis connection settings.
type Config struct {
	URL      string // redis://host:port
	Password string
	DB       int
}

// Client is a connected Redis client.
type Client struct {
	rdb    *goredis.Client
	logger *zap.Logger
}

// Connect opens and pings a Redis connection.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.URL == "" {
		return nil, ErrNotConfigured
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.MaxRetries = 3

	rdb := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}

	logger = logger.Named("redis")
	logger.Info("Connected", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return &Client{rdb: rdb, logger: logger}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.logger.Info("Connection closed")
	return c.rdb.Close()
}

// Available reports whether c is connected.
func (c *Client) Available() bool {
	return c != nil && c.rdb != nil
}

// Get reads a string value.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if !c.Available() {
		return "", ErrUnavailable
	}
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		c.logger.Warn("get failed", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set writes a string value. A zero ttl keeps it forever.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if !c.Available() {
		return ErrUnavailable
	}
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Warn("set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Del deletes a key.
func (c *Client) Del(ctx context.Context, key string) error {
	if !c.Available() {
		return ErrUnavailable
	}
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("del failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// GetJSON reads a JSON value into out.
func (c *Client) GetJSON(ctx context.Context, key string, out any) error {
	raw, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("redis decode %s: %w", key, err)
	}
	return nil
}

// SetJSON writes a JSON-serialized value.
func (c *Client) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("redis encode %s: %w", key, err)
	}
	return c.Set(ctx, key, string(data), ttl)
}

// SettingsKey returns the key holding the settings overrides of scope.
func SettingsKey(scope string) string {
	return KeySettings + scope
}
