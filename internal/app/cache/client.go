// Package cache wraps the remote key-value cache. The cache is a read
// accelerator only: every operation degrades to a no-op when the backend is
// unreachable, and no caller may treat its contents as authoritative.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/stackgenhq/platform/internal/app/metrics"
	"github.com/stackgenhq/platform/pkg/logger"
)

// Error describes a failed cache operation. Callers are expected to log and
// discard it; it exists so the swallow-errors contract is visible at the
// type level instead of buried in the implementation.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Config controls cache client construction.
type Config struct {
	URL         string
	Prefix      string
	DialTimeout time.Duration
}

// Client owns the redis connection lifecycle. After a failed Connect the
// client stays disabled for the process lifetime; there are no reconnect
// loops.
type Client struct {
	rdb      *redis.Client
	prefix   string
	dialWait time.Duration
	log      *logger.Logger
	disabled atomic.Bool
}

// New builds a client from configuration. An empty or unparsable URL yields
// a permanently disabled client rather than an error: cache absence is not
// a startup failure.
func New(cfg Config, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewDefault("cache")
	}

	c := &Client{
		prefix:   strings.TrimSpace(cfg.Prefix),
		dialWait: cfg.DialTimeout,
		log:      log,
	}
	if c.dialWait <= 0 {
		c.dialWait = 2 * time.Second
	}

	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		c.disabled.Store(true)
		log.Warn("cache url not configured; caching disabled")
		return c
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		c.disabled.Store(true)
		log.WithError(err).Warn("invalid cache url; caching disabled")
		return c
	}
	opts.DialTimeout = c.dialWait
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	c.rdb = redis.NewClient(opts)
	return c
}

// Connect verifies the connection with one ping and at most one retry. On
// failure the client disables itself for the rest of the process and logs
// once; the returned error is informational and never fatal to the caller.
func (c *Client) Connect(ctx context.Context) error {
	if c.rdb == nil || c.disabled.Load() {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, c.dialWait)
		lastErr = c.rdb.Ping(pingCtx).Err()
		cancel()
		if lastErr == nil {
			c.log.Info("cache connected")
			return nil
		}
	}

	c.disabled.Store(true)
	c.log.WithError(lastErr).Warn("cache unreachable; caching disabled for this process")
	return &Error{Op: "connect", Err: lastErr}
}

// Connected reports whether the client is usable. It is a latency
// optimization only; callers must not base correctness on it.
func (c *Client) Connected() bool {
	return c.rdb != nil && !c.disabled.Load()
}

func (c *Client) key(key string) string {
	if c.prefix == "" {
		return key
	}
	return c.prefix + ":" + key
}

// Get unmarshals the value at key into dest. The bool reports a usable hit;
// misses, deserialization failures and backend errors all return false so
// callers fall through to the authoritative store.
func (c *Client) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !c.Connected() {
		metrics.ObserveCache("skipped")
		return false, nil
	}

	data, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		metrics.ObserveCache("miss")
		return false, nil
	}
	if err != nil {
		metrics.ObserveCache("error")
		return false, &Error{Op: "get", Key: key, Err: err}
	}

	if err := json.Unmarshal(data, dest); err != nil {
		metrics.ObserveCache("error")
		return false, &Error{Op: "decode", Key: key, Err: err}
	}
	metrics.ObserveCache("hit")
	return true, nil
}

// Set stores value at key with a TTL. Failures are reported as *Error for
// logging and otherwise have no effect on the caller.
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !c.Connected() {
		metrics.ObserveCache("skipped")
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		metrics.ObserveCache("error")
		return &Error{Op: "encode", Key: key, Err: err}
	}
	if err := c.rdb.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		metrics.ObserveCache("error")
		return &Error{Op: "set", Key: key, Err: err}
	}
	return nil
}

// Delete removes keys. Failures are reported as *Error and otherwise
// ignored.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if !c.Connected() || len(keys) == 0 {
		if len(keys) > 0 {
			metrics.ObserveCache("skipped")
		}
		return nil
	}

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = c.key(k)
	}
	if err := c.rdb.Del(ctx, prefixed...).Err(); err != nil {
		metrics.ObserveCache("error")
		return &Error{Op: "delete", Key: strings.Join(keys, ","), Err: err}
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
