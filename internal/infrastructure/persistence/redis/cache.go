// Package redis keeps fetched Meetup pages in Redis so a re-run of a pull
// does not hit the API for pages it has already seen.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config describes the Redis endpoint and client pool.
type Config struct {
	Addr     string
	Password string
	DB       int

	PoolSize   int
	MaxRetries int
	// Timeout bounds dialing as well as each read and write.
	Timeout time.Duration
}

// DefaultConfig points at a local Redis with a small pool; a pull is a
// single sequential fetcher.
func DefaultConfig() Config {
	return Config{
		Addr:       "localhost:6379",
		PoolSize:   4,
		MaxRetries: 2,
		Timeout:    3 * time.Second,
	}
}

func (c Config) options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MaxRetries:   c.MaxRetries,
		DialTimeout:  c.Timeout,
		ReadTimeout:  c.Timeout,
		WriteTimeout: c.Timeout,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS AND KEYS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrCacheMiss reports an absent or expired key.
	ErrCacheMiss = errors.New("page cache: miss")
	// ErrUnreachable wraps the failed start-up ping.
	ErrUnreachable = errors.New("page cache: redis unreachable")
	// ErrCodec wraps CBOR encode and decode failures.
	ErrCodec = errors.New("page cache: codec")
	ErrEmptyKey = errors.New("page cache: empty key")
)

const (
	keyPrefix   = "meetup:page:"
	firstCursor = "start"

	// TTLPage is how long a cached page lives when no ttl is configured.
	TTLPage = 6 * time.Hour

	scanBatch = 100
)

// PageKey names the page of group that follows cursor. The first page has
// the empty cursor.
func PageKey(group, cursor string) string {
	if cursor == "" {
		cursor = firstCursor
	}
	return keyPrefix + group + ":" + cursor
}

// GroupPattern is the SCAN pattern covering all pages of group.
func GroupPattern(group string) string {
	return keyPrefix + group + ":*"
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE
// ══════════════════════════════════════════════════════════════════════════════

// Cache stores CBOR-encoded values. Pages carry event times with their
// original offsets, which the codec keeps.
type Cache struct {
	rdb *redis.Client
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCache dials Redis and fails when the first ping does not answer
// within cfg.Timeout.
func NewCache(ctx context.Context, cfg Config) (*Cache, error) {
	rdb := redis.NewClient(cfg.options())

	pingCtx, cancel := context.WithTimeout(ctx, max(cfg.Timeout, time.Second))
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, cfg.Addr, err)
	}
	return WrapClient(rdb)
}

// WrapClient builds a Cache on a client the caller already owns.
func WrapClient(rdb *redis.Client) (*Cache, error) {
	enc, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodec, err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodec, err)
	}
	return &Cache{rdb: rdb, enc: enc, dec: dec}, nil
}

func (c *Cache) Close() error { return c.rdb.Close() }

// Ping backs the serve command's health check.
func (c *Cache) Ping(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }

// Set writes value under key. A zero ttl keeps it until deleted.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	raw, err := c.enc.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrCodec, key, err)
	}
	return c.rdb.Set(ctx, key, raw, ttl).Err()
}

// Get decodes the value under key into dest, or returns ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	if key == "" {
		return ErrEmptyKey
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return ErrCacheMiss
	case err != nil:
		return err
	}
	if err := c.dec.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrCodec, key, err)
	}
	return nil
}

// DeleteByPattern removes the keys a SCAN for pattern finds, in batches,
// and returns the number removed. A failure part way leaves the count of
// what was already gone.
func (c *Cache) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	if pattern == "" {
		return 0, ErrEmptyKey
	}

	var removed int
	batch := make([]string, 0, scanBatch)
	drop := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.rdb.Del(ctx, batch...).Result()
		removed += int(n)
		batch = batch[:0]
		return err
	}

	it := c.rdb.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for it.Next(ctx) {
		batch = append(batch, it.Val())
		if len(batch) < scanBatch {
			continue
		}
		if err := drop(); err != nil {
			return removed, err
		}
	}
	if err := it.Err(); err != nil {
		return removed, err
	}
	return removed, drop()
}
