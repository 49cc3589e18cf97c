// Package retriever resolves the raw weather payload for a date from the
// local file cache, an optional Redis mirror, or the weather API.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by a Cache that holds nothing for a date.
var ErrCacheMiss = errors.New("cache miss")

// Cache stores raw payloads keyed by date (YYYY-MM-DD).
type Cache interface {
	Get(ctx context.Context, date string) ([]byte, error)
	Put(ctx context.Context, date string, body []byte) error
}

// FileCache keeps payloads as {dir}/{date}.json, the layout the ingester
// reads from.
type FileCache struct {
	dir string
}

func NewFileCache(dir string) *FileCache {
	return &FileCache{dir: dir}
}

// Path returns the cache file for date.
func (c *FileCache) Path(date string) string {
	return filepath.Join(c.dir, date+".json")
}

func (c *FileCache) Get(ctx context.Context, date string) ([]byte, error) {
	body, err := os.ReadFile(c.Path(date))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}
	return body, nil
}

// Put writes a temp file and renames it over {date}.json.
func (c *FileCache) Put(ctx context.Context, date string, body []byte) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, "."+date+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.Path(date)); err != nil {
		return fmt.Errorf("failed to move cache file into place: %w", err)
	}
	return nil
}

// RedisCache mirrors payloads in Redis under vivarium:raw:{date}.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis mirror. A zero ttl keeps keys forever.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// RedisKey returns the key a date is stored under.
func RedisKey(date string) string {
	return fmt.Sprintf("vivarium:raw:%s", date)
}

func (c *RedisCache) Get(ctx context.Context, date string) ([]byte, error) {
	body, err := c.client.Get(ctx, RedisKey(date)).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payload from Redis: %w", err)
	}
	return body, nil
}

func (c *RedisCache) Put(ctx context.Context, date string, body []byte) error {
	if err := c.client.Set(ctx, RedisKey(date), body, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set payload in Redis: %w", err)
	}
	return nil
}
