package redis_repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const docKeyPrefix = "kbdoc:"

// ErrCacheMiss is returned when a document is not cached.
var ErrCacheMiss = errors.New("cache miss")

// DocumentCache stores rendered knowledge-base documents with a TTL so
// repeat reads skip disk and markdown rendering.
type DocumentCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDocumentCache(client *redis.Client, ttl time.Duration) *DocumentCache {
	return &DocumentCache{client: client, ttl: ttl}
}

func (c *DocumentCache) Get(ctx context.Context, path string, out interface{}) error {
	val, err := c.client.Get(ctx, docKeyPrefix+path).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return err
	}
	return json.Unmarshal([]byte(val), out)
}

func (c *DocumentCache) Set(ctx context.Context, path string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, docKeyPrefix+path, data, c.ttl).Err()
}

func (c *DocumentCache) Invalidate(ctx context.Context, path string) error {
	return c.client.Del(ctx, docKeyPrefix+path).Err()
}
