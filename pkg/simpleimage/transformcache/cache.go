package transformcache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/simple-image/pkg/simpleimage"
)

// DefaultNamespace prefixes every key written by the cache
const DefaultNamespace = "simpleimage:transform"

// Cache keeps one Redis hash per image mapping transformation name to URL.
// Entries are append-only, like the transformations on the asset itself.
type Cache struct {
	Redis     redis.UniversalClient
	Namespace string
	TTL       time.Duration
}

var _ simpleimage.TransformCache = (*Cache)(nil)

// New creates a cache; ttl of zero keeps entries until invalidated
func New(namespace string, client redis.UniversalClient, ttl time.Duration) *Cache {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Cache{Redis: client, Namespace: namespace, TTL: ttl}
}

// NewFromURL parses a redis:// URL and builds a cache on a new client
func NewFromURL(namespace, redisURL string, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return New(namespace, redis.NewClient(opts), ttl), nil
}

func (c *Cache) key(imageID uuid.UUID) string {
	return c.Namespace + ":" + imageID.String()
}

// Get returns the cached URL for name
func (c *Cache) Get(ctx context.Context, imageID uuid.UUID, name string) (string, bool, error) {
	url, err := c.Redis.HGet(ctx, c.key(imageID), name).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return url, true, nil
}

// Set stores url under name unless a value is already present
func (c *Cache) Set(ctx context.Context, imageID uuid.UUID, name, url string) error {
	key := c.key(imageID)
	pl := c.Redis.TxPipeline()
	pl.HSetNX(ctx, key, name, url)
	if c.TTL > 0 {
		pl.Expire(ctx, key, c.TTL)
	}
	_, err := pl.Exec(ctx)
	return err
}

// Invalidate drops every cached transformation of the image
func (c *Cache) Invalidate(ctx context.Context, imageID uuid.UUID) error {
	return c.Redis.Del(ctx, c.key(imageID)).Err()
}

// Close closes the underlying client
func (c *Cache) Close() error {
	return c.Redis.Close()
}
