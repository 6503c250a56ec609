package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"example.com/backstage/services/resource/config"
	"example.com/backstage/services/resource/internal/models"
)

// ErrCacheMiss is returned when the key is absent or the cache is disabled.
var ErrCacheMiss = errors.New("cache miss")

// deletedFence marks a resource whose row is gone. No fill may recreate it
// while the fence lives.
const deletedFence = "deleted"

// minFenceTTL bounds how long a fence outlives the write that set it when the
// entry TTL is shorter or unlimited.
const minFenceTTL = time.Minute

// ResourceCache stores rendered resource responses by id.
//
// Writers never store values. They invalidate the entry and raise a per-id
// fence to the committed version; readers fill the entry only with a version
// at least as new as the fence and newer than what is cached.
type ResourceCache interface {
	GetResource(ctx context.Context, id int64) (*models.ResourceResponse, error)
	FillResource(ctx context.Context, resource *models.ResourceResponse) error
	InvalidateResource(ctx context.Context, id, version int64) error
	EvictResource(ctx context.Context, id int64) error
}

// fillScript stores ARGV[2] at version ARGV[1] unless the fence or the cached
// entry already carries a newer state.
var fillScript = redis.NewScript(`
local fence = redis.call('GET', KEYS[2])
if fence == ARGV[4] then return 0 end
local version = tonumber(ARGV[1])
if fence and version < tonumber(fence) then return 0 end
local cached = redis.call('HGET', KEYS[1], 'v')
if cached and tonumber(cached) >= version then return 0 end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'data', ARGV[2])
if tonumber(ARGV[3]) > 0 then redis.call('PEXPIRE', KEYS[1], ARGV[3]) end
return 1
`)

// invalidateScript drops the entry and raises the fence to ARGV[1]. The fence
// never moves backwards and a deletion fence is final.
var invalidateScript = redis.NewScript(`
redis.call('DEL', KEYS[1])
local fence = redis.call('GET', KEYS[2])
if fence == ARGV[3] then return 0 end
if ARGV[1] == ARGV[3] or not fence or tonumber(fence) < tonumber(ARGV[1]) then
  redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
end
return 1
`)

// RedisCache provides caching using Redis
type RedisCache struct {
	client  redis.UniversalClient
	ttl     time.Duration
	enabled bool
}

// NewRedisCache creates a new Redis cache
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	if !cfg.Enabled {
		return Disabled(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return NewWithClient(client, cfg.TTL), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, enabled: true}
}

// Disabled returns a cache that stores nothing.
func Disabled() *RedisCache {
	return &RedisCache{enabled: false}
}

// GetResourceCacheKey generates the cache key for a resource. The braces keep
// the entry and its fence in one cluster slot.
func GetResourceCacheKey(id int64) string {
	return fmt.Sprintf("resource:{%d}", id)
}

// GetResourceFenceKey generates the key of the version fence for a resource.
func GetResourceFenceKey(id int64) string {
	return GetResourceCacheKey(id) + ":fence"
}

func (c *RedisCache) GetResource(ctx context.Context, id int64) (*models.ResourceResponse, error) {
	if !c.enabled {
		return nil, ErrCacheMiss
	}

	data, err := c.client.HGet(ctx, GetResourceCacheKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, errors.Wrap(err, "failed to get value from Redis")
	}

	var resource models.ResourceResponse
	if err := json.Unmarshal(data, &resource); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal cached value")
	}
	return &resource, nil
}

// FillResource caches a response read from the database. It is a no-op when
// a newer version is cached or a writer has fenced the id past this version.
func (c *RedisCache) FillResource(ctx context.Context, resource *models.ResourceResponse) error {
	if !c.enabled {
		return nil
	}
	data, err := json.Marshal(resource)
	if err != nil {
		return errors.Wrap(err, "failed to marshal value for caching")
	}

	keys := []string{GetResourceCacheKey(resource.ID), GetResourceFenceKey(resource.ID)}
	err = fillScript.Run(ctx, c.client, keys,
		strconv.FormatInt(resource.Version, 10), data, c.ttl.Milliseconds(), deletedFence).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return errors.Wrap(err, "failed to set value in Redis")
	}
	return nil
}

// InvalidateResource drops the entry after a committed write at version.
func (c *RedisCache) InvalidateResource(ctx context.Context, id, version int64) error {
	return c.invalidate(ctx, id, strconv.FormatInt(version, 10))
}

// EvictResource drops the entry after a delete and keeps readers from
// recreating it.
func (c *RedisCache) EvictResource(ctx context.Context, id int64) error {
	return c.invalidate(ctx, id, deletedFence)
}

func (c *RedisCache) invalidate(ctx context.Context, id int64, fence string) error {
	if !c.enabled {
		return nil
	}
	keys := []string{GetResourceCacheKey(id), GetResourceFenceKey(id)}
	err := invalidateScript.Run(ctx, c.client, keys, fence, c.fenceTTL().Milliseconds(), deletedFence).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return errors.Wrap(err, "failed to invalidate value in Redis")
	}
	return nil
}

func (c *RedisCache) fenceTTL() time.Duration {
	if c.ttl > minFenceTTL {
		return c.ttl
	}
	return minFenceTTL
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	if !c.enabled || c.client == nil {
		return nil
	}
	return c.client.Close()
}
