package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bluele/gcache"
	"github.com/redis/go-redis/v9"

	"github.com/example/itdrive/internal/models"
	"github.com/example/itdrive/internal/observability"
)

// Cache stores routes keyed by their endpoints.
type Cache interface {
	Get(ctx context.Context, from, to models.Coord) (Route, bool)
	Set(ctx context.Context, from, to models.Coord, r Route)
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// MemoryCache is a bounded LRU; entries expire after ttl when ttl > 0.
type MemoryCache struct {
	lru gcache.Cache
}

func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	b := gcache.New(size).LRU()
	if ttl > 0 {
		b = b.Expiration(ttl)
	}
	return &MemoryCache{lru: b.Build()}
}

func (c *MemoryCache) Get(_ context.Context, from, to models.Coord) (Route, bool) {
	v, err := c.lru.Get(keyFor(from, to))
	if err != nil {
		return Route{}, false
	}
	r, ok := v.(Route)
	return r, ok
}

func (c *MemoryCache) Set(_ context.Context, from, to models.Coord, r Route) {
	_ = c.lru.Set(keyFor(from, to), r)
}

// RedisCache shares routes between client processes.
type RedisCache struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisCache(rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl, logger: logger}
}

func redisKey(from, to models.Coord) string { return "itdrive:route:" + keyFor(from, to) }

func (c *RedisCache) Get(ctx context.Context, from, to models.Coord) (Route, bool) {
	b, err := c.rdb.Get(ctx, redisKey(from, to)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("route cache read failed", "error", err)
		}
		return Route{}, false
	}
	var r Route
	if err := json.Unmarshal(b, &r); err != nil {
		c.logger.Warn("route cache entry corrupt", "error", err)
		return Route{}, false
	}
	return r, true
}

func (c *RedisCache) Set(ctx context.Context, from, to models.Coord, r Route) {
	b, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, redisKey(from, to), b, c.ttl).Err(); err != nil {
		c.logger.Warn("route cache write failed", "error", err)
	}
}

// CachedRouter consults the cache before the wrapped router. Failed
// lookups are not cached.
type CachedRouter struct {
	next  Router
	cache Cache
}

func NewCachedRouter(next Router, cache Cache) *CachedRouter {
	return &CachedRouter{next: next, cache: cache}
}

func (c *CachedRouter) Route(ctx context.Context, from, to models.Coord) (Route, error) {
	if r, ok := c.cache.Get(ctx, from, to); ok {
		observability.RouteCache.WithLabelValues("hit").Inc()
		return r, nil
	}
	observability.RouteCache.WithLabelValues("miss").Inc()
	r, err := c.next.Route(ctx, from, to)
	if err != nil {
		return Route{}, err
	}
	c.cache.Set(ctx, from, to, r)
	return r, nil
}
