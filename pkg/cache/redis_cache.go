package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-redis/redis/v8"
	instr "github.com/grafana/dskit/instrument"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RedisCache type caches in redis.
type RedisCache struct {
	name            string
	redis           *RedisClient
	logger          log.Logger
	requestDuration *instr.HistogramCollector
}

// NewRedisCache creates a new RedisCache.
func NewRedisCache(name string, redisClient *RedisClient, reg prometheus.Registerer, logger log.Logger) *RedisCache {
	c := &RedisCache{
		name:   name,
		redis:  redisClient,
		logger: logger,
		requestDuration: instr.NewHistogramCollector(
			promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "usher",
				Name:      "rediscache_request_duration_seconds",
				Help:      "Total time spent in seconds doing redis requests.",
				// Redis requests are very quick: smallest bucket is 16us, biggest is 1s.
				Buckets:                         prometheus.ExponentialBuckets(0.000016, 4, 8),
				NativeHistogramBucketFactor:     1.1,
				NativeHistogramMaxBucketNumber:  100,
				NativeHistogramMinResetDuration: 1 * time.Hour,
				ConstLabels:                     prometheus.Labels{"name": name},
			}, []string{"method", "status_code"}),
		),
	}

	if err := c.redis.Ping(context.Background()); err != nil {
		level.Error(logger).Log("msg", "error connecting to redis", "name", name, "err", err)
	}

	return c
}

func redisStatusCode(err error) string {
	switch {
	case errors.Is(err, redis.Nil):
		return "404"
	case err != nil:
		return "500"
	default:
		return "200"
	}
}

// Fetch gets keys from the cache. The keys that are found must be in the order of the keys requested.
func (c *RedisCache) Fetch(ctx context.Context, keys []string) (found []string, bufs [][]byte, missed []string) {
	const method = "RedisCache.MGet"
	var items [][]byte
	err := measureRequest(ctx, method, c.requestDuration, redisStatusCode, func(ctx context.Context) error {
		var err error
		items, err = c.redis.MGet(ctx, keys)
		if err != nil {
			level.Error(c.logger).Log("msg", "failed to get from redis", "name", c.name, "err", err)
		}
		return err
	})
	if err != nil {
		return found, bufs, keys
	}
	for i, key := range keys {
		if items[i] != nil {
			found = append(found, key)
			bufs = append(bufs, items[i])
		} else {
			missed = append(missed, key)
		}
	}
	return
}

// FetchKey gets a single key from the cache.
func (c *RedisCache) FetchKey(ctx context.Context, key string) (buf []byte, found bool) {
	const method = "RedisCache.Get"
	err := measureRequest(ctx, method, c.requestDuration, redisStatusCode, func(ctx context.Context) error {
		items, err := c.redis.MGet(ctx, []string{key})
		if err != nil {
			level.Error(c.logger).Log("msg", "failed to get from redis", "name", c.name, "key", key, "err", err)
			return err
		}
		if len(items) != 1 || items[0] == nil {
			return redis.Nil
		}
		buf = items[0]
		return nil
	})
	return buf, err == nil
}

// Store stores the keys in the cache.
func (c *RedisCache) Store(ctx context.Context, keys []string, bufs [][]byte) {
	err := measureRequest(ctx, "RedisCache.MSet", c.requestDuration, redisStatusCode, func(ctx context.Context) error {
		return c.redis.MSet(ctx, keys, bufs)
	})
	if err != nil {
		level.Error(c.logger).Log("msg", "failed to put to redis", "name", c.name, "err", err)
	}
}

// MaxItemSize returns the maximum size of an item in the cache. Redis does
// not impose one.
func (c *RedisCache) MaxItemSize() int {
	return 0
}

func (c *RedisCache) Stop() {
	_ = c.redis.Close()
}
