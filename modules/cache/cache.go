package cache

import (
	"context"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/usherd/usher/pkg/cache"
)

type provider struct {
	services.Service

	caches map[cache.Role]cache.Cache
}

// NewProvider creates a new cache provider with the given config.
func NewProvider(cfg *Config, reg prometheus.Registerer, logger log.Logger) (cache.Provider, error) {
	p := &provider{
		caches: map[cache.Role]cache.Cache{},
	}

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}

	for _, cacheCfg := range cfg.Caches {
		var c cache.Cache

		if cacheCfg.MemcachedConfig != nil {
			level.Info(logger).Log("msg", "configuring memcached client", "roles", cacheCfg.Name())

			client := cache.NewMemcachedClient(cacheCfg.MemcachedConfig.ClientConfig, cacheCfg.Name(), reg, logger)
			c = cache.NewMemcached(cache.MemcachedConfig{
				Expiration: cacheCfg.MemcachedConfig.TTL,
			}, client, cacheCfg.Name(), cacheCfg.MemcachedConfig.ClientConfig.MaxItemSize, reg, logger)
		}

		if cacheCfg.RedisConfig != nil {
			level.Info(logger).Log("msg", "configuring redis client", "roles", cacheCfg.Name())

			c = cache.NewRedisCache(cacheCfg.Name(), cache.NewRedisClient(cacheCfg.RedisConfig), reg, logger)
		}

		// add this cache for all claimed roles
		for _, role := range cacheCfg.Role {
			p.caches[role] = c
		}
	}

	p.Service = services.NewIdleService(p.starting, p.stopping)
	return p, nil
}

// CacheFor is used to retrieve a cache for a given role.
func (p *provider) CacheFor(role cache.Role) cache.Cache {
	return p.caches[role]
}

// AddCache is used to add a cache for a given role outside of configuration,
// e.g. an in-process fallback a module builds itself.
func (p *provider) AddCache(role cache.Role, c cache.Cache) error {
	if _, ok := p.caches[role]; ok {
		return fmt.Errorf("cache for role %s already exists", role)
	}

	p.caches[role] = c

	return nil
}

func (p *provider) starting(_ context.Context) error {
	return nil
}

func (p *provider) stopping(_ error) error {
	// we can only stop a cache once (or they panic). use this map
	// to track which caches we've stopped.
	stopped := map[cache.Cache]struct{}{}

	for _, c := range p.caches {
		if _, ok := stopped[c]; ok {
			continue
		}

		stopped[c] = struct{}{}
		c.Stop()
	}

	return nil
}
