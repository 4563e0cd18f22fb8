package cache

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/usherd/usher/pkg/cache"
)

func TestConfigValidation(t *testing.T) {
	tcs := []struct {
		name     string
		cfg      *Config
		expected error
	}{
		{
			name: "no caching is valid",
			cfg:  &Config{},
		},
		{
			name: "valid config",
			cfg: &Config{
				Caches: []CacheConfig{
					{
						Role:            []cache.Role{cache.RoleDailyCounts},
						MemcachedConfig: &MemcachedConfig{},
					},
					{
						Role:        []cache.Role{cache.RoleDispatchSummary},
						RedisConfig: &cache.RedisConfig{},
					},
				},
			},
		},
		{
			name: "valid config - multiple roles per cache",
			cfg: &Config{
				Caches: []CacheConfig{
					{
						Role:        []cache.Role{cache.RoleDailyCounts, cache.RoleDispatchSummary},
						RedisConfig: &cache.RedisConfig{},
					},
				},
			},
		},
		{
			name: "invalid - duplicate roles",
			cfg: &Config{
				Caches: []CacheConfig{
					{
						Role:        []cache.Role{cache.RoleDailyCounts},
						RedisConfig: &cache.RedisConfig{},
					},
					{
						Role:        []cache.Role{cache.RoleDailyCounts},
						RedisConfig: &cache.RedisConfig{},
					},
				},
			},
			expected: errors.New("role daily-counts is claimed by more than one cache"),
		},
		{
			name: "invalid - no roles",
			cfg: &Config{
				Caches: []CacheConfig{
					{
						RedisConfig: &cache.RedisConfig{},
					},
				},
			},
			expected: errors.New("configured caches require a valid role"),
		},
		{
			name: "invalid - none",
			cfg: &Config{
				Caches: []CacheConfig{
					{
						Role:        []cache.Role{cache.RoleNone},
						RedisConfig: &cache.RedisConfig{},
					},
				},
			},
			expected: errors.New("role none is not a valid role"),
		},
		{
			name: "invalid - both caches configged",
			cfg: &Config{
				Caches: []CacheConfig{
					{
						Role:            []cache.Role{cache.RoleDailyCounts},
						MemcachedConfig: &MemcachedConfig{},
						RedisConfig:     &cache.RedisConfig{},
					},
				},
			},
			expected: errors.New("cache config for role [daily-counts] has both memcached and redis configs"),
		},
		{
			name: "invalid - no caches configged",
			cfg: &Config{
				Caches: []CacheConfig{
					{
						Role: []cache.Role{cache.RoleDailyCounts},
					},
				},
			},
			expected: errors.New("cache config for role [daily-counts] has neither memcached nor redis configs"),
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			require.Equal(t, tc.expected, err)
		})
	}
}

func TestCacheConfigName(t *testing.T) {
	cfg := CacheConfig{Role: []cache.Role{cache.RoleDailyCounts, cache.RoleDispatchSummary}}
	require.Equal(t, "daily-counts|dispatch-summary", cfg.Name())
}
