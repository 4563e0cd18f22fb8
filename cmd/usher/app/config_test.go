package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	cachemod "github.com/usherd/usher/modules/cache"
	"github.com/usherd/usher/pkg/cache"
)

func TestConfig_CheckConfig(t *testing.T) {
	tt := []struct {
		name   string
		config *Config
		expect []ConfigWarning
	}{
		{
			name:   "default cfg runs uncached daily counts and says so",
			config: NewDefaultConfig(),
			expect: []ConfigWarning{warnNoDailyCountsCache},
		},
		{
			name: "hit all warnings",
			config: func() *Config {
				cfg := NewDefaultConfig()
				cfg.Queue.SessionTimeout = 10 * time.Second
				cfg.Dispatcher.SoftTimeLimit = 30 * time.Second
				cfg.Dispatcher.RetryNoCandidates = true
				return cfg
			}(),
			expect: []ConfigWarning{
				warnSessionTimeoutBelowSoftLimit,
				warnNoDailyCountsCache,
				warnRetryNoCandidates,
			},
		},
		{
			name: "no warnings once a cache claims the daily counts",
			config: func() *Config {
				cfg := NewDefaultConfig()
				cfg.Cache.Caches = []cachemod.CacheConfig{
					{
						Role:        []cache.Role{cache.RoleDailyCounts},
						RedisConfig: &cache.RedisConfig{Endpoint: "localhost:6379"},
					},
				}
				return cfg
			}(),
			expect: nil,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			warnings := tc.config.CheckConfig()
			assert.Equal(t, tc.expect, warnings)
		})
	}
}
