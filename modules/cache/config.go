package cache

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/usherd/usher/pkg/cache"
)

type Config struct {
	Caches []CacheConfig `yaml:"caches"`
}

// RegisterFlagsAndApplyDefaults registers the flags. Cache config is yaml
// only.
func (cfg *Config) RegisterFlagsAndApplyDefaults(string, *flag.FlagSet) {}

func (cfg *Config) Validate() error {
	claimedRoles := map[cache.Role]struct{}{}
	allRoles := allRoles()

	for _, cacheCfg := range cfg.Caches {
		if len(cacheCfg.Role) == 0 {
			return errors.New("configured caches require a valid role")
		}

		for _, role := range cacheCfg.Role {
			// check that all configured roles are valid
			if _, ok := allRoles[role]; !ok {
				return fmt.Errorf("role %s is not a valid role", role)
			}

			// check that roles are not claimed by multiple caches
			if _, ok := claimedRoles[role]; ok {
				return fmt.Errorf("role %s is claimed by more than one cache", role)
			}

			claimedRoles[role] = struct{}{}
		}

		if cacheCfg.MemcachedConfig != nil && cacheCfg.RedisConfig != nil {
			return fmt.Errorf("cache config for role [%s] has both memcached and redis configs", cacheCfg.Name())
		}

		if cacheCfg.MemcachedConfig == nil && cacheCfg.RedisConfig == nil {
			return fmt.Errorf("cache config for role [%s] has neither memcached nor redis configs", cacheCfg.Name())
		}
	}

	return nil
}

type CacheConfig struct {
	Role            []cache.Role       `yaml:"roles"`
	MemcachedConfig *MemcachedConfig   `yaml:"memcached"`
	RedisConfig     *cache.RedisConfig `yaml:"redis"`
}

// MemcachedConfig pairs the client config with the cache expiration.
type MemcachedConfig struct {
	ClientConfig cache.MemcachedClientConfig `yaml:",inline"`

	TTL time.Duration `yaml:"ttl"`
}

// HasRole reports whether any configured cache claims the given role.
func (cfg *Config) HasRole(role cache.Role) bool {
	for _, cacheCfg := range cfg.Caches {
		for _, r := range cacheCfg.Role {
			if r == role {
				return true
			}
		}
	}
	return false
}

// Name returns a string representation of the roles claimed by this cache.
func (cfg *CacheConfig) Name() string {
	stringRoles := make([]string, len(cfg.Role))
	for i, role := range cfg.Role {
		stringRoles[i] = string(role)
	}
	return strings.Join(stringRoles, "|")
}

func allRoles() map[cache.Role]struct{} {
	roles := map[cache.Role]struct{}{}
	for _, role := range cache.AllRoles() {
		roles[role] = struct{}{}
	}
	return roles
}
