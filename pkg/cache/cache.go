package cache

import (
	"context"
	"time"

	instr "github.com/grafana/dskit/instrument"
	"github.com/grafana/dskit/services"
)

// Cache byte slices by key.
type Cache interface {
	// Fetch gets keys from the cache. Found keys come back in request
	// order.
	Fetch(ctx context.Context, keys []string) (found []string, bufs [][]byte, missed []string)
	// FetchKey gets a single key.
	FetchKey(ctx context.Context, key string) (buf []byte, found bool)
	// Store writes key/value pairs with the cache's configured expiration.
	Store(ctx context.Context, keys []string, bufs [][]byte)
	MaxItemSize() int
	Stop()
}

// Role is the consumer a cache is serving.
type Role string

const (
	// RoleNone is the roleless default.
	RoleNone Role = "none"
	// RoleDailyCounts holds the per-user daily request counters.
	RoleDailyCounts Role = "daily-counts"
	// RoleDispatchSummary holds rendered dispatch summary responses.
	RoleDispatchSummary Role = "dispatch-summary"
)

// AllRoles returns all roles a cache can be configured for.
func AllRoles() []Role {
	return []Role{
		RoleDailyCounts,
		RoleDispatchSummary,
	}
}

// Provider returns a cache for a requested role.
type Provider interface {
	services.Service

	CacheFor(role Role) Cache
	AddCache(role Role, c Cache) error
}

func measureRequest(ctx context.Context, method string, col *instr.HistogramCollector, toStatusCode func(error) string, f func(context.Context) error) error {
	start := time.Now()
	col.Before(ctx, method, start)
	err := f(ctx)
	col.After(ctx, method, toStatusCode(err), start)
	return err
}
