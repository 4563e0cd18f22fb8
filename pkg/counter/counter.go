// Package counter serves today's per-user count of accepted requests. Counts
// are refreshed from the store at a bounded cadence and bumped in memory when
// a dispatch commits, so quota checks never wait on an aggregation per
// request.
package counter

import (
	"context"
	"flag"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/usherd/usher/pkg/cache"
	"github.com/usherd/usher/pkg/store"
	"github.com/usherd/usher/pkg/util"
)

// CacheKey is the key the counter snapshot is published under. Shared with
// the dashboards that read it directly.
const CacheKey = "daily_request_counts"

// DefaultRefreshInterval bounds how stale served counts can be. The store
// remains the source of truth; increments between refreshes are process-local.
const DefaultRefreshInterval = time.Minute

var metricRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "usher",
	Name:      "daily_counter_refreshes_total",
	Help:      "Total daily counter refreshes from the store.",
}, []string{"status"})

type Config struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.DurationVar(&cfg.RefreshInterval, util.PrefixConfig(prefix, "refresh-interval"), DefaultRefreshInterval, "How long served daily counts may lag the store.")
}

// Counter is the daily counter. All methods are safe for concurrent use.
type Counter struct {
	store    store.RequestStore
	cache    cache.Cache
	interval time.Duration
	logger   log.Logger
	now      func() time.Time

	mtx         sync.Mutex
	counts      map[string]int
	lastRefresh time.Time
}

// New creates a Counter. c may be nil, in which case snapshots are not
// published.
func New(s store.RequestStore, c cache.Cache, interval time.Duration, logger log.Logger) *Counter {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Counter{
		store:    s,
		cache:    c,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Counts returns today's per-user accepted request counts. A populated
// snapshot younger than the refresh interval is served as is unless force is
// set; otherwise the store aggregation replaces it.
func (c *Counter) Counts(ctx context.Context, force bool) (map[string]int, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	now := c.now()
	if !force && c.counts != nil && now.Sub(c.lastRefresh) < c.interval {
		return copyCounts(c.counts), nil
	}

	counts, err := c.store.DailyAcceptCounts(ctx, store.Midnight(now))
	if err != nil {
		metricRefreshes.WithLabelValues("error").Inc()
		// serve the stale snapshot if there is one
		if c.counts != nil {
			level.Warn(c.logger).Log("msg", "daily counter refresh failed, serving stale counts", "age", now.Sub(c.lastRefresh), "err", err)
			return copyCounts(c.counts), nil
		}
		return nil, err
	}
	metricRefreshes.WithLabelValues("success").Inc()

	c.counts = counts
	c.lastRefresh = now
	c.publish(ctx, counts)

	return copyCounts(counts), nil
}

// Increment bumps the count for a user after a committed dispatch and
// republishes the snapshot. The refresh stamp is left alone: the next
// refresh boundary still overwrites from the store.
func (c *Counter) Increment(ctx context.Context, userID string) {
	c.mtx.Lock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[userID]++
	snapshot := copyCounts(c.counts)
	c.mtx.Unlock()

	c.publish(ctx, snapshot)
}

// publish writes the snapshot through to the shared cache. Failures are the
// cache's to log; the snapshot key carries the cache's configured TTL.
func (c *Counter) publish(ctx context.Context, counts map[string]int) {
	if c.cache == nil {
		return
	}

	buf, err := jsoniter.Marshal(counts)
	if err != nil {
		level.Error(c.logger).Log("msg", "failed to marshal daily counts", "err", err)
		return
	}
	c.cache.Store(ctx, []string{CacheKey}, [][]byte{buf})
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
