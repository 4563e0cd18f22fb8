package cache

import (
	"context"
	"flag"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/gomemcache/memcache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MemcachedClient interface exists for mocking memcachedClient.
type MemcachedClient interface {
	Get(key string) (*memcache.Item, error)
	GetMulti(ctx context.Context, keys []string) (map[string]*memcache.Item, error)
	Set(item *memcache.Item) error
	Close()
}

// MemcachedClientConfig defines how a MemcachedClient should be constructed.
type MemcachedClientConfig struct {
	Addresses      string        `yaml:"addresses"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxIdleConns   int           `yaml:"max_idle_conns"`
	MaxItemSize    int           `yaml:"max_item_size"`
	UpdateInterval time.Duration `yaml:"update_interval"`
}

// RegisterFlagsWithPrefix adds the flags required to config this to the given FlagSet.
func (cfg *MemcachedClientConfig) RegisterFlagsWithPrefix(prefix, description string, f *flag.FlagSet) {
	f.StringVar(&cfg.Addresses, prefix+"memcached.addresses", "", description+"Comma separated list of memcached addresses.")
	f.DurationVar(&cfg.Timeout, prefix+"memcached.timeout", 100*time.Millisecond, description+"Maximum time to wait before giving up on memcached requests.")
	f.IntVar(&cfg.MaxIdleConns, prefix+"memcached.max-idle-conns", 16, description+"Maximum number of idle connections in pool.")
	f.IntVar(&cfg.MaxItemSize, prefix+"memcached.max-item-size", 0, description+"Maximum size in bytes of an item to store in memcached. 0 disables the limit.")
	f.DurationVar(&cfg.UpdateInterval, prefix+"memcached.update-interval", time.Minute, description+"Period with which to re-resolve the configured addresses.")
}

// memcachedClient wraps a gomemcache client and periodically re-resolves
// the configured addresses so the server list follows DNS.
type memcachedClient struct {
	client     *memcache.Client
	serverList *memcache.ServerList

	addresses []string

	quit chan struct{}
	wait sync.WaitGroup

	numServers prometheus.Gauge
	logger     log.Logger
}

// NewMemcachedClient creates a new MemcachedClient that connects to the
// configured addresses.
func NewMemcachedClient(cfg MemcachedClientConfig, name string, reg prometheus.Registerer, logger log.Logger) MemcachedClient {
	serverList := &memcache.ServerList{}
	client := memcache.NewFromSelector(serverList)
	client.Timeout = cfg.Timeout
	client.MaxIdleConns = cfg.MaxIdleConns

	c := &memcachedClient{
		client:     client,
		serverList: serverList,
		addresses:  splitAddresses(cfg.Addresses),
		quit:       make(chan struct{}),
		logger:     logger,
		numServers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace:   "usher",
			Name:        "memcache_client_servers",
			Help:        "The number of memcache servers in the pool.",
			ConstLabels: prometheus.Labels{"name": name},
		}),
	}

	if err := c.updateServers(); err != nil {
		level.Error(logger).Log("msg", "error setting memcache servers", "err", err)
	}

	if cfg.UpdateInterval > 0 {
		c.wait.Add(1)
		go c.updateLoop(cfg.UpdateInterval)
	}
	return c
}

func splitAddresses(addresses string) []string {
	var out []string
	for _, addr := range strings.Split(addresses, ",") {
		addr = strings.TrimSpace(addr)
		if addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

func (c *memcachedClient) Get(key string) (*memcache.Item, error) {
	return c.client.Get(key)
}

func (c *memcachedClient) GetMulti(ctx context.Context, keys []string) (map[string]*memcache.Item, error) {
	return c.client.GetMulti(ctx, keys)
}

func (c *memcachedClient) Set(item *memcache.Item) error {
	return c.client.Set(item)
}

func (c *memcachedClient) Close() {
	close(c.quit)
	c.wait.Wait()
}

func (c *memcachedClient) updateLoop(updateInterval time.Duration) {
	defer c.wait.Done()

	ticker := time.NewTicker(updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.updateServers(); err != nil {
				level.Warn(c.logger).Log("msg", "error updating memcache servers", "err", err)
			}
		case <-c.quit:
			return
		}
	}
}

// updateServers pushes the configured addresses into the server list.
// SetServers resolves the addresses, so calling it on a ticker keeps the
// pool current when the names point at changing ips.
func (c *memcachedClient) updateServers() error {
	err := c.serverList.SetServers(c.addresses...)
	if err != nil {
		return err
	}

	c.numServers.Set(float64(len(c.addresses)))
	return nil
}
