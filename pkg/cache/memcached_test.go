package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/grafana/gomemcache/memcache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type mockMemcachedClient struct {
	items  map[string]*memcache.Item
	closed bool
}

func newMockMemcachedClient() *mockMemcachedClient {
	return &mockMemcachedClient{items: map[string]*memcache.Item{}}
}

func (m *mockMemcachedClient) Get(key string) (*memcache.Item, error) {
	item, ok := m.items[key]
	if !ok {
		return nil, memcache.ErrCacheMiss
	}
	return item, nil
}

func (m *mockMemcachedClient) GetMulti(_ context.Context, keys []string) (map[string]*memcache.Item, error) {
	found := make(map[string]*memcache.Item)
	for _, key := range keys {
		if item, ok := m.items[key]; ok {
			found[key] = item
		}
	}
	return found, nil
}

func (m *mockMemcachedClient) Set(item *memcache.Item) error {
	m.items[item.Key] = item
	return nil
}

func (m *mockMemcachedClient) Close() {
	m.closed = true
}

func TestMemcachedRoundTrip(t *testing.T) {
	client := newMockMemcachedClient()
	c := NewMemcached(MemcachedConfig{Expiration: time.Minute}, client, "test", 0, prometheus.NewRegistry(), log.NewNopLogger())
	ctx := context.Background()

	keys := []string{"key1", "key2", "key3"}
	bufs := [][]byte{[]byte("data1"), []byte("data2"), []byte("data3")}
	c.Store(ctx, keys, bufs)

	found, data, missed := c.Fetch(ctx, []string{"key1", "key2", "key3", "key4"})
	require.Equal(t, []string{"key1", "key2", "key3"}, found)
	require.Equal(t, bufs, data)
	require.Equal(t, []string{"key4"}, missed)

	buf, ok := c.FetchKey(ctx, "key2")
	require.True(t, ok)
	require.Equal(t, []byte("data2"), buf)

	_, ok = c.FetchKey(ctx, "nope")
	require.False(t, ok)

	c.Stop()
	require.True(t, client.closed)
}

func TestNewMemcachedClient(t *testing.T) {
	cfg := MemcachedClientConfig{
		Addresses:    "localhost:11211",
		Timeout:      100 * time.Millisecond,
		MaxIdleConns: 16,
	}

	client := NewMemcachedClient(cfg, "test", prometheus.NewRegistry(), log.NewNopLogger())
	require.NotNil(t, client)
	client.Close()
}
