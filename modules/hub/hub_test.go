package hub

import (
	"context"
	"flag"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kit/log"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/grafana/dskit/services"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"

	pkg_api "github.com/usherd/usher/pkg/api"
	"github.com/usherd/usher/pkg/events"
)

func testHub(t *testing.T) (*Hub, *events.RedisBus, string) {
	t.Helper()

	mr := miniredis.RunT(t)
	bus := events.NewRedisBus(events.Config{Endpoint: mr.Addr(), Timeout: time.Second})
	t.Cleanup(func() { _ = bus.Close() })

	cfg := Config{}
	cfg.RegisterFlagsAndApplyDefaults("hub", &flag.FlagSet{})

	h := New(cfg, bus, log.NewNopLogger())
	require.NoError(t, services.StartAndAwaitRunning(context.Background(), h))
	t.Cleanup(func() { _ = services.StopAndAwaitTerminated(context.Background(), h) })

	router := mux.NewRouter()
	router.HandleFunc(pkg_api.PathWSNewRequests, h.NewRequestsHandler)
	router.HandleFunc(pkg_api.PathWSDispatched, h.DispatchedHandler)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	waitForSubscription(t, mr)
	return h, bus, srv.URL
}

// waitForSubscription blocks until the hub's bus subscription is live, so a
// publish after it cannot be lost to startup ordering.
func waitForSubscription(t *testing.T, mr *miniredis.Miniredis) {
	t.Helper()

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	t.Cleanup(func() { _ = rdb.Close() })

	require.Eventually(t, func() bool {
		counts, err := rdb.PubSubNumSub(context.Background(), events.ChannelNewRequests, events.ChannelDispatched).Result()
		return err == nil && counts[events.ChannelNewRequests] > 0 && counts[events.ChannelDispatched] > 0
	}, 5*time.Second, 10*time.Millisecond)
}

func waitForClients(t *testing.T, h *Hub, channel string, n int) {
	t.Helper()

	require.Eventually(t, func() bool {
		h.mtx.Lock()
		defer h.mtx.Unlock()
		return len(h.clients[channel]) == n
	}, 5*time.Second, 10*time.Millisecond)
}

func dialWS(t *testing.T, baseURL, path string) *websocket.Conn {
	t.Helper()

	u := "ws" + strings.TrimPrefix(baseURL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	return payload
}

func TestHubBroadcastsDispatchedFrames(t *testing.T) {
	h, bus, url := testHub(t)

	conn := dialWS(t, url, pkg_api.PathWSDispatched)
	waitForClients(t, h, events.ChannelDispatched, 1)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, events.PublishRequestDispatched(context.Background(), bus, "r1", "alice", ts))

	var frame events.RequestDispatched
	require.NoError(t, jsoniter.Unmarshal(readFrame(t, conn), &frame))
	require.Equal(t, events.RequestDispatched{Type: events.TypeRequestDispatched, RequestID: "r1", User: "alice", Timestamp: ts}, frame)
}

func TestHubFansOutToEveryClient(t *testing.T) {
	h, bus, url := testHub(t)

	conn1 := dialWS(t, url, pkg_api.PathWSNewRequests)
	conn2 := dialWS(t, url, pkg_api.PathWSNewRequests)
	waitForClients(t, h, events.ChannelNewRequests, 2)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, events.PublishNewRequest(context.Background(), bus, "r1", "processed", ts))

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		var frame events.NewRequest
		require.NoError(t, jsoniter.Unmarshal(readFrame(t, conn), &frame))
		require.Equal(t, "r1", frame.ID)
		require.Equal(t, events.TypeNewRequest, frame.Type)
	}
}

func TestHubKeepsChannelsApart(t *testing.T) {
	h, bus, url := testHub(t)

	newConn := dialWS(t, url, pkg_api.PathWSNewRequests)
	dispConn := dialWS(t, url, pkg_api.PathWSDispatched)
	waitForClients(t, h, events.ChannelNewRequests, 1)
	waitForClients(t, h, events.ChannelDispatched, 1)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, events.PublishRequestDispatched(context.Background(), bus, "r1", "alice", ts))
	require.NoError(t, events.PublishRequestDispatched(context.Background(), bus, "r2", "bob", ts))
	require.NoError(t, events.PublishNewRequest(context.Background(), bus, "r3", "processed", ts))

	// The new-requests observer sees the new_request frame first: the two
	// dispatched frames went to the other channel only.
	var nr events.NewRequest
	require.NoError(t, jsoniter.Unmarshal(readFrame(t, newConn), &nr))
	require.Equal(t, "r3", nr.ID)

	var rd events.RequestDispatched
	require.NoError(t, jsoniter.Unmarshal(readFrame(t, dispConn), &rd))
	require.Equal(t, "r1", rd.RequestID)
}

func TestHubDropsSlowClient(t *testing.T) {
	cfg := Config{}
	cfg.RegisterFlagsAndApplyDefaults("hub", &flag.FlagSet{})
	cfg.SendBuffer = 1

	h := New(cfg, nil, log.NewNopLogger())

	// No pumps are running, the send buffer fills up on the first frame.
	c := newClient(nil, events.ChannelDispatched, cfg.SendBuffer)
	require.True(t, h.register(c))

	h.broadcast(events.ChannelDispatched, []byte("one"))
	h.broadcast(events.ChannelDispatched, []byte("two"))

	h.mtx.Lock()
	_, stillThere := h.clients[events.ChannelDispatched][c]
	h.mtx.Unlock()
	require.False(t, stillThere)

	// The buffered frame drains, then the channel reads as closed.
	require.Equal(t, []byte("one"), <-c.send)
	_, open := <-c.send
	require.False(t, open)
}

func TestHubShutdownDisconnectsClients(t *testing.T) {
	h, _, url := testHub(t)

	conn := dialWS(t, url, pkg_api.PathWSNewRequests)
	waitForClients(t, h, events.ChannelNewRequests, 1)

	require.NoError(t, services.StopAndAwaitTerminated(context.Background(), h))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))

	// And nothing new gets in.
	require.False(t, h.register(newClient(nil, events.ChannelNewRequests, 1)))
}
