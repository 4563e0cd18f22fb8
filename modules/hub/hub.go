// Package hub fans broadcast frames out to websocket observers. It is the
// read side of the event bus: whatever the api and dispatcher publish shows
// up here and is pushed to every connection subscribed to the channel.
package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/websocket"
	"github.com/grafana/dskit/backoff"
	"github.com/grafana/dskit/services"

	"github.com/usherd/usher/pkg/events"
)

// Subscriber is the bus side the hub consumes from.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) (<-chan events.Message, error)
}

type Hub struct {
	services.Service

	cfg    Config
	bus    Subscriber
	logger log.Logger

	mtx     sync.Mutex
	closed  bool
	clients map[string]map[*client]struct{}

	upgrader websocket.Upgrader
}

func New(cfg Config, bus Subscriber, logger log.Logger) *Hub {
	h := &Hub{
		cfg:    cfg,
		bus:    bus,
		logger: logger,
		clients: map[string]map[*client]struct{}{
			events.ChannelNewRequests: {},
			events.ChannelDispatched:  {},
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Frames are broadcast-only, observers connect from anywhere.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	h.Service = services.NewBasicService(h.starting, h.running, h.stopping)
	return h
}

func (h *Hub) starting(_ context.Context) error { return nil }

// running holds the bus subscription for both channels and re-establishes it
// when it drops. Connected clients stay attached across resubscribes, they
// just miss the frames published in between.
func (h *Hub) running(ctx context.Context) error {
	b := backoff.New(ctx, backoff.Config{
		MinBackoff: 500 * time.Millisecond,
		MaxBackoff: 5 * time.Second,
	})

	for b.Ongoing() {
		msgs, err := h.bus.Subscribe(ctx, events.ChannelNewRequests, events.ChannelDispatched)
		if err != nil {
			level.Warn(h.logger).Log("msg", "bus subscription failed, retrying", "err", err)
			b.Wait()
			continue
		}
		b.Reset()
		level.Info(h.logger).Log("msg", "subscribed to broadcast channels")

		h.pump(ctx, msgs)

		if ctx.Err() == nil {
			level.Warn(h.logger).Log("msg", "bus subscription ended, resubscribing")
			b.Wait()
		}
	}
	return nil
}

func (h *Hub) pump(ctx context.Context, msgs <-chan events.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			metricFrames.WithLabelValues(m.Channel).Inc()
			h.broadcast(m.Channel, m.Payload)
		}
	}
}

func (h *Hub) stopping(_ error) error {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	h.closed = true
	for _, group := range h.clients {
		for c := range group {
			h.dropLocked(c)
		}
	}
	return nil
}

// NewRequestsHandler upgrades the connection and streams new_request frames.
func (h *Hub) NewRequestsHandler(w http.ResponseWriter, r *http.Request) {
	h.serveWS(w, r, events.ChannelNewRequests)
}

// DispatchedHandler upgrades the connection and streams request_dispatched
// frames.
func (h *Hub) DispatchedHandler(w http.ResponseWriter, r *http.Request) {
	h.serveWS(w, r, events.ChannelDispatched)
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request, channel string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the failure response.
		level.Warn(h.logger).Log("msg", "websocket upgrade failed", "err", err)
		return
	}

	c := newClient(conn, channel, h.cfg.SendBuffer)
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	level.Info(h.logger).Log("msg", "observer connected", "channel", channel, "addr", conn.RemoteAddr())

	go c.writePump(h.cfg)
	go c.readPump(h.cfg, func() { h.unregister(c) })
}

func (h *Hub) register(c *client) bool {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	if h.closed {
		return false
	}
	h.clients[c.channel][c] = struct{}{}
	metricClients.WithLabelValues(c.channel).Inc()
	return true
}

func (h *Hub) unregister(c *client) {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	h.dropLocked(c)
}

// dropLocked detaches the client and closes its send channel, which ends its
// write pump. Dropping a client twice is a no-op. Callers hold mtx.
func (h *Hub) dropLocked(c *client) {
	group := h.clients[c.channel]
	if _, ok := group[c]; !ok {
		return
	}
	delete(group, c)
	close(c.send)
	metricClients.WithLabelValues(c.channel).Dec()
}

func (h *Hub) broadcast(channel string, payload []byte) {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	for c := range h.clients[channel] {
		select {
		case c.send <- payload:
		default:
			// A client this far behind is not coming back.
			metricDroppedClients.WithLabelValues(channel).Inc()
			h.dropLocked(c)
		}
	}
}
