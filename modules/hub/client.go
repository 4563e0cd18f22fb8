package hub

import (
	"time"

	"github.com/gorilla/websocket"
)

// client is one connected observer. Frames flow through the buffered send
// channel so a stalled connection never blocks the fan-out; the hub closes
// the channel to shut the client down.
type client struct {
	conn    *websocket.Conn
	channel string
	send    chan []byte
}

func newClient(conn *websocket.Conn, channel string, sendBuffer int) *client {
	return &client{
		conn:    conn,
		channel: channel,
		send:    make(chan []byte, sendBuffer),
	}
}

// writePump drains the send channel onto the connection and keeps the
// connection alive with pings. It exits when the send channel closes or a
// write fails.
func (c *client) writePump(cfg Config) {
	ticker := time.NewTicker(cfg.pingInterval())
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound messages and refreshes the read deadline on
// pongs. Its exit, for whatever reason, unregisters the client.
func (c *client) readPump(cfg Config, unregister func()) {
	defer func() {
		unregister()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
