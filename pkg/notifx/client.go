package notifx

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Client is one connected observer. Its send buffer is closed by the hub
// exactly once, when the client leaves the registry.
type Client struct {
	ID         string
	conn       Conn
	send       chan []byte
	lastActive atomic.Int64
}

func newClient(conn Conn, buffer int, now time.Time) *Client {
	c := &Client{
		ID:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, buffer),
	}
	c.touch(now)
	return c
}

func (c *Client) touch(now time.Time) { c.lastActive.Store(now.UnixNano()) }

// LastActive is the time of the last inbound frame.
func (c *Client) LastActive() time.Time { return time.Unix(0, c.lastActive.Load()) }

func (h *Hub) readPump(c *Client) {
	log := h.log.WithField("client_id", c.ID)

	refresh := func() error {
		now := h.now()
		c.touch(now)
		return c.conn.SetReadDeadline(now.Add(h.opts.ClientTimeout))
	}

	_ = refresh()
	c.conn.SetPongHandler(func(string) error { return refresh() })
	c.conn.SetPingHandler(func(data string) error {
		if err := refresh(); err != nil {
			return err
		}
		return c.conn.WriteControl(PongMessage, []byte(data), h.now().Add(h.opts.WriteWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			log.WithError(err).Debug("client read ended")
			return
		}
		_ = refresh()
		log.Debugf("ignoring client message: %s", msg)
	}
}

func (h *Hub) writePump(c *Client) {
	log := h.log.WithField("client_id", c.ID)
	ticker := time.NewTicker(h.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(h.now().Add(h.opts.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(TextMessage, msg); err != nil {
				log.WithError(err).Debug("client write failed")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(h.now().Add(h.opts.WriteWait))
			if err := c.conn.WriteMessage(PingMessage, nil); err != nil {
				log.WithError(err).Debug("client ping failed")
				return
			}
		}
	}
}
