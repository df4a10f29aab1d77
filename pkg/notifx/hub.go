// Package notifx relays queue events to long-lived client connections.
//
// A Hub is a single actor: one goroutine (Run) owns the client registry and
// every change to it arrives over a channel. Each client has a write pump
// draining a bounded buffer and a read pump tracking liveness. A client
// whose buffer is full when a broadcast arrives is dropped so it cannot
// stall the others.
package notifx

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Abraxas-365/jobrelay/pkg/logx"
)

// Stats is the hub's only synchronous query.
type Stats struct {
	ConnectedClients int   `json:"connected_clients"`
	Timestamp        int64 `json:"timestamp"`
}

// Hub fans broadcasts out to registered clients.
type Hub struct {
	log  *logx.Logger
	opts Options
	now  func() time.Time

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	stats      chan chan int

	done chan struct{}
}

// NewHub creates a hub. Call Run to start it.
func NewHub(log *logx.Logger, opts ...Option) *Hub {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o.normalize()
	if log == nil {
		log = logx.Nop()
	}
	return &Hub{
		log:        log.Named("hub"),
		opts:       o,
		now:        time.Now,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, o.BroadcastBuffer),
		stats:      make(chan chan int),
		done:       make(chan struct{}),
	}
}

// Options returns the effective configuration.
func (h *Hub) Options() Options { return h.opts }

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Run owns the registry until ctx is done. On exit every client's buffer is
// closed, which makes its write pump send a close frame. Run must be called
// once.
func (h *Hub) Run(ctx context.Context) error {
	clients := make(map[*Client]struct{})
	ticker := time.NewTicker(h.opts.PingInterval)
	defer func() {
		ticker.Stop()
		for c := range clients {
			close(c.send)
		}
		h.opts.Observer.ClientsChanged(0)
		close(h.done)
	}()

	remove := func(c *Client) {
		delete(clients, c)
		close(c.send)
		h.opts.Observer.ClientsChanged(len(clients))
	}

	h.log.WithFields(logx.Fields{
		"ping_interval":  h.opts.PingInterval.String(),
		"client_timeout": h.opts.ClientTimeout.String(),
	}).Info("hub started")

	for {
		select {
		case <-ctx.Done():
			h.log.WithField("clients", len(clients)).Info("hub stopping")
			return nil

		case c := <-h.register:
			clients[c] = struct{}{}
			h.opts.Observer.ClientsChanged(len(clients))
			h.log.WithFields(logx.Fields{"client_id": c.ID, "total": len(clients)}).Info("client registered")

		case c := <-h.unregister:
			if _, ok := clients[c]; ok {
				remove(c)
				h.log.WithFields(logx.Fields{"client_id": c.ID, "total": len(clients)}).Info("client unregistered")
			}

		case msg := <-h.broadcast:
			h.opts.Observer.Broadcasted()
			for c := range clients {
				select {
				case c.send <- msg:
				default:
					remove(c)
					h.opts.Observer.SlowConsumer()
					h.log.WithField("client_id", c.ID).Warn("slow consumer dropped")
				}
			}

		case reply := <-h.stats:
			reply <- len(clients)

		case <-ticker.C:
			cutoff := h.now().Add(-h.opts.ClientTimeout)
			for c := range clients {
				if c.LastActive().Before(cutoff) {
					remove(c)
					h.log.WithField("client_id", c.ID).Info("inactive client disconnected")
				}
			}
		}
	}
}

// Serve registers conn as a client and blocks until the connection ends.
func (h *Hub) Serve(ctx context.Context, conn Conn) error {
	c := newClient(conn, h.opts.SendBuffer, h.now())

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return notifxErrors.New(ErrHubClosed)
	case <-ctx.Done():
		_ = conn.Close()
		return ctx.Err()
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(c)
	}()

	h.readPump(c)

	select {
	case h.unregister <- c:
	case <-h.done:
	}
	<-writerDone
	return nil
}

// Broadcast queues msg for every client. It blocks only while the broadcast
// queue is full.
func (h *Hub) Broadcast(ctx context.Context, msg []byte) error {
	select {
	case <-h.done:
		return notifxErrors.New(ErrHubClosed)
	default:
	}
	select {
	case h.broadcast <- msg:
		return nil
	case <-h.done:
		return notifxErrors.New(ErrHubClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BroadcastJSON encodes v and broadcasts it.
func (h *Hub) BroadcastJSON(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return notifxErrors.NewWithCause(ErrInvalidMessage, err)
	}
	return h.Broadcast(ctx, b)
}

// Stats asks the actor for the current client count.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan int, 1)
	select {
	case h.stats <- reply:
	case <-h.done:
		return Stats{}, notifxErrors.New(ErrHubClosed)
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	n := <-reply
	return Stats{ConnectedClients: n, Timestamp: h.now().Unix()}, nil
}
