package http

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/domain"
)

const (
	wsSendBuffer   = 16
	wsWriteTimeout = 5 * time.Second
)

// Hub fans finished decisions out to websocket subscribers. Broadcast
// never blocks the decision path: a subscriber whose buffer is full is
// dropped on the spot.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}

	dropped atomic.Int64
}

type wsClient struct {
	conn *websocket.Conn
	send chan domain.Decision
	once sync.Once
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// Consume broadcasts one decision to every connected subscriber. It is
// the engine's sink hook and must stay non-blocking.
func (h *Hub) Consume(d domain.Decision) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- d:
		default:
			delete(h.clients, c)
			c.close()
			h.dropped.Add(1)
			log.Warn().Msg("detaching slow websocket subscriber")
		}
	}
}

// ServeWS upgrades the request and subscribes the connection to the
// decision stream. Inbound frames are read and discarded so peer
// disconnects are noticed.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{conn: conn, send: make(chan domain.Decision, wsSendBuffer)}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go client.writePump()
	go h.readPump(client)
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped reports how many subscribers were detached for falling behind.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) readPump(c *wsClient) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (c *wsClient) writePump() {
	for d := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteJSON(d); err != nil {
			break
		}
	}
	c.conn.Close()
}

// close shuts the send channel exactly once; writePump then closes the
// underlying connection.
func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}
