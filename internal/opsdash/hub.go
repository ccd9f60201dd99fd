// Package opsdash is a read-only operational dashboard: a WebSocket feed
// that broadcasts periodic engine/metrics/health snapshots to any connected
// viewer. It carries no inbound command channel — control-plane mutation
// stays exclusively on the bus control channel; this hub is observability
// only.
package opsdash

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Hub manages connected dashboard clients and broadcasts snapshots to them.
type Hub struct {
	log zerolog.Logger

	mu         sync.RWMutex
	clients    map[*client]struct{}
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	stop       chan struct{}
	done       chan struct{}
}

// NewHub builds a Hub. Call Run in its own goroutine before ServeWS is hit.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *client),
		unregister: make(chan *client),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run is the Hub's event loop; it exits when Stop is called.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow client: drop it rather than block the broadcaster.
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Stop signals Run to exit and waits for it to finish.
func (h *Hub) Stop() {
	close(h.stop)
	<-h.done
}

// Broadcast sends payload to every connected client. Non-blocking: if Run
// has already stopped, the send is simply dropped.
func (h *Hub) Broadcast(payload []byte) {
	select {
	case h.broadcast <- payload:
	case <-h.stop:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request to a WebSocket and registers a new viewer.
// The dashboard is read-only: incoming frames are drained and discarded,
// never interpreted as commands.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("opsdash websocket upgrade failed")
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, 16)}
	h.register <- c

	go c.writePump()
	go c.readPump()
}
