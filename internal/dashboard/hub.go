// Package dashboard exposes a live view of the dispatcher's fairness state:
// a websocket broadcaster for a real-time UI and a plain JSON snapshot
// endpoint for polling clients (spec.md section 4.5). Both are pure readers
// of dispatch.State.Snapshot(); neither can influence scheduling.
//
// The websocket side follows the teacher's single-broadcaster-loop pattern
// (control_plane/ws_hub.go) adapted down from per-tenant fan-out to a
// single global feed, since this proxy has no tenant concept.
package dashboard

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flowgate/dispatcher/internal/dispatch"
)

const (
	maxConnections  = 200
	broadcastPeriod = 1 * time.Second
)

// Hub manages connected dashboard websocket clients and periodically pushes
// a fresh snapshot to all of them.
type Hub struct {
	snapshot func() dispatch.Snapshot

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}

	register   chan *websocket.Conn
	unregister chan *websocket.Conn
}

// NewHub constructs a Hub that reads state via snapshot on every tick.
func NewHub(snapshot func() dispatch.Snapshot) *Hub {
	return &Hub{
		snapshot:   snapshot,
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run drives the hub's single event loop until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(broadcastPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxConnections {
				h.mu.Unlock()
				conn.Close()
				log.Printf("dashboard: rejecting connection, max of %d reached", maxConnections)
				continue
			}
			h.clients[conn] = struct{}{}
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case <-ticker.C:
			h.broadcast()
		}
	}
}

func (h *Hub) broadcast() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.clients) == 0 {
		return
	}

	snap := h.snapshot()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(snap); err != nil {
			log.Printf("dashboard: websocket write error: %v", err)
			go h.Unregister(conn)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}

// Register adds a client connection to the broadcast set.
func (h *Hub) Register(conn *websocket.Conn) {
	h.register <- conn
}

// Unregister removes a client connection.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// ClientCount reports the number of currently connected dashboard clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
