package dashboard

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/flowgate/dispatcher/internal/dispatch"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SnapshotHandler serves a one-shot JSON snapshot, grounded in the
// teacher's api_dashboard.go plain-JSON dashboard endpoint.
func SnapshotHandler(snapshot func() dispatch.Snapshot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snapshot()); err != nil {
			log.Printf("dashboard: failed to encode snapshot: %v", err)
		}
	}
}

// WebSocketHandler upgrades the connection and hands it to hub for the
// lifetime of the socket.
func WebSocketHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("dashboard: websocket upgrade failed: %v", err)
			return
		}
		hub.Register(conn)

		// Drain and discard any client messages so the connection's read
		// pump notices a close frame or error and unregisters promptly.
		go func() {
			defer hub.Unregister(conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}
