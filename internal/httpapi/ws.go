package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/core"
)

// wsFrame is the wire shape every WebSocket message takes (§6.2): a type
// tag plus an opaque JSON payload.
type wsFrame struct {
	Type core.BusEventType `json:"type"`
	Data interface{}       `json:"data"`
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsPongTimeout  = 60 * time.Second
)

// handleWebSocket upgrades the connection and subscribes it to the
// EventBus, forwarding every published frame until the client
// disconnects or the bus drops it for backpressure (§4.7).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := s.getRemoteIP(r)
	if !s.getIPLimiter(ip).Allow() {
		wsRejectedTotal.WithLabelValues("rate_limit").Inc()
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	wsActiveConnections.Inc()
	defer wsActiveConnections.Dec()

	ch, unsubscribe := s.bus.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go s.wsReadPump(conn, done)

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	for {
		select {
		case <-done:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(wsFrame{Type: evt.Type, Data: evt.Data}); err != nil {
				s.logger.Warn("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// wsReadPump discards inbound client frames (the feed is server-push
// only) and closes done when the connection drops, unblocking the
// write loop above.
func (s *Server) wsReadPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
