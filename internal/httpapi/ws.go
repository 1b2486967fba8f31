package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ridgeline-av/streamctl/internal/controlloop"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	wsPingInterval = 20 * time.Second
	wsWriteTimeout = 5 * time.Second
)

type wsTransitionMessage struct {
	Type      string                      `json:"type"`
	Event     controlloop.TransitionEvent `json:"event"`
}

type wsSnapshotMessage struct {
	Type     string              `json:"type"`
	Snapshot controlloop.Snapshot `json:"snapshot"`
}

// handleWebSocket upgrades the connection and relays transition events
// verbatim as JSON, plus a periodic snapshot heartbeat. Incoming "ping"
// text frames are answered with "pong", per the external contract.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go s.wsReadLoop(conn, done)

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	transitions := s.cfg.Loop.Transitions()

	for {
		select {
		case <-done:
			return
		case ev := <-transitions:
			if err := s.wsWriteJSON(conn, wsTransitionMessage{Type: "transition", Event: ev}); err != nil {
				return
			}
		case <-ticker.C:
			snap := s.cfg.Loop.Snapshot()
			if err := s.wsWriteJSON(conn, wsSnapshotMessage{Type: "snapshot", Snapshot: snap}); err != nil {
				return
			}
		}
	}
}

func (s *Server) wsWriteJSON(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, body)
}

func (s *Server) wsReadLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType == websocket.TextMessage && string(data) == "ping" {
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte("pong")); err != nil {
				return
			}
		}
	}
}
