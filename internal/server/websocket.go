package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zjrosen/sortpool/internal/events"
	"github.com/zjrosen/sortpool/internal/log"
	"github.com/zjrosen/sortpool/internal/protocol"
	"github.com/zjrosen/sortpool/internal/pubsub"
)

const writeWait = 10 * time.Second

// Frame is one websocket snapshot message.
type Frame struct {
	Type string          `json:"type"`
	Data events.Snapshot `json:"data"`
}

// MessageFrame wraps a protocol message on the wire.
type MessageFrame struct {
	Type    string           `json:"type"`
	Message protocol.Message `json:"message"`
}

// handleWebSocket streams a snapshot frame on connect and after every status
// change. Slow clients skip intermediate snapshots, never the latest one.
// With ?messages=1 the protocol messages behind each change are streamed too.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn(log.CatServer, "WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before the initial frame so nothing is missed in between.
	sub := s.engine.Subscribe(ctx)
	var msgs <-chan pubsub.Event[protocol.Message]
	if r.URL.Query().Get("messages") != "" {
		msgs = s.engine.SubscribeMessages(ctx)
	}
	if err := writeFrame(conn, s.engine.Snapshot()); err != nil {
		return
	}

	// Reads only detect the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "pool closed"),
					time.Now().Add(writeWait))
				return
			}
			if err := writeFrame(conn, ev.Payload); err != nil {
				log.Debug(log.CatServer, "WebSocket write failed", "error", err)
				return
			}
		case ev, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			if err := writeMessage(conn, ev.Payload); err != nil {
				log.Debug(log.CatServer, "WebSocket write failed", "error", err)
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, snap events.Snapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(Frame{Type: "snapshot", Data: snap})
}

func writeMessage(conn *websocket.Conn, msg protocol.Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(MessageFrame{Type: "message", Message: msg})
}
