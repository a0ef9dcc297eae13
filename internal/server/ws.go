package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Physix85/Venus-AI/internal/relay"
	"github.com/Physix85/Venus-AI/pkg/domain"
)

const maxInboundFrameBytes = 1 << 20

// handleWS verifies identity before upgrading; a failed handshake terminates
// the connection attempt with a plain HTTP status. After the upgrade, all
// failures are per-message and the connection stays open.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if headerToken, ok := bearerToken(r); ok {
		token = headerToken
	}
	if token == "" {
		s.audit(r, "relay.ws.handshake", "fail", "reason", "missing_token")
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	user, ok := s.userFromToken(r, token)
	if !ok {
		s.audit(r, "relay.ws.handshake", "fail", "reason", "invalid_token")
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if user.Status == domain.StatusDisabled {
		s.audit(r, "relay.ws.handshake", "fail", "reason", "deactivated", "user_id", user.ID)
		writeError(w, http.StatusForbidden, "account deactivated")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		slog.Debug("websocket upgrade failed", "user_id", user.ID, "err", err)
		return
	}

	conn := relay.NewConn(ws, user.ID)
	s.registry.Put(user.ID, conn)
	go conn.WritePump()

	s.audit(r, "relay.ws.handshake", "success", "user_id", user.ID, "conn_id", conn.ID())
	conn.Send(relay.Frame{Event: relay.EventConnected, Data: relay.ConnectedPayload{
		UserID: user.ID,
		ConnID: conn.ID(),
	}})

	s.readLoop(r, ws, conn)

	s.rooms.LeaveAll(conn)
	s.registry.Remove(user.ID, conn.ID())
	conn.Close()
}

func (s *Server) readLoop(r *http.Request, ws *websocket.Conn, conn *relay.Conn) {
	ws.SetReadLimit(maxInboundFrameBytes)
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var frame relay.InboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			conn.Send(errorEvent("invalid frame", "expected {event, data} JSON"))
			continue
		}
		s.dispatchEvent(r, conn, frame)
	}
}

func (s *Server) dispatchEvent(r *http.Request, conn *relay.Conn, frame relay.InboundFrame) {
	switch frame.Event {
	case relay.EventChatMessage:
		var msg relay.ChatMessagePayload
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			conn.Send(errorEvent("invalid chat_message payload", ""))
			return
		}
		// Each message runs its own exchange; messages on the same connection
		// may be in flight concurrently.
		go s.orchestrator.HandleChatMessage(r.Context(), conn, msg)
	case relay.EventJoinRoom:
		var room relay.RoomPayload
		if err := json.Unmarshal(frame.Data, &room); err != nil || room.RoomID == "" {
			conn.Send(errorEvent("invalid join_room payload", ""))
			return
		}
		s.rooms.Join(conn, room.RoomID)
	case relay.EventLeaveRoom:
		var room relay.RoomPayload
		if err := json.Unmarshal(frame.Data, &room); err != nil || room.RoomID == "" {
			conn.Send(errorEvent("invalid leave_room payload", ""))
			return
		}
		s.rooms.Leave(conn, room.RoomID)
	case relay.EventTyping:
		var typing relay.TypingPayload
		if err := json.Unmarshal(frame.Data, &typing); err != nil || typing.ConversationID == "" {
			conn.Send(errorEvent("invalid typing payload", ""))
			return
		}
		s.rooms.EmitToRoom(typing.ConversationID, relay.Frame{
			Event: relay.EventTypingIndicator,
			Data:  typing,
		}, conn)
	case relay.EventPing:
		conn.Send(relay.Frame{Event: relay.EventPong, Data: relay.PongPayload{Timestamp: time.Now()}})
	default:
		conn.Send(errorEvent("unknown event", frame.Event))
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(s.allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.allowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func errorEvent(message, details string) relay.Frame {
	return relay.Frame{Event: relay.EventError, Data: relay.ErrorPayload{
		Message: message,
		Details: details,
	}}
}
