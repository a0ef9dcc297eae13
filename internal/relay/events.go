// Package relay implements the realtime chat core: connection sessions, the
// user and room fanout maps, and the exchange orchestrator that turns one
// inbound chat message into exactly one terminal response event.
package relay

import (
	"encoding/json"
	"time"

	"github.com/Physix85/Venus-AI/pkg/domain"
)

// Client → server events.
const (
	EventChatMessage = "chat_message"
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventTyping      = "typing"
	EventPing        = "ping"
)

// Server → client events.
const (
	EventConnected       = "connected"
	EventMessageReceived = "message_received"
	EventTypingIndicator = "typing_indicator"
	EventResponse        = "response"
	EventError           = "error"
	EventPong            = "pong"
)

// Frame is the JSON envelope for every outbound event.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// InboundFrame is the envelope for client events; Data is decoded per event.
type InboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ChatMessagePayload is the inbound chat_message body. ConversationID may be
// the empty string, which always starts a new conversation.
type ChatMessagePayload struct {
	ConversationID string              `json:"conversationId"`
	Text           string              `json:"text"`
	Attachments    []domain.Attachment `json:"attachments"`
}

// RoomPayload is the inbound join_room/leave_room body.
type RoomPayload struct {
	RoomID string `json:"roomId"`
}

// TypingPayload carries typing state in both directions.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	Typing         bool   `json:"typing"`
}

// ConnectedPayload acknowledges a successful handshake.
type ConnectedPayload struct {
	UserID string `json:"userId"`
	ConnID string `json:"connId"`
}

// MessageReceivedPayload echoes the stored user entry before the upstream
// call, so the client renders it without waiting on the model.
type MessageReceivedPayload struct {
	ConversationID string       `json:"conversationId"`
	Entry          domain.Entry `json:"entry"`
}

// ResponsePayload is the terminal event of an exchange. Warning is set on the
// failure-shaped path where the entry carries an apology instead of a
// generation.
type ResponsePayload struct {
	ConversationID string                     `json:"conversationId"`
	Entry          domain.Entry               `json:"entry"`
	Conversation   domain.ConversationSummary `json:"conversationSummary"`
	Warning        bool                       `json:"warning,omitempty"`
}

// ErrorPayload is a non-terminal error event. Details is developer-facing and
// never carries upstream internals beyond a short reason.
type ErrorPayload struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// PongPayload answers a ping.
type PongPayload struct {
	Timestamp time.Time `json:"timestamp"`
}
