// internal/messaging/events.go
// Wire catalog for the real-time channel

package messaging

import (
	"encoding/json"
	"time"
)

// WSMessage is the envelope for every signal crossing the socket, in either
// direction.
type WSMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Inbound signal types
const (
	WSTypeAuthenticate = "authenticate"
	WSTypeJoinRoom     = "join_room"
	WSTypeLeaveRoom    = "leave_room"
	WSTypeSendMessage  = "send_message"
	WSTypeMarkRead     = "mark_read"
	WSTypeTypingStart  = "typing_start"
	WSTypeTypingStop   = "typing_stop"
)

// Outbound signal types
const (
	WSTypePresenceSnapshot = "presence_snapshot"
	WSTypeUserJoined       = "user_joined"
	WSTypeUserLeft         = "user_left"
	WSTypeMessageRelayed   = "message_relayed"
	WSTypeMessageAck       = "message_ack"
	WSTypeReadNotice       = "read_notice"
	WSTypeTypingNotice     = "typing_notice"
	WSTypeError            = "error"
)

// Signal payloads

type AuthenticatePayload struct {
	Token string `json:"token" validate:"required"`
}

type RoomPayload struct {
	ConversationID int64 `json:"conversation_id" validate:"required"`
}

type MarkReadPayload struct {
	ConversationID int64 `json:"conversation_id" validate:"required"`
}

type ReadNotice struct {
	ConversationID int64     `json:"conversation_id"`
	UserID         int64     `json:"user_id"`
	ReadAt         time.Time `json:"read_at"`
}

type TypingNotice struct {
	ConversationID int64 `json:"conversation_id"`
	UserID         int64 `json:"user_id"`
	IsTyping       bool  `json:"is_typing"`
}

type UserJoinedPayload struct {
	Record PresenceRecord `json:"record"`
}

type UserLeftPayload struct {
	UserID int64 `json:"user_id"`
}

type PresenceSnapshotPayload struct {
	Records []PresenceRecord `json:"records"`
}

type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// newWSMessage wraps a payload into an envelope
func newWSMessage(msgType string, payload interface{}) WSMessage {
	return WSMessage{
		Type:      msgType,
		Data:      mustMarshal(payload),
		Timestamp: time.Now(),
	}
}

// newWSError builds an error envelope for a rejected signal
func newWSError(code, message string) WSMessage {
	return newWSMessage(WSTypeError, WSError{Code: code, Message: message})
}

// mustMarshal marshals a payload, falling back to an empty object so a bad
// payload never takes the connection down
func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
