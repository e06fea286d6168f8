// internal/messaging/models.go

package messaging

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Message types
const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeFile   = "file"
	MessageTypeSystem = "system"
)

// DeletedPlaceholder replaces the content of deleted messages. Once set the
// message is immutable.
const DeletedPlaceholder = "This message has been deleted"

// Conversation is the durable container for an exchange between a fixed set
// of participants, optionally anchored to the service listing that started it.
type Conversation struct {
	ID            int64      `json:"id" db:"id"`
	ServiceID     *int64     `json:"service_id,omitempty" db:"service_id"`
	LastMessageID *int64     `json:"last_message_id,omitempty" db:"last_message_id"`
	IsActive      bool       `json:"is_active" db:"is_active"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`

	// Computed fields
	Participants []*ParticipantState `json:"participants,omitempty"`
	LastMessage  *Message            `json:"last_message,omitempty"`
}

// ParticipantState is the per-user, per-conversation bookkeeping record.
// Exactly one row exists per member of the conversation, created in the same
// transaction as the conversation itself.
type ParticipantState struct {
	ConversationID int64      `json:"conversation_id" db:"conversation_id"`
	UserID         int64      `json:"user_id" db:"user_id"`
	UnreadCount    int        `json:"unread_count" db:"unread_count"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty" db:"last_read_at"`
	IsArchived     bool       `json:"is_archived" db:"is_archived"`
	IsMuted        bool       `json:"is_muted" db:"is_muted"`
	JoinedAt       time.Time  `json:"joined_at" db:"joined_at"`
}

// Message is a single entry in a conversation
type Message struct {
	ID              int64       `json:"id" db:"id"`
	ConversationID  int64       `json:"conversation_id" db:"conversation_id"`
	SenderID        int64       `json:"sender_id" db:"sender_id"`
	ReceiverID      int64       `json:"receiver_id" db:"receiver_id"`
	Content         string      `json:"content" db:"content"`
	Type            string      `json:"type" db:"type"`
	Attachments     Attachments `json:"attachments,omitempty" db:"attachments"`
	IsRead          bool        `json:"is_read" db:"is_read"`
	ReadAt          *time.Time  `json:"read_at,omitempty" db:"read_at"`
	IsEdited        bool        `json:"is_edited" db:"is_edited"`
	EditedAt        *time.Time  `json:"edited_at,omitempty" db:"edited_at"`
	OriginalContent *string     `json:"original_content,omitempty" db:"original_content"`
	IsDeleted       bool        `json:"is_deleted" db:"is_deleted"`
	DeletedAt       *time.Time  `json:"deleted_at,omitempty" db:"deleted_at"`
	DeletedBy       *int64      `json:"deleted_by,omitempty" db:"deleted_by"`
	SystemData      *SystemData `json:"system_data,omitempty" db:"system_data"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
}

// Attachment describes a file attached to a message. The bytes themselves
// live in external storage; messages only carry the metadata.
type Attachment struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

// Attachments is stored as a JSONB column
type Attachments []Attachment

func (a Attachments) Value() (driver.Value, error) {
	if len(a) == 0 {
		return nil, nil
	}
	return json.Marshal(a)
}

func (a *Attachments) Scan(src interface{}) error {
	if src == nil {
		*a = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return errors.New("attachments: unsupported scan source")
	}
	return json.Unmarshal(b, a)
}

// SystemData carries the action tag and payload of system messages. It is
// present only when the message type is "system".
type SystemData struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (s *SystemData) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

func (s *SystemData) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return errors.New("system_data: unsupported scan source")
	}
	return json.Unmarshal(b, s)
}

// Request DTOs

type CreateConversationRequest struct {
	ParticipantIDs []int64 `json:"participant_ids" validate:"required,min=1"`
	ServiceID      *int64  `json:"service_id,omitempty"`
}

type SendMessageRequest struct {
	ConversationID int64       `json:"conversation_id" validate:"required"`
	ReceiverID     int64       `json:"receiver_id" validate:"required"`
	Content        string      `json:"content" validate:"required"`
	Type           string      `json:"type" validate:"omitempty,oneof=text image file system"`
	Attachments    Attachments `json:"attachments,omitempty"`
	SystemData     *SystemData `json:"system_data,omitempty"`
}

type EditMessageRequest struct {
	Content string `json:"content" validate:"required"`
}
