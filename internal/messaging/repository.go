// internal/messaging/repository.go

package messaging

import "context"

// Repository is the persistence boundary for conversations and messages.
// Multi-row effects (message creation, read marking) are transactional so
// counters and flags never drift from the rows they summarize.
type Repository interface {
	// CreateConversation inserts the conversation and one participant row per
	// member in a single transaction.
	CreateConversation(ctx context.Context, serviceID *int64, participantIDs []int64) (*Conversation, error)

	// GetConversation loads a conversation with its participant states.
	GetConversation(ctx context.Context, id int64) (*Conversation, error)

	// FindConversationByParticipants looks up an active conversation whose
	// participant set equals the given set and whose service anchor matches.
	// Deactivated conversations never match, so get-or-create starts a fresh
	// one after a close. Returns (nil, nil) when no such conversation exists.
	FindConversationByParticipants(ctx context.Context, participantIDs []int64, serviceID *int64) (*Conversation, error)

	// GetUserConversations lists the user's conversations, newest activity
	// first. Archived conversations are excluded unless includeArchived is set.
	GetUserConversations(ctx context.Context, userID int64, limit, offset int, includeArchived bool) ([]*Conversation, error)

	GetParticipants(ctx context.Context, conversationID int64) ([]*ParticipantState, error)
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
	SetArchived(ctx context.Context, conversationID, userID int64, archived bool) error
	SetMuted(ctx context.Context, conversationID, userID int64, muted bool) error
	DeactivateConversation(ctx context.Context, id int64) error

	// CreateMessage inserts the message, moves the conversation's
	// last_message_id forward and increments the receiver's unread count, all
	// in one transaction.
	CreateMessage(ctx context.Context, msg *Message) error

	GetMessage(ctx context.Context, id int64) (*Message, error)

	// GetConversationMessages pages through a conversation's messages, newest
	// first. Deleted messages appear with their placeholder content unless
	// excludeDeleted is set.
	GetConversationMessages(ctx context.Context, conversationID int64, limit, offset int, excludeDeleted bool) ([]*Message, error)

	// MarkConversationRead flags the user's unread messages as read and resets
	// the unread counter in one transaction. Returns the number of messages
	// flagged.
	MarkConversationRead(ctx context.Context, conversationID, userID int64) (int64, error)

	// UpdateMessageContent persists an edit: content, edit flags and the
	// preserved original content.
	UpdateMessageContent(ctx context.Context, msg *Message) error

	// MarkMessageDeleted replaces the content with the deletion placeholder
	// and stamps the tombstone fields.
	MarkMessageDeleted(ctx context.Context, messageID, deletedBy int64) error
}
