// internal/messaging/postgres.go

package messaging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type postgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates the Postgres-backed repository
func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) CreateConversation(ctx context.Context, serviceID *int64, participantIDs []int64) (*Conversation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	conv := &Conversation{}
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO conversations (service_id, is_active, created_at, updated_at)
		VALUES ($1, true, NOW(), NOW())
		RETURNING id, service_id, last_message_id, is_active, created_at, updated_at
	`, serviceID).StructScan(conv)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	for _, userID := range participantIDs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, unread_count, is_archived, is_muted, joined_at)
			VALUES ($1, $2, 0, false, false, NOW())
		`, conv.ID, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to add participant %d: %w", userID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit conversation: %w", err)
	}

	conv.Participants, err = r.GetParticipants(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *postgresRepository) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	conv := &Conversation{}
	err := r.db.GetContext(ctx, conv, `
		SELECT id, service_id, last_message_id, is_active, created_at, updated_at
		FROM conversations
		WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	conv.Participants, err = r.GetParticipants(ctx, id)
	if err != nil {
		return nil, err
	}

	if conv.LastMessageID != nil {
		msg, err := r.GetMessage(ctx, *conv.LastMessageID)
		if err == nil {
			conv.LastMessage = msg
		}
	}
	return conv, nil
}

func (r *postgresRepository) FindConversationByParticipants(ctx context.Context, participantIDs []int64, serviceID *int64) (*Conversation, error) {
	var id int64
	err := r.db.GetContext(ctx, &id, `
		SELECT c.id
		FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id
		WHERE cp.user_id = ANY($1)
		  AND c.is_active = true
		  AND (($2::bigint IS NULL AND c.service_id IS NULL) OR c.service_id = $2)
		GROUP BY c.id
		HAVING COUNT(DISTINCT cp.user_id) = $3
		   AND (SELECT COUNT(*) FROM conversation_participants p WHERE p.conversation_id = c.id) = $3
		ORDER BY c.id
		LIMIT 1
	`, pq.Array(participantIDs), serviceID, len(participantIDs))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}
	return r.GetConversation(ctx, id)
}

func (r *postgresRepository) GetUserConversations(ctx context.Context, userID int64, limit, offset int, includeArchived bool) ([]*Conversation, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT c.id, c.service_id, c.last_message_id, c.is_active, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id
		WHERE cp.user_id = $1
		  AND c.is_active = true
		  AND (cp.is_archived = false OR $2)
		ORDER BY c.updated_at DESC
		LIMIT $3 OFFSET $4
	`, userID, includeArchived, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	conversations := []*Conversation{}
	for rows.Next() {
		conv := &Conversation{}
		if err := rows.StructScan(conv); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, conv := range conversations {
		conv.Participants, err = r.GetParticipants(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		if conv.LastMessageID != nil {
			if msg, err := r.GetMessage(ctx, *conv.LastMessageID); err == nil {
				conv.LastMessage = msg
			}
		}
	}
	return conversations, nil
}

func (r *postgresRepository) GetParticipants(ctx context.Context, conversationID int64) ([]*ParticipantState, error) {
	participants := []*ParticipantState{}
	err := r.db.SelectContext(ctx, &participants, `
		SELECT conversation_id, user_id, unread_count, last_read_at, is_archived, is_muted, joined_at
		FROM conversation_participants
		WHERE conversation_id = $1
		ORDER BY user_id
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	return participants, nil
}

func (r *postgresRepository) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2
		)
	`, conversationID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to check participant: %w", err)
	}
	return exists, nil
}

func (r *postgresRepository) SetArchived(ctx context.Context, conversationID, userID int64, archived bool) error {
	return r.setParticipantFlag(ctx, "is_archived", conversationID, userID, archived)
}

func (r *postgresRepository) SetMuted(ctx context.Context, conversationID, userID int64, muted bool) error {
	return r.setParticipantFlag(ctx, "is_muted", conversationID, userID, muted)
}

func (r *postgresRepository) setParticipantFlag(ctx context.Context, column string, conversationID, userID int64, value bool) error {
	query := fmt.Sprintf(`
		UPDATE conversation_participants
		SET %s = $1
		WHERE conversation_id = $2 AND user_id = $3
	`, column)

	result, err := r.db.ExecContext(ctx, query, value, conversationID, userID)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", column, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotParticipant
	}
	return nil
}

func (r *postgresRepository) DeactivateConversation(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET is_active = false, updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate conversation: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (r *postgresRepository) CreateMessage(ctx context.Context, msg *Message) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, receiver_id, content, type, attachments, system_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id, created_at
	`, msg.ConversationID, msg.SenderID, msg.ReceiverID, msg.Content, msg.Type, msg.Attachments, msg.SystemData).
		Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET last_message_id = $1, updated_at = NOW() WHERE id = $2
	`, msg.ID, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to advance last message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversation_participants
		SET unread_count = unread_count + 1
		WHERE conversation_id = $1 AND user_id = $2
	`, msg.ConversationID, msg.ReceiverID)
	if err != nil {
		return fmt.Errorf("failed to increment unread count: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}

	messagesPersisted.Inc()
	return nil
}

func (r *postgresRepository) GetMessage(ctx context.Context, id int64) (*Message, error) {
	msg := &Message{}
	err := r.db.GetContext(ctx, msg, `
		SELECT id, conversation_id, sender_id, receiver_id, content, type, attachments,
		       is_read, read_at, is_edited, edited_at, original_content,
		       is_deleted, deleted_at, deleted_by, system_data, created_at
		FROM messages
		WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

func (r *postgresRepository) GetConversationMessages(ctx context.Context, conversationID int64, limit, offset int, excludeDeleted bool) ([]*Message, error) {
	messages := []*Message{}
	err := r.db.SelectContext(ctx, &messages, `
		SELECT id, conversation_id, sender_id, receiver_id, content, type, attachments,
		       is_read, read_at, is_edited, edited_at, original_content,
		       is_deleted, deleted_at, deleted_by, system_data, created_at
		FROM messages
		WHERE conversation_id = $1
		  AND (is_deleted = false OR NOT $4)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, conversationID, limit, offset, excludeDeleted)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

func (r *postgresRepository) MarkConversationRead(ctx context.Context, conversationID, userID int64) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	result, err := tx.ExecContext(ctx, `
		UPDATE messages
		SET is_read = true, read_at = $1
		WHERE conversation_id = $2 AND receiver_id = $3 AND is_read = false
	`, now, conversationID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	marked, _ := result.RowsAffected()

	_, err = tx.ExecContext(ctx, `
		UPDATE conversation_participants
		SET unread_count = 0, last_read_at = $1
		WHERE conversation_id = $2 AND user_id = $3
	`, now, conversationID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to reset unread count: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit read marking: %w", err)
	}
	return marked, nil
}

func (r *postgresRepository) UpdateMessageContent(ctx context.Context, msg *Message) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET content = $1, is_edited = $2, edited_at = $3, original_content = $4
		WHERE id = $5 AND is_deleted = false
	`, msg.Content, msg.IsEdited, msg.EditedAt, msg.OriginalContent, msg.ID)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// Distinguish a concurrent delete from a missing row
		var deleted bool
		if err := r.db.GetContext(ctx, &deleted, `SELECT is_deleted FROM messages WHERE id = $1`, msg.ID); err == nil && deleted {
			return ErrMessageDeleted
		}
		return ErrMessageNotFound
	}
	return nil
}

func (r *postgresRepository) MarkMessageDeleted(ctx context.Context, messageID, deletedBy int64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET content = $1, is_deleted = true, deleted_at = NOW(), deleted_by = $2, attachments = NULL
		WHERE id = $3 AND is_deleted = false
	`, DeletedPlaceholder, deletedBy, messageID)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrMessageDeleted
	}
	return nil
}
