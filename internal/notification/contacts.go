// internal/notification/contacts.go

package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Contact holds a user's reachable notification endpoints
type Contact struct {
	UserID     int64    `db:"user_id"`
	Email      string   `db:"email"`
	Phone      string   `db:"phone"`
	PushTokens []string `db:"-"`
}

// ContactStore looks up notification endpoints and manages device tokens
type ContactStore interface {
	GetContact(ctx context.Context, userID int64) (*Contact, error)
	SavePushToken(ctx context.Context, userID int64, token, platform string) error
	DeletePushToken(ctx context.Context, userID int64, token string) error
}

type postgresContactStore struct {
	db *sqlx.DB
}

// NewPostgresContactStore creates the Postgres-backed contact store
func NewPostgresContactStore(db *sqlx.DB) ContactStore {
	return &postgresContactStore{db: db}
}

func (s *postgresContactStore) GetContact(ctx context.Context, userID int64) (*Contact, error) {
	contact := &Contact{UserID: userID}
	err := s.db.QueryRowxContext(ctx, `
		SELECT COALESCE(email, ''), COALESCE(phone, '')
		FROM users
		WHERE id = $1
	`, userID).Scan(&contact.Email, &contact.Phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %d not found", userID)
		}
		return nil, fmt.Errorf("failed to load contact: %w", err)
	}

	err = s.db.SelectContext(ctx, &contact.PushTokens, `
		SELECT token FROM push_tokens WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load push tokens: %w", err)
	}
	return contact, nil
}

func (s *postgresContactStore) SavePushToken(ctx context.Context, userID int64, token, platform string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO push_tokens (user_id, token, platform, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (token) DO UPDATE SET user_id = $1, platform = $3, created_at = NOW()
	`, userID, token, platform)
	if err != nil {
		return fmt.Errorf("failed to save push token: %w", err)
	}
	return nil
}

func (s *postgresContactStore) DeletePushToken(ctx context.Context, userID int64, token string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM push_tokens WHERE user_id = $1 AND token = $2
	`, userID, token)
	if err != nil {
		return fmt.Errorf("failed to delete push token: %w", err)
	}
	return nil
}
