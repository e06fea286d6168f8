package messaging

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mk, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mk
}

func TestFindConversationByParticipantsSkipsClosedConversations(t *testing.T) {
	db, mk := newMockDB(t)
	repo := NewPostgresRepository(db)

	// Only active conversations are candidates for reuse; a closed one must
	// fall through so the caller creates a fresh conversation.
	mk.ExpectQuery(`SELECT c\.id\s+FROM conversations c(?s:.*)c\.is_active = true`).
		WillReturnError(sql.ErrNoRows)

	conv, err := repo.FindConversationByParticipants(context.Background(), []int64{1, 2}, nil)

	require.NoError(t, err)
	assert.Nil(t, conv)
	assert.NoError(t, mk.ExpectationsWereMet())
}

func TestUpdateMessageContentRejectsConcurrentDelete(t *testing.T) {
	db, mk := newMockDB(t)
	repo := NewPostgresRepository(db)

	// The guarded update misses because a delete landed first
	mk.ExpectExec(`UPDATE messages(?s:.*)is_deleted = false`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mk.ExpectQuery(`SELECT is_deleted FROM messages WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"is_deleted"}).AddRow(true))

	err := repo.UpdateMessageContent(context.Background(), &Message{ID: 55, Content: "edited"})

	assert.ErrorIs(t, err, ErrMessageDeleted)
	assert.NoError(t, mk.ExpectationsWereMet())
}

func TestUpdateMessageContentReportsMissingMessage(t *testing.T) {
	db, mk := newMockDB(t)
	repo := NewPostgresRepository(db)

	mk.ExpectExec(`UPDATE messages(?s:.*)is_deleted = false`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mk.ExpectQuery(`SELECT is_deleted FROM messages WHERE id = \$1`).
		WillReturnError(sql.ErrNoRows)

	err := repo.UpdateMessageContent(context.Background(), &Message{ID: 56, Content: "edited"})

	assert.ErrorIs(t, err, ErrMessageNotFound)
	assert.NoError(t, mk.ExpectationsWereMet())
}
