package chat

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conversationRows(id, userID string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "user_id", "title", "created_at", "updated_at"}).
		AddRow(id, userID, "New Chat", now, now)
}

func TestChatStoreCreateConversation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO chat_conversations")).
		WithArgs(sqlmock.AnyArg(), "user-1", "New Chat").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow("conv-1", now, now))

	conv, err := store.CreateConversation(context.Background(), "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", conv.ID)
	assert.Equal(t, "New Chat", conv.Title, "empty titles get a default")
}

func TestChatStoreGetConversationNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM chat_conversations")).
		WithArgs("conv-1", "user-2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "created_at", "updated_at"}))

	_, err = store.GetConversation(context.Background(), "user-2", "conv-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChatStoreSaveMessage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM chat_conversations")).
		WithArgs("conv-1", "user-1").
		WillReturnRows(conversationRows("conv-1", "user-1"))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO chat_messages")).
		WithArgs(sqlmock.AnyArg(), "conv-1", RoleUser, "hello", nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("msg-1", now))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE chat_conversations SET updated_at")).
		WithArgs("conv-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	msg, err := store.SaveMessage(context.Background(), "user-1", &Message{
		ConversationID: "conv-1",
		Role:           RoleUser,
		Content:        "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", msg.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChatStoreSaveMessageOwnershipEnforced(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM chat_conversations")).
		WithArgs("conv-1", "user-2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "created_at", "updated_at"}))

	_, err = store.SaveMessage(context.Background(), "user-2", &Message{
		ConversationID: "conv-1",
		Role:           RoleUser,
		Content:        "hello",
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChatStoreDeleteConversationNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM chat_conversations")).
		WithArgs("conv-1", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.DeleteConversation(context.Background(), "user-1", "conv-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
