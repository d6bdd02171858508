package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateConversation creates a conversation for a user
func (s *PostgresStore) CreateConversation(ctx context.Context, userID, title string) (*Conversation, error) {
	if title == "" {
		title = "New Chat"
	}

	query := `
		INSERT INTO chat_conversations (id, user_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	conv := &Conversation{UserID: userID, Title: title}
	err := s.db.QueryRowContext(ctx, query, uuid.NewString(), userID, title).
		Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	return conv, nil
}

// GetConversation retrieves a conversation owned by the user
func (s *PostgresStore) GetConversation(ctx context.Context, userID, conversationID string) (*Conversation, error) {
	query := `
		SELECT id, user_id, title, created_at, updated_at
		FROM chat_conversations
		WHERE id = $1 AND user_id = $2
	`
	conv := &Conversation{}
	err := s.db.QueryRowContext(ctx, query, conversationID, userID).Scan(
		&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return conv, nil
}

// ListConversations lists a user's conversations, most recently active first
func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	query := `
		SELECT id, user_id, title, created_at, updated_at
		FROM chat_conversations
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv := &Conversation{}
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}

	return convs, nil
}

// DeleteConversation deletes a conversation owned by the user. Messages go
// with it via the foreign key cascade.
func (s *PostgresStore) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	query := `DELETE FROM chat_conversations WHERE id = $1 AND user_id = $2`
	result, err := s.db.ExecContext(ctx, query, conversationID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateConversationTitle renames a conversation owned by the user
func (s *PostgresStore) UpdateConversationTitle(ctx context.Context, userID, conversationID, title string) error {
	query := `
		UPDATE chat_conversations
		SET title = $1, updated_at = NOW()
		WHERE id = $2 AND user_id = $3
	`
	result, err := s.db.ExecContext(ctx, query, title, conversationID, userID)
	if err != nil {
		return fmt.Errorf("failed to update conversation title: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// ListMessages lists a conversation's messages in chronological order
func (s *PostgresStore) ListMessages(ctx context.Context, userID, conversationID string) ([]*Message, error) {
	// Ownership check first so a foreign conversation reads as missing
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, conversation_id, role, content, used_tools, created_at
		FROM chat_messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg := &Message{}
		var usedToolsJSON []byte
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
			&usedToolsJSON, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if len(usedToolsJSON) > 0 {
			if err := json.Unmarshal(usedToolsJSON, &msg.UsedTools); err != nil {
				return nil, fmt.Errorf("failed to unmarshal used tools: %w", err)
			}
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return msgs, nil
}

// SaveMessage appends a message to a conversation owned by the user and
// bumps the conversation's updated_at
func (s *PostgresStore) SaveMessage(ctx context.Context, userID string, msg *Message) (*Message, error) {
	if _, err := s.GetConversation(ctx, userID, msg.ConversationID); err != nil {
		return nil, err
	}
	if !msg.Role.IsValid() {
		return nil, fmt.Errorf("invalid message role %q", msg.Role)
	}

	var usedToolsJSON []byte
	if len(msg.UsedTools) > 0 {
		var err error
		usedToolsJSON, err = json.Marshal(msg.UsedTools)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal used tools: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO chat_messages (id, conversation_id, role, content, used_tools, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, created_at
	`
	err = tx.QueryRowContext(ctx, query, uuid.NewString(), msg.ConversationID,
		msg.Role, msg.Content, usedToolsJSON).
		Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	touch := `UPDATE chat_conversations SET updated_at = NOW() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, touch, msg.ConversationID); err != nil {
		return nil, fmt.Errorf("failed to touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}

	return msg, nil
}
