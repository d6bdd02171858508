package chat

import (
	"context"
	"errors"
	"time"
)

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// IsValid reports whether r is a known role
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ErrNotFound is returned when a conversation does not exist or belongs to
// another user
var ErrNotFound = errors.New("conversation not found")

// ToolInvocation records one tool call the completion backend made while
// answering
type ToolInvocation struct {
	Tool       string                 `json:"tool"`
	ToolInput  map[string]interface{} `json:"toolInput"`
	ToolOutput string                 `json:"toolOutput"`
}

// Message is one turn in a conversation
type Message struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Role           Role             `json:"role"`
	Content        string           `json:"content"`
	UsedTools      []ToolInvocation `json:"used_tools,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Conversation groups messages for one user
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store provides access to conversations and messages. Every operation is
// scoped to a user so one user can never read or write another's data.
type Store interface {
	CreateConversation(ctx context.Context, userID, title string) (*Conversation, error)
	GetConversation(ctx context.Context, userID, conversationID string) (*Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*Conversation, error)
	DeleteConversation(ctx context.Context, userID, conversationID string) error
	UpdateConversationTitle(ctx context.Context, userID, conversationID, title string) error

	ListMessages(ctx context.Context, userID, conversationID string) ([]*Message, error)
	SaveMessage(ctx context.Context, userID string, msg *Message) (*Message, error)
}
