package chat

import (
	"context"
	"fmt"

	"github.com/lumenchat/lumenchat/pkg/observability"
	"github.com/lumenchat/lumenchat/pkg/usage"
)

// Completer generates answers from conversation history. FlowiseClient is
// the real implementation.
type Completer interface {
	Predict(ctx context.Context, messages []*Message) (*Prediction, error)
	PredictStream(ctx context.Context, messages []*Message, onToken func(token string)) (*Prediction, error)
}

// SendResult is the outcome of sending one message. When the usage gate
// rejects, Decision carries the refusal and both message fields are nil.
type SendResult struct {
	Decision  usage.Decision `json:"decision"`
	UserMsg   *Message       `json:"user_message,omitempty"`
	Assistant *Message       `json:"assistant_message,omitempty"`
}

// Rejected reports whether the usage gate refused the send
func (r *SendResult) Rejected() bool {
	return !r.Decision.Allowed
}

// Service coordinates the send path: quota gate, completion call, persistence
type Service struct {
	store     Store
	completer Completer
	gate      *usage.Gate
	logger    *observability.Logger
}

// NewService creates a chat Service
func NewService(store Store, completer Completer, gate *usage.Gate, logger *observability.Logger) *Service {
	return &Service{
		store:     store,
		completer: completer,
		gate:      gate,
		logger:    logger,
	}
}

// Send consumes quota, generates an answer, and persists both sides of the
// exchange. The gate runs first: a rejected send stores nothing and never
// reaches the completion backend. onToken, when non-nil, receives answer
// tokens as they stream in.
func (s *Service) Send(ctx context.Context, userID, conversationID, text string, onToken func(token string)) (*SendResult, error) {
	if text == "" {
		return nil, fmt.Errorf("message text must be non-empty")
	}

	history, err := s.store.ListMessages(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	decision, err := s.gate.TryConsumeMessage(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return &SendResult{Decision: decision}, nil
	}

	question := &Message{
		ConversationID: conversationID,
		Role:           RoleUser,
		Content:        text,
	}
	thread := append(history, question)

	var prediction *Prediction
	if onToken != nil {
		prediction, err = s.completer.PredictStream(ctx, thread, onToken)
	} else {
		prediction, err = s.completer.Predict(ctx, thread)
	}
	if err != nil {
		// Quota was consumed but no answer was produced. The unit is not
		// refunded; the provider call is the expensive part being metered.
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	userMsg, err := s.store.SaveMessage(ctx, userID, question)
	if err != nil {
		return nil, err
	}

	answer := &Message{
		ConversationID: conversationID,
		Role:           RoleAssistant,
		Content:        prediction.Text,
		UsedTools:      prediction.UsedTools,
	}
	assistant, err := s.store.SaveMessage(ctx, userID, answer)
	if err != nil {
		return nil, err
	}

	return &SendResult{
		Decision:  decision,
		UserMsg:   userMsg,
		Assistant: assistant,
	}, nil
}
