package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/lumenchat/lumenchat/pkg/chat"
	"github.com/lumenchat/lumenchat/pkg/httputil"
	"github.com/lumenchat/lumenchat/pkg/middleware"
	"github.com/lumenchat/lumenchat/pkg/observability"
)

// ChatHandlers handles conversation CRUD and message sending
type ChatHandlers struct {
	service *chat.Service
	store   chat.Store
	logger  *observability.Logger
}

// NewChatHandlers creates a new ChatHandlers
func NewChatHandlers(service *chat.Service, store chat.Store, logger *observability.Logger) *ChatHandlers {
	return &ChatHandlers{
		service: service,
		store:   store,
		logger:  logger,
	}
}

// RegisterRoutes registers chat routes
func (h *ChatHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/chat/conversations", h.CreateConversation).Methods("POST")
	router.HandleFunc("/chat/conversations", h.ListConversations).Methods("GET")
	router.HandleFunc("/chat/conversations/{id}", h.GetConversation).Methods("GET")
	router.HandleFunc("/chat/conversations/{id}", h.RenameConversation).Methods("PATCH")
	router.HandleFunc("/chat/conversations/{id}", h.DeleteConversation).Methods("DELETE")
	router.HandleFunc("/chat/conversations/{id}/messages", h.ListMessages).Methods("GET")
	router.HandleFunc("/chat/messages", h.SendMessage).Methods("POST")
}

// CreateConversation starts a new conversation
func (h *ChatHandlers) CreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	conv, err := h.store.CreateConversation(r.Context(), userID, req.Title)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", userID).Error("Failed to create conversation")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteCreated(w, conv)
}

// ListConversations lists the user's conversations, most recent first
func (h *ChatHandlers) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	convs, err := h.store.ListConversations(r.Context(), userID)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", userID).Error("Failed to list conversations")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": convs,
	})
}

// GetConversation returns one conversation record
func (h *ChatHandlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	conversationID := mux.Vars(r)["id"]

	conv, err := h.store.GetConversation(r.Context(), userID, conversationID)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			httputil.WriteNotFoundError(w, "conversation not found")
			return
		}
		h.logger.WithError(err).WithField("conversation_id", conversationID).Error("Failed to load conversation")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, conv)
}

// RenameConversation updates a conversation title
func (h *ChatHandlers) RenameConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	conversationID := mux.Vars(r)["id"]

	var req struct {
		Title string `json:"title"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		httputil.WriteBadRequest(w, "title is required")
		return
	}

	if err := h.store.UpdateConversationTitle(r.Context(), userID, conversationID, req.Title); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			httputil.WriteNotFoundError(w, "conversation not found")
			return
		}
		h.logger.WithError(err).WithField("conversation_id", conversationID).Error("Failed to rename conversation")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteNoContent(w)
}

// DeleteConversation deletes a conversation and its messages
func (h *ChatHandlers) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	conversationID := mux.Vars(r)["id"]

	if err := h.store.DeleteConversation(r.Context(), userID, conversationID); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			httputil.WriteNotFoundError(w, "conversation not found")
			return
		}
		h.logger.WithError(err).WithField("conversation_id", conversationID).Error("Failed to delete conversation")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteNoContent(w)
}

// ListMessages returns a conversation's messages in order
func (h *ChatHandlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	conversationID := mux.Vars(r)["id"]

	messages, err := h.store.ListMessages(r.Context(), userID, conversationID)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			httputil.WriteNotFoundError(w, "conversation not found")
			return
		}
		h.logger.WithError(err).WithField("conversation_id", conversationID).Error("Failed to list messages")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
	})
}

type sendMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
	Stream         bool   `json:"stream"`
}

// SendMessage sends a user message through the quota gate and the completion
// backend. With stream=true the answer arrives as server-sent events; the
// final event carries the persisted messages. A quota rejection is a 402 in
// both modes and streams nothing.
func (h *ChatHandlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req sendMessageRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.ConversationID == "" {
		httputil.WriteBadRequest(w, "conversation_id is required")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		httputil.WriteBadRequest(w, "message is required")
		return
	}

	if req.Stream {
		h.sendStreaming(w, r, userID, req)
		return
	}

	result, err := h.service.Send(r.Context(), userID, req.ConversationID, req.Message, nil)
	if err != nil {
		h.writeSendError(w, req.ConversationID, err)
		return
	}
	if result.Rejected() {
		httputil.WriteJSON(w, http.StatusPaymentRequired, result)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}

// streamEvent is one server-sent event frame on the message stream
type streamEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

func (h *ChatHandlers) sendStreaming(w http.ResponseWriter, r *http.Request, userID string, req sendMessageRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Headers are deferred until the gate decision so a rejection can still
	// be a plain 402 JSON response.
	var started bool
	writeEvent := func(ev streamEvent) {
		if !started {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			started = true
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		w.Write([]byte("data: "))
		w.Write(data)
		w.Write([]byte("\n\n"))
		flusher.Flush()
	}

	result, err := h.service.Send(r.Context(), userID, req.ConversationID, req.Message, func(token string) {
		writeEvent(streamEvent{Event: "token", Data: token})
	})
	if err != nil {
		if started {
			writeEvent(streamEvent{Event: "error", Data: "completion failed"})
			return
		}
		h.writeSendError(w, req.ConversationID, err)
		return
	}
	if result.Rejected() {
		httputil.WriteJSON(w, http.StatusPaymentRequired, result)
		return
	}

	writeEvent(streamEvent{Event: "end", Data: result})
}

func (h *ChatHandlers) writeSendError(w http.ResponseWriter, conversationID string, err error) {
	if errors.Is(err, chat.ErrNotFound) {
		httputil.WriteNotFoundError(w, "conversation not found")
		return
	}
	h.logger.WithError(err).WithField("conversation_id", conversationID).Error("Failed to send message")
	httputil.WriteInternalError(w)
}
