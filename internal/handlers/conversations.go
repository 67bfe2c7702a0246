package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"recruit-chat/internal/apperr"
	"recruit-chat/internal/models"
	"recruit-chat/internal/repositories"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

var (
	errInvalidLimit  = apperr.InvalidArg("invalid limit")
	errInvalidBefore = apperr.InvalidArg("invalid before timestamp")
)

// ConversationHandler serves the reconnect-and-refetch endpoints.
type ConversationHandler struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(conversations repositories.ConversationRepository, messages repositories.MessageRepository) *ConversationHandler {
	return &ConversationHandler{conversations: conversations, messages: messages}
}

type conversationResponse struct {
	ID            string     `json:"id"`
	ApplicationID *string    `json:"applicationId"`
	Title         string     `json:"title"`
	IsGroup       bool       `json:"isGroup"`
	LastMessageAt *time.Time `json:"lastMessageAt"`
	UnreadCount   int        `json:"unreadCount"`
	LastReadAt    *time.Time `json:"lastReadAt"`
}

// ListConversations returns the caller's conversations, most recent first.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID := c.GetString("userID")

	list, err := h.conversations.ListForUser(c.Request.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("request_id", requestIDFromContext(c)).Msg("list conversations failed")
		writeError(c, apperr.Wrap(apperr.CodeInternal, "failed to load conversations", err))
		return
	}

	responses := make([]conversationResponse, 0, len(list))
	for _, s := range list {
		s := s
		resp := conversationResponse{
			ID:          s.ID,
			Title:       s.Title,
			IsGroup:     s.IsGroup,
			UnreadCount: s.UnreadCount,
		}
		if s.ApplicationID.Valid {
			resp.ApplicationID = &s.ApplicationID.String
		}
		if s.LastMessageAt.Valid {
			t := s.LastMessageAt.Time
			resp.LastMessageAt = &t
		}
		if s.LastReadAt.Valid {
			t := s.LastReadAt.Time
			resp.LastReadAt = &t
		}
		responses = append(responses, resp)
	}

	c.JSON(http.StatusOK, gin.H{"conversations": responses})
}

// ListMessages returns a page of messages, newest first, for a conversation the caller participates in.
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	userID := c.GetString("userID")
	conversationID := c.Param("conversation_id")

	limit := defaultMessageLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(c, errInvalidLimit)
			return
		}
		limit = min(n, maxMessageLimit)
	}

	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(c, errInvalidBefore)
			return
		}
		before = &t
	}

	ctx := c.Request.Context()
	if _, err := h.conversations.GetConversation(ctx, conversationID); err != nil {
		if errors.Is(err, repositories.ErrConversationNotFound) {
			writeError(c, apperr.ErrConversationNotFound)
			return
		}
		writeError(c, apperr.Wrap(apperr.CodeInternal, "failed to load conversation", err))
		return
	}

	member, err := h.conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		writeError(c, apperr.Wrap(apperr.CodeInternal, "failed to check membership", err))
		return
	}
	if !member {
		writeError(c, apperr.ErrNotParticipant)
		return
	}

	msgs, err := h.messages.ListMessages(ctx, conversationID, before, limit)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID).Str("request_id", requestIDFromContext(c)).Msg("list messages failed")
		writeError(c, apperr.Wrap(apperr.CodeInternal, "failed to load messages", err))
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// writeError maps err's code to an HTTP status and writes its client message.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.CodeOf(err) {
	case apperr.CodeInvalidArgument:
		status = http.StatusBadRequest
	case apperr.CodeNotFound:
		status = http.StatusNotFound
	case apperr.CodeUnauthenticated:
		status = http.StatusUnauthorized
	case apperr.CodeForbidden:
		status = http.StatusForbidden
	}
	c.JSON(status, gin.H{"error": apperr.MessageOf(err)})
}
