package messaging

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"recruit-chat/internal/apperr"
	"recruit-chat/internal/models"
	"recruit-chat/internal/observability"
	"recruit-chat/internal/repositories"
)

var errAttachmentURLRequired = apperr.InvalidArg("attachment url required")

// SendRequest is a validated chat:send for a resolved conversation.
type SendRequest struct {
	ID             string
	ConversationID string
	SenderID       string
	Text           *string
	CreatedAt      *time.Time
	Attachments    []models.AttachmentInput
}

// MessageCreated is published after a new message commits.
type MessageCreated struct {
	MessageID       string    `json:"message_id"`
	ConversationID  string    `json:"conversation_id"`
	SenderID        string    `json:"sender_id"`
	Type            string    `json:"type"`
	CreatedAt       time.Time `json:"created_at"`
	AttachmentCount int       `json:"attachment_count"`
}

// MessagesRead is published after a read batch commits.
type MessagesRead struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	MessageIDs     []string  `json:"message_ids"`
	ReadAt         time.Time `json:"read_at"`
}

// Service implements message persistence and read receipts on top of the repositories.
type Service struct {
	messages repositories.MessageRepository
	receipts repositories.ReceiptRepository
	now      func() time.Time
}

func NewService(messages repositories.MessageRepository, receipts repositories.ReceiptRepository) *Service {
	return &Service{
		messages: messages,
		receipts: receipts,
		now:      time.Now,
	}
}

// Send persists a message idempotently by its id. created is false for a
// re-send of a known id; the stored message is returned either way.
func (s *Service) Send(ctx context.Context, req SendRequest) (models.Message, bool, error) {
	in, err := s.newMessage(req)
	if err != nil {
		return models.Message{}, false, err
	}

	msg, created, err := s.messages.SaveMessage(ctx, in)
	if err != nil {
		observability.IncMessage("failed")
		log.Error().Err(err).
			Str("message_id", in.ID).
			Str("conversation_id", in.ConversationID).
			Msg("save message failed")
		return models.Message{}, false, apperr.ErrSendFailed(err)
	}

	if !created {
		observability.IncMessage("duplicate")
		return msg, false, nil
	}

	observability.IncMessage("created")
	event := MessageCreated{
		MessageID:       msg.ID,
		ConversationID:  msg.ConversationID,
		SenderID:        msg.SenderID,
		Type:            string(msg.Type),
		CreatedAt:       msg.CreatedAt,
		AttachmentCount: len(msg.Attachments),
	}
	if err := observability.PublishEvent(ctx, observability.RoutingMessageCreated, "message_created", event); err != nil {
		log.Warn().Err(err).Str("message_id", msg.ID).Msg("publish message_created failed")
	}
	return msg, true, nil
}

func (s *Service) newMessage(req SendRequest) (models.NewMessage, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return models.NewMessage{}, apperr.ErrMessageIDRequired
	}
	if req.ConversationID == "" {
		return models.NewMessage{}, apperr.ErrConversationNotFound
	}
	if req.SenderID == "" {
		return models.NewMessage{}, apperr.ErrUnauthorized
	}

	var content string
	if req.Text != nil {
		content = *req.Text
	}
	if strings.TrimSpace(content) == "" && len(req.Attachments) == 0 {
		return models.NewMessage{}, apperr.ErrEmptyMessage
	}
	for _, a := range req.Attachments {
		if strings.TrimSpace(a.URL) == "" {
			return models.NewMessage{}, errAttachmentURLRequired
		}
	}

	createdAt := s.now().UTC()
	if req.CreatedAt != nil && !req.CreatedAt.IsZero() {
		createdAt = req.CreatedAt.UTC()
	}

	return models.NewMessage{
		ID:             id,
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		Content:        content,
		CreatedAt:      createdAt,
		Attachments:    req.Attachments,
	}, nil
}

// MarkRead records reads of messageIDs by userID. Unknown ids are dropped;
// the returned batches hold the known ids grouped by conversation.
func (s *Service) MarkRead(ctx context.Context, userID string, messageIDs []string) ([]models.ReadBatch, error) {
	if userID == "" {
		return nil, apperr.ErrUnauthorized
	}
	ids := dedupe(messageIDs)
	if len(ids) == 0 {
		return nil, nil
	}

	batches, err := s.receipts.MarkRead(ctx, userID, ids)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Int("ids", len(ids)).Msg("mark read failed")
		return nil, apperr.ErrReadFailed(err)
	}

	readAt := s.now().UTC()
	for _, b := range batches {
		observability.AddReceipts(len(b.MessageIDs))
		event := MessagesRead{
			ConversationID: b.ConversationID,
			UserID:         userID,
			MessageIDs:     b.MessageIDs,
			ReadAt:         readAt,
		}
		if err := observability.PublishEvent(ctx, observability.RoutingMessagesRead, "messages_read", event); err != nil {
			log.Warn().Err(err).Str("conversation_id", b.ConversationID).Msg("publish messages_read failed")
		}
	}
	return batches, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
