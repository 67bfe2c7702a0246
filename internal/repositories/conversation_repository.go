package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"recruit-chat/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

const uniqueViolation = "23505"

// ConversationRepository abstracts conversation and participant persistence.
type ConversationRepository interface {
	GetConversation(ctx context.Context, id string) (models.Conversation, error)
	FindByApplication(ctx context.Context, applicationID string) (models.Conversation, error)
	CreateForApplication(ctx context.Context, applicationID string, title string) (models.Conversation, error)
	UpsertParticipant(ctx context.Context, conversationID string, userID string) error
	IsParticipant(ctx context.Context, conversationID string, userID string) (bool, error)
	ListForUser(ctx context.Context, userID string) ([]models.ConversationSummary, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const conversationColumns = `id, application_id, title, is_group, last_message_at, created_at, updated_at`

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// FindByApplication returns the conversation tied to a recruitment application.
func (r *ConversationRepo) FindByApplication(ctx context.Context, applicationID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations
        WHERE application_id=$1 ORDER BY created_at ASC LIMIT 1`, applicationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// CreateForApplication creates the conversation for an application unless one exists.
// Concurrent callers converge on a single row through the unique index on application_id.
func (r *ConversationRepo) CreateForApplication(ctx context.Context, applicationID string, title string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `INSERT INTO conversations (id, application_id, title, is_group)
        VALUES ($1, $2, $3, FALSE)
        ON CONFLICT (application_id) WHERE application_id IS NOT NULL DO NOTHING
        RETURNING `+conversationColumns, uuid.NewString(), applicationID, title)
	if err == nil {
		return conv, nil
	}

	var pqErr *pq.Error
	if !errors.Is(err, sql.ErrNoRows) && !(errors.As(err, &pqErr) && pqErr.Code == uniqueViolation) {
		return models.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	// lost the race: another caller committed the row first
	return r.FindByApplication(ctx, applicationID)
}

// UpsertParticipant registers the user in the conversation or refreshes their last-read time.
func (r *ConversationRepo) UpsertParticipant(ctx context.Context, conversationID string, userID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO participants (conversation_id, user_id, last_read_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (conversation_id, user_id) DO UPDATE SET last_read_at = NOW(), updated_at = NOW()`,
		conversationID, userID)
	return err
}

// IsParticipant checks whether a user belongs to the conversation.
func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID string, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM participants WHERE conversation_id=$1 AND user_id=$2)`, conversationID, userID)
	return exists, err
}

// ListForUser returns the user's conversations, most recently active first.
func (r *ConversationRepo) ListForUser(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	var out []models.ConversationSummary
	err := r.db.SelectContext(ctx, &out, `SELECT c.id, c.application_id, c.title, c.is_group, c.last_message_at,
            p.unread_count, p.last_read_at
        FROM participants p
        JOIN conversations c ON c.id = p.conversation_id
        WHERE p.user_id=$1
        ORDER BY COALESCE(c.last_message_at, c.created_at) DESC`, userID)
	return out, err
}
