package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"recruit-chat/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	// SaveMessage persists msg atomically. created is false when a message
	// with the same id already existed, in which case the stored row is returned.
	SaveMessage(ctx context.Context, msg models.NewMessage) (saved models.Message, created bool, err error)
	ListMessages(ctx context.Context, conversationID string, before *time.Time, limit int) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, conversation_id, sender_id, content, type, created_at`

// SaveMessage stores a message, its attachments and the sender's self-read, bumps
// conversation recency and adjusts unread counters, all in one transaction.
func (r *MessageRepo) SaveMessage(ctx context.Context, in models.NewMessage) (msg models.Message, created bool, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	err = tx.GetContext(ctx, &msg, `INSERT INTO messages (id, conversation_id, sender_id, content, type, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (id) DO NOTHING
        RETURNING `+messageColumns,
		in.ID, in.ConversationID, in.SenderID, in.Content, string(in.Type()), in.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		msg, err = r.resend(ctx, tx, in)
		if err != nil {
			return models.Message{}, false, err
		}
		if err = tx.Commit(); err != nil {
			return models.Message{}, false, err
		}
		return msg, false, nil
	}
	if err != nil {
		return models.Message{}, false, fmt.Errorf("insert message: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `UPDATE conversations
        SET last_message_at = GREATEST(COALESCE(last_message_at, $2), $2), updated_at = NOW()
        WHERE id=$1`, msg.ConversationID, msg.CreatedAt); err != nil {
		return models.Message{}, false, fmt.Errorf("bump conversation: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO participants (conversation_id, user_id, last_read_at, unread_count)
        VALUES ($1, $2, NOW(), 0)
        ON CONFLICT (conversation_id, user_id) DO UPDATE SET unread_count = 0, unread_since = NOW(), last_read_at = NOW(), updated_at = NOW()`,
		msg.ConversationID, msg.SenderID); err != nil {
		return models.Message{}, false, fmt.Errorf("reset sender unread: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `UPDATE participants SET unread_count = unread_count + 1, updated_at = NOW()
        WHERE conversation_id=$1 AND user_id<>$2`, msg.ConversationID, msg.SenderID); err != nil {
		return models.Message{}, false, fmt.Errorf("increment unread: %w", err)
	}

	msg.Attachments = make([]models.Attachment, 0, len(in.Attachments))
	for i, a := range in.Attachments {
		var att models.Attachment
		if err = tx.GetContext(ctx, &att, `INSERT INTO attachments (id, message_id, position, url, mime_type, size, name)
            VALUES ($1, $2, $3, $4, $5, $6, $7)
            RETURNING id, message_id, url, mime_type, size, name`,
			uuid.NewString(), msg.ID, i, a.URL, a.MimeType, a.Size, a.Name); err != nil {
			return models.Message{}, false, fmt.Errorf("insert attachment: %w", err)
		}
		msg.Attachments = append(msg.Attachments, att)
	}

	if err = upsertRead(ctx, tx, msg.SenderID, []string{msg.ID}); err != nil {
		return models.Message{}, false, err
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, false, err
	}
	return msg, true, nil
}

// resend handles a repeated id: the stored message is returned and the sender's read refreshed.
func (r *MessageRepo) resend(ctx context.Context, tx *sqlx.Tx, in models.NewMessage) (models.Message, error) {
	msg, err := getMessage(ctx, tx, in.ID)
	if err != nil {
		return models.Message{}, fmt.Errorf("load existing message: %w", err)
	}
	if err := upsertRead(ctx, tx, in.SenderID, []string{msg.ID}); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// getMessage loads a single message with its attachments.
func getMessage(ctx context.Context, q sqlx.QueryerContext, id string) (models.Message, error) {
	var msg models.Message
	err := sqlx.GetContext(ctx, q, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	msgs := []models.Message{msg}
	if err := loadAttachments(ctx, q, msgs); err != nil {
		return models.Message{}, err
	}
	return msgs[0], nil
}

// ListMessages returns messages newest first, optionally older than before.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID string, before *time.Time, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	var msgs []models.Message
	var err error
	if before != nil {
		err = r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
            WHERE conversation_id=$1 AND created_at < $2 ORDER BY created_at DESC LIMIT $3`, conversationID, *before, limit)
	} else {
		err = r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
            WHERE conversation_id=$1 ORDER BY created_at DESC LIMIT $2`, conversationID, limit)
	}
	if err != nil {
		return nil, err
	}
	if err := loadAttachments(ctx, r.db, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func loadAttachments(ctx context.Context, q sqlx.QueryerContext, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(msgs))
	index := make(map[string]int, len(msgs))
	for i := range msgs {
		ids = append(ids, msgs[i].ID)
		index[msgs[i].ID] = i
		msgs[i].Attachments = []models.Attachment{}
	}

	var atts []models.Attachment
	if err := sqlx.SelectContext(ctx, q, &atts, `SELECT id, message_id, url, mime_type, size, name
        FROM attachments WHERE message_id = ANY($1) ORDER BY message_id, position`, pq.Array(ids)); err != nil {
		return fmt.Errorf("load attachments: %w", err)
	}
	for _, a := range atts {
		i := index[a.MessageID]
		msgs[i].Attachments = append(msgs[i].Attachments, a)
	}
	return nil
}

func upsertRead(ctx context.Context, e sqlx.ExecerContext, userID string, messageIDs []string) error {
	_, err := e.ExecContext(ctx, `INSERT INTO message_reads (message_id, user_id, read_at)
        SELECT unnest($1::text[]), $2, NOW()
        ON CONFLICT (message_id, user_id) DO UPDATE SET read_at = EXCLUDED.read_at`, pq.Array(messageIDs), userID)
	if err != nil {
		return fmt.Errorf("upsert read: %w", err)
	}
	return nil
}
