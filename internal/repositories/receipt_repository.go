package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"recruit-chat/internal/models"
)

// ReceiptRepository persists read receipts and maintains unread counters.
type ReceiptRepository interface {
	MarkRead(ctx context.Context, userID string, messageIDs []string) ([]models.ReadBatch, error)
	ReconcileUnread(ctx context.Context) (int64, error)
}

// ReceiptRepo is a sqlx implementation of ReceiptRepository.
type ReceiptRepo struct {
	db *sqlx.DB
}

// NewReceiptRepo constructs a ReceiptRepo.
func NewReceiptRepo(db *sqlx.DB) *ReceiptRepo {
	return &ReceiptRepo{db: db}
}

// MarkRead records reads for the known ids and zeroes the user's unread counter in
// every conversation touched. Unknown ids are dropped; an empty result writes nothing.
func (r *ReceiptRepo) MarkRead(ctx context.Context, userID string, messageIDs []string) (batches []models.ReadBatch, err error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil || len(batches) == 0 {
			tx.Rollback()
		}
	}()

	var rows []struct {
		ID             string `db:"id"`
		ConversationID string `db:"conversation_id"`
	}
	if err = tx.SelectContext(ctx, &rows, `SELECT id, conversation_id FROM messages WHERE id = ANY($1)`, pq.Array(messageIDs)); err != nil {
		return nil, fmt.Errorf("lookup messages: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	owner := make(map[string]string, len(rows))
	for _, row := range rows {
		owner[row.ID] = row.ConversationID
	}

	// keep the caller's ordering; skip unknown and repeated ids
	known := make([]string, 0, len(rows))
	byConversation := map[string]int{}
	seen := map[string]struct{}{}
	for _, id := range messageIDs {
		convID, ok := owner[id]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		known = append(known, id)

		i, ok := byConversation[convID]
		if !ok {
			i = len(batches)
			byConversation[convID] = i
			batches = append(batches, models.ReadBatch{ConversationID: convID})
		}
		batches[i].MessageIDs = append(batches[i].MessageIDs, id)
	}

	if err = upsertRead(ctx, tx, userID, known); err != nil {
		return nil, err
	}

	convIDs := make([]string, 0, len(batches))
	for _, b := range batches {
		convIDs = append(convIDs, b.ConversationID)
	}
	if _, err = tx.ExecContext(ctx, `UPDATE participants SET unread_count = 0, unread_since = NOW(), last_read_at = NOW(), updated_at = NOW()
        WHERE user_id=$1 AND conversation_id = ANY($2)`, userID, pq.Array(convIDs)); err != nil {
		return nil, fmt.Errorf("reset unread: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return batches, nil
}

// ReconcileUnread recomputes every participant's unread counter from the messages
// of others created since the counter was last reset, one conversation at a time,
// and returns the number of rows corrected.
func (r *ReceiptRepo) ReconcileUnread(ctx context.Context) (int64, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT id FROM conversations ORDER BY id`); err != nil {
		return 0, fmt.Errorf("list conversations: %w", err)
	}

	var fixed int64
	for _, id := range ids {
		n, err := r.reconcileConversation(ctx, id)
		if err != nil {
			return fixed, fmt.Errorf("reconcile unread %s: %w", id, err)
		}
		fixed += n
	}
	return fixed, nil
}

// reconcileConversation locks the conversation row and then its participants,
// the same order SaveMessage takes them, so no send can commit between the
// count and the write.
func (r *ReceiptRepo) reconcileConversation(ctx context.Context, conversationID string) (n int64, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT id FROM conversations WHERE id=$1 FOR UPDATE`, conversationID); err != nil {
		return 0, err
	}
	if _, err = tx.ExecContext(ctx, `SELECT user_id FROM participants WHERE conversation_id=$1 FOR UPDATE`, conversationID); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `UPDATE participants p
        SET unread_count = sub.cnt, updated_at = NOW()
        FROM (
            SELECT p2.user_id, COUNT(m.id) AS cnt
            FROM participants p2
            LEFT JOIN messages m ON m.conversation_id = p2.conversation_id
                AND m.sender_id <> p2.user_id
                AND m.created_at > p2.unread_since
            WHERE p2.conversation_id = $1
            GROUP BY p2.user_id
        ) sub
        WHERE p.conversation_id = $1
            AND p.user_id = sub.user_id
            AND p.unread_count <> sub.cnt`, conversationID)
	if err != nil {
		return 0, err
	}
	if n, err = res.RowsAffected(); err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}
