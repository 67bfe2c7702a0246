package models

import (
	"database/sql"
	"time"
)

// Conversation is a durable thread, optionally tied to a recruitment application.
type Conversation struct {
	ID            string         `db:"id" json:"id"`
	ApplicationID sql.NullString `db:"application_id" json:"-"`
	Title         string         `db:"title" json:"title"`
	IsGroup       bool           `db:"is_group" json:"isGroup"`
	LastMessageAt sql.NullTime   `db:"last_message_at" json:"-"`
	CreatedAt     time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updatedAt"`
}

// Participant is a user's membership and read progress in a conversation.
type Participant struct {
	ConversationID string       `db:"conversation_id" json:"conversationId"`
	UserID         string       `db:"user_id" json:"userId"`
	LastReadAt     sql.NullTime `db:"last_read_at" json:"-"`
	UnreadCount    int          `db:"unread_count" json:"unreadCount"`
	CreatedAt      time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time    `db:"updated_at" json:"updatedAt"`
}

// ConversationSummary is the per-user view returned by the refetch API.
type ConversationSummary struct {
	ID            string         `db:"id" json:"id"`
	ApplicationID sql.NullString `db:"application_id" json:"-"`
	Title         string         `db:"title" json:"title"`
	IsGroup       bool           `db:"is_group" json:"isGroup"`
	LastMessageAt sql.NullTime   `db:"last_message_at" json:"-"`
	UnreadCount   int            `db:"unread_count" json:"unreadCount"`
	LastReadAt    sql.NullTime   `db:"last_read_at" json:"-"`
}
