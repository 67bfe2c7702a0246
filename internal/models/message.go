package models

import "time"

type MessageType string

const (
	MessageTypeText MessageType = "text"
	MessageTypeFile MessageType = "file"
)

// Message is keyed by the client-generated id.
type Message struct {
	ID             string       `db:"id" json:"id"`
	ConversationID string       `db:"conversation_id" json:"conversationId"`
	SenderID       string       `db:"sender_id" json:"senderId"`
	Content        string       `db:"content" json:"content"`
	Type           MessageType  `db:"type" json:"type"`
	CreatedAt      time.Time    `db:"created_at" json:"createdAt"`
	Attachments    []Attachment `db:"-" json:"attachments"`
}

// Attachment belongs to exactly one message.
type Attachment struct {
	ID        string  `db:"id" json:"id"`
	MessageID string  `db:"message_id" json:"messageId"`
	URL       string  `db:"url" json:"url"`
	MimeType  *string `db:"mime_type" json:"mimeType,omitempty"`
	Size      *int64  `db:"size" json:"size,omitempty"`
	Name      *string `db:"name" json:"name,omitempty"`
}

// MessageRead marks when a user read a message.
type MessageRead struct {
	MessageID string    `db:"message_id" json:"messageId"`
	UserID    string    `db:"user_id" json:"userId"`
	ReadAt    time.Time `db:"read_at" json:"readAt"`
}

// AttachmentInput is an attachment descriptor supplied by a sender.
type AttachmentInput struct {
	URL      string  `json:"url"`
	MimeType *string `json:"mimeType,omitempty"`
	Size     *int64  `json:"size,omitempty"`
	Name     *string `json:"name,omitempty"`
}

// NewMessage is the input to an idempotent save.
type NewMessage struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	CreatedAt      time.Time
	Attachments    []AttachmentInput
}

// Type classifies the message by whether it carries attachments.
func (m NewMessage) Type() MessageType {
	if len(m.Attachments) > 0 {
		return MessageTypeFile
	}
	return MessageTypeText
}

// ReadBatch groups acknowledged message ids by conversation.
type ReadBatch struct {
	ConversationID string
	MessageIDs     []string
}
