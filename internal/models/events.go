package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// Inbound event names.
const (
	EventRoomJoin        = "room:join"
	EventRoomLeave       = "room:leave"
	EventChatSend        = "chat:send"
	EventChatMarkDeliver = "chat:markDelivered"
	EventChatMarkRead    = "chat:markRead"
	EventTypingStart     = "typing:start"
	EventTypingStop      = "typing:stop"
	EventPresencePing    = "presence:ping"
)

// Outbound event names.
const (
	EventRoomJoined     = "room:joined"
	EventRoomLeft       = "room:left"
	EventRoomError      = "room:error"
	EventChatMessage    = "chat:message"
	EventChatDelivered  = "chat:delivered"
	EventChatRead       = "chat:read"
	EventChatError      = "chat:error"
	EventPresenceUpdate = "presence:update"
	EventTypingUpdate   = "typing:update"
)

// Frame is the envelope used in both directions on the socket.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SendPayload is the body of chat:send.
type SendPayload struct {
	ID             string            `json:"id"`
	Room           string            `json:"room"`
	Text           *string           `json:"text,omitempty"`
	SenderID       string            `json:"senderId,omitempty"`
	CreatedAt      *time.Time        `json:"createdAt,omitempty"`
	ConversationID string            `json:"conversationId,omitempty"`
	Attachments    []AttachmentInput `json:"attachments,omitempty"`
}

// ReceiptPayload is the body of chat:markDelivered and chat:markRead.
// Clients may send either {room, ids} or a bare list of ids.
type ReceiptPayload struct {
	Room string   `json:"room,omitempty"`
	IDs  []string `json:"ids"`
}

func (p *ReceiptPayload) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		p.Room = ""
		return json.Unmarshal(trimmed, &p.IDs)
	}
	type alias ReceiptPayload
	var a alias
	if err := json.Unmarshal(trimmed, &a); err != nil {
		return err
	}
	*p = ReceiptPayload(a)
	return nil
}

type RoomJoined struct {
	Room           string `json:"room"`
	ConversationID string `json:"conversationId"`
}

type RoomLeft struct {
	Room string `json:"room"`
}

// EventError is the body of room:error and chat:error.
type EventError struct {
	Room  string `json:"room,omitempty"`
	ID    string `json:"id,omitempty"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// ChatMessage is the canonical persisted message broadcast to a room.
type ChatMessage struct {
	Message
	Room string `json:"room"`
}

type Receipt struct {
	Room   string   `json:"room"`
	IDs    []string `json:"ids"`
	UserID string   `json:"userId,omitempty"`
}

type PresenceUpdate struct {
	Room   string `json:"room"`
	Online bool   `json:"online"`
	UserID string `json:"userId,omitempty"`
}

type TypingUpdate struct {
	Room   string `json:"room"`
	Typing bool   `json:"typing"`
	UserID string `json:"userId,omitempty"`
}
