package ws

import (
	"context"

	"recruit-chat/internal/models"
	"recruit-chat/internal/rooms"
)

// TypingNotifier relays typing indicators. Nothing is persisted.
type TypingNotifier struct {
	hub      *Hub
	resolver *rooms.Resolver
}

func NewTypingNotifier(hub *Hub, resolver *rooms.Resolver) *TypingNotifier {
	return &TypingNotifier{hub: hub, resolver: resolver}
}

// Notify resolves room for c, which registers c's user as a participant, and
// relays the indicator to the rest of the room. Resolution failures are
// returned without notifying the caller.
func (t *TypingNotifier) Notify(ctx context.Context, c *Client, room string, typing bool) error {
	if _, err := t.resolver.Resolve(ctx, c.session, room); err != nil {
		return err
	}
	t.hub.Broadcast(room, models.EventTypingUpdate, models.TypingUpdate{
		Room:   room,
		Typing: typing,
		UserID: c.UserID(),
	}, c.ID())
	return nil
}
