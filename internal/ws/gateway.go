package ws

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"recruit-chat/internal/apperr"
	"recruit-chat/internal/messaging"
	"recruit-chat/internal/models"
	"recruit-chat/internal/observability"
	"recruit-chat/internal/presence"
	"recruit-chat/internal/rooms"
)

const defaultEventTimeout = 5 * time.Second

type eventHandler func(ctx context.Context, c *Client, data json.RawMessage) error

// Gateway dispatches inbound events to the chat components and fans results out through the hub.
type Gateway struct {
	hub      *Hub
	presence *presence.Tracker
	resolver *rooms.Resolver
	messages *messaging.Service
	typing   *TypingNotifier
	locks    *keyedMutex
	timeout  time.Duration
	handlers map[string]eventHandler
}

func NewGateway(hub *Hub, resolver *rooms.Resolver, messages *messaging.Service, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = defaultEventTimeout
	}
	g := &Gateway{
		hub:      hub,
		presence: hub.presence,
		resolver: resolver,
		messages: messages,
		typing:   NewTypingNotifier(hub, resolver),
		locks:    newKeyedMutex(),
		timeout:  timeout,
	}
	g.handlers = map[string]eventHandler{
		models.EventRoomJoin:        g.handleJoin,
		models.EventRoomLeave:       g.handleLeave,
		models.EventChatSend:        g.handleSend,
		models.EventChatMarkDeliver: g.handleMarkDelivered,
		models.EventChatMarkRead:    g.handleMarkRead,
		models.EventTypingStart:     g.handleTyping(true),
		models.EventTypingStop:      g.handleTyping(false),
		models.EventPresencePing:    g.handlePresencePing,
	}
	return g
}

// Dispatch decodes one inbound frame and runs its handler. The handler gets
// its own deadline, independent of the connection, so work already started
// completes after a disconnect.
func (g *Gateway) Dispatch(c *Client, raw []byte) {
	var frame models.Frame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
		g.hub.Emit(c.ID(), models.EventChatError, errorFrame("", "", apperr.ErrInvalidPayload))
		observability.ObserveWSEvent("invalid", "error", 0)
		return
	}

	handler, ok := g.handlers[frame.Event]
	if !ok {
		log.Debug().Str("conn_id", c.ID()).Str("event", frame.Event).Msg("unknown event ignored")
		observability.ObserveWSEvent("unknown", "ignored", 0)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, "ws."+frame.Event,
		attribute.String("ws.conn_id", c.ID()),
		attribute.String("enduser.id", c.UserID()),
	)
	defer span.End()

	log.Debug().
		Str("conn_id", c.ID()).
		Str("user_id", c.UserID()).
		Str("event", frame.Event).
		Msg("ws event")

	start := time.Now()
	err := handler(ctx, c, frame.Data)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.MessageOf(err))
		level := log.Warn()
		if isClientError(err) {
			level = log.Debug()
		}
		level.Err(err).
			Str("conn_id", c.ID()).
			Str("user_id", c.UserID()).
			Str("event", frame.Event).
			Msg("ws event failed")
	}
	observability.ObserveWSEvent(frame.Event, outcome, time.Since(start))
}

// Disconnect removes c from every room and announces its user offline where
// no other connection of that user remains.
func (g *Gateway) Disconnect(c *Client) {
	left := g.presence.LeaveAll(c.ID())
	for room, remaining := range left {
		g.announceOffline(c, room, remaining)
	}
	observability.SetActiveRooms(g.presence.RoomCount())
}

// peerUsers maps the listed connections to their distinct user ids, in order.
func (g *Gateway) peerUsers(connIDs []string) []string {
	seen := make(map[string]struct{}, len(connIDs))
	users := make([]string, 0, len(connIDs))
	for _, id := range connIDs {
		peer, ok := g.hub.client(id)
		if !ok {
			continue
		}
		if _, dup := seen[peer.UserID()]; dup {
			continue
		}
		seen[peer.UserID()] = struct{}{}
		users = append(users, peer.UserID())
	}
	return users
}

func (g *Gateway) announceOffline(c *Client, room string, remaining []string) {
	if slices.Contains(g.peerUsers(remaining), c.UserID()) {
		return
	}
	g.hub.EmitTo(remaining, models.EventPresenceUpdate, models.PresenceUpdate{
		Room:   room,
		Online: false,
		UserID: c.UserID(),
	}, c.ID())
}

func (g *Gateway) handleJoin(ctx context.Context, c *Client, data json.RawMessage) error {
	room, err := parseRoom(data)
	if err != nil {
		g.hub.Emit(c.ID(), models.EventRoomError, errorFrame("", "", err))
		return err
	}

	conversationID, err := g.resolver.Resolve(ctx, c.session, room)
	if err != nil {
		g.hub.Emit(c.ID(), models.EventRoomError, errorFrame(room, "", err))
		return err
	}

	others, added := g.presence.Join(room, c.ID())
	g.hub.Emit(c.ID(), models.EventRoomJoined, models.RoomJoined{Room: room, ConversationID: conversationID})
	if !added {
		return nil
	}
	observability.SetActiveRooms(g.presence.RoomCount())

	userPresent := false
	for _, userID := range g.peerUsers(others) {
		if userID == c.UserID() {
			userPresent = true
			continue
		}
		g.hub.Emit(c.ID(), models.EventPresenceUpdate, models.PresenceUpdate{Room: room, Online: true, UserID: userID})
	}
	if !userPresent {
		g.hub.EmitTo(others, models.EventPresenceUpdate, models.PresenceUpdate{Room: room, Online: true, UserID: c.UserID()}, c.ID())
	}
	return nil
}

func (g *Gateway) handleLeave(ctx context.Context, c *Client, data json.RawMessage) error {
	room, err := parseRoom(data)
	if err != nil {
		g.hub.Emit(c.ID(), models.EventRoomError, errorFrame("", "", err))
		return err
	}

	if remaining, ok := g.presence.Leave(room, c.ID()); ok {
		g.announceOffline(c, room, remaining)
		observability.SetActiveRooms(g.presence.RoomCount())
	}
	g.hub.Emit(c.ID(), models.EventRoomLeft, models.RoomLeft{Room: room})
	return nil
}

func (g *Gateway) handleSend(ctx context.Context, c *Client, data json.RawMessage) error {
	var p models.SendPayload
	if err := json.Unmarshal(data, &p); err != nil {
		g.hub.Emit(c.ID(), models.EventChatError, errorFrame("", "", apperr.ErrInvalidPayload))
		return apperr.ErrInvalidPayload
	}

	room := strings.TrimSpace(p.Room)
	if room == "" && p.ConversationID != "" {
		room = rooms.ConversationRoom(p.ConversationID)
	}
	if room == "" {
		g.hub.Emit(c.ID(), models.EventChatError, errorFrame("", p.ID, apperr.ErrRoomRequired))
		return apperr.ErrRoomRequired
	}

	conversationID, err := g.resolver.Resolve(ctx, c.session, room)
	if err != nil {
		g.hub.Emit(c.ID(), models.EventChatError, errorFrame(room, p.ID, err))
		return err
	}

	unlock := g.locks.Lock(conversationID)
	msg, created, err := g.messages.Send(ctx, messaging.SendRequest{
		ID:             p.ID,
		ConversationID: conversationID,
		SenderID:       c.UserID(),
		Text:           p.Text,
		CreatedAt:      p.CreatedAt,
		Attachments:    p.Attachments,
	})
	if err != nil {
		unlock()
		g.hub.Emit(c.ID(), models.EventChatError, errorFrame(room, p.ID, err))
		return err
	}
	if created {
		g.hub.Broadcast(room, models.EventChatMessage, models.ChatMessage{Message: msg, Room: room}, "")
	}
	unlock()

	g.hub.Emit(c.ID(), models.EventChatDelivered, models.Receipt{Room: room, IDs: []string{msg.ID}})
	return nil
}

func (g *Gateway) handleMarkDelivered(ctx context.Context, c *Client, data json.RawMessage) error {
	var p models.ReceiptPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return apperr.ErrInvalidPayload
	}
	ids := compactIDs(p.IDs)
	if len(ids) == 0 {
		return nil
	}

	targets, err := g.receiptRooms(ctx, c, strings.TrimSpace(p.Room))
	if err != nil {
		return err
	}
	for _, room := range targets {
		g.hub.Broadcast(room, models.EventChatDelivered, models.Receipt{Room: room, IDs: ids, UserID: c.UserID()}, c.ID())
	}
	return nil
}

func (g *Gateway) handleMarkRead(ctx context.Context, c *Client, data json.RawMessage) error {
	var p models.ReceiptPayload
	if err := json.Unmarshal(data, &p); err != nil {
		g.hub.Emit(c.ID(), models.EventChatError, errorFrame("", "", apperr.ErrInvalidPayload))
		return apperr.ErrInvalidPayload
	}
	room := strings.TrimSpace(p.Room)

	batches, err := g.messages.MarkRead(ctx, c.UserID(), p.IDs)
	if err != nil {
		g.hub.Emit(c.ID(), models.EventChatError, errorFrame(room, "", err))
		return err
	}
	if len(batches) == 0 {
		return nil
	}

	if room != "" {
		conversationID, err := g.resolver.Resolve(ctx, c.session, room)
		if err != nil {
			log.Debug().Err(err).Str("conn_id", c.ID()).Str("room", room).Msg("read relay room unresolved")
		} else {
			var rest []models.ReadBatch
			for _, b := range batches {
				if b.ConversationID == conversationID {
					g.relayRead(c, []string{room}, b.MessageIDs)
					continue
				}
				rest = append(rest, b)
			}
			batches = rest
		}
	}

	var unmatched []string
	for _, b := range batches {
		targets := c.session.RoomsFor(b.ConversationID)
		if len(targets) == 0 {
			unmatched = append(unmatched, b.MessageIDs...)
			continue
		}
		g.relayRead(c, targets, b.MessageIDs)
	}
	if len(unmatched) > 0 {
		g.relayRead(c, g.presence.RoomsOf(c.ID()), unmatched)
	}
	return nil
}

func (g *Gateway) relayRead(c *Client, targets []string, ids []string) {
	for _, room := range targets {
		g.hub.Broadcast(room, models.EventChatRead, models.Receipt{Room: room, IDs: ids, UserID: c.UserID()}, c.ID())
	}
}

// receiptRooms returns the rooms a delivery receipt from c is relayed to: the
// explicit room once resolved for c, else every room c occupies.
func (g *Gateway) receiptRooms(ctx context.Context, c *Client, room string) ([]string, error) {
	if room == "" {
		return g.presence.RoomsOf(c.ID()), nil
	}
	if _, err := g.resolver.Resolve(ctx, c.session, room); err != nil {
		return nil, err
	}
	return []string{room}, nil
}

func (g *Gateway) handleTyping(typing bool) eventHandler {
	return func(ctx context.Context, c *Client, data json.RawMessage) error {
		room, err := parseRoom(data)
		if err != nil {
			return err
		}
		return g.typing.Notify(ctx, c, room, typing)
	}
}

func (g *Gateway) handlePresencePing(ctx context.Context, c *Client, _ json.RawMessage) error {
	for _, room := range g.presence.RoomsOf(c.ID()) {
		g.hub.Broadcast(room, models.EventPresenceUpdate, models.PresenceUpdate{Room: room, Online: true, UserID: c.UserID()}, c.ID())
	}
	return nil
}

func compactIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// isClientError reports whether err was caused by the caller's input.
func isClientError(err error) bool {
	var ae *apperr.AppError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.Code != apperr.CodeInternal && ae.Code != apperr.CodeUnknown
}
