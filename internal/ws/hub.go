package ws

import (
	"sync"

	"github.com/rs/zerolog/log"

	"recruit-chat/internal/presence"
)

// Hub is the registry of live clients and fans frames out to room members.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	presence *presence.Tracker
}

// NewHub creates an empty hub over the given presence tracker.
func NewHub(p *presence.Tracker) *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		presence: p,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID()] = c
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[c.ID()]; ok && cur == c {
		delete(h.clients, c.ID())
	}
}

func (h *Hub) client(connID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connID]
	return c, ok
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Emit sends one event to a single connection.
func (h *Hub) Emit(connID, event string, data any) bool {
	c, ok := h.client(connID)
	if !ok {
		return false
	}
	frame, err := encodeFrame(event, data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("encode frame failed")
		return false
	}
	return c.queue(frame)
}

// Broadcast sends one event to every connection in room except the one
// identified by except, and returns the number of recipients.
func (h *Hub) Broadcast(room, event string, data any, except string) int {
	return h.EmitTo(h.presence.Members(room), event, data, except)
}

// EmitTo sends one event to each listed connection except the one identified by except.
func (h *Hub) EmitTo(connIDs []string, event string, data any, except string) int {
	if len(connIDs) == 0 {
		return 0
	}
	frame, err := encodeFrame(event, data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("encode frame failed")
		return 0
	}

	sent := 0
	for _, id := range connIDs {
		if id == except {
			continue
		}
		if c, ok := h.client(id); ok && c.queue(frame) {
			sent++
		}
	}
	return sent
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
}
