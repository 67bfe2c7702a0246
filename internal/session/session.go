package session

import "time"

// Session binds an admitted connection to its user for the connection's lifetime.
// The room map is owned by the connection's read loop and is not safe for concurrent use.
type Session struct {
	ConnID      string
	UserID      string
	ConnectedAt time.Time

	rooms map[string]string
}

// New creates a session with an empty room cache.
func New(connID, userID string) *Session {
	return &Session{
		ConnID:      connID,
		UserID:      userID,
		ConnectedAt: time.Now(),
		rooms:       make(map[string]string),
	}
}

// Conversation returns the cached conversation id for room.
func (s *Session) Conversation(room string) (string, bool) {
	id, ok := s.rooms[room]
	return id, ok
}

// Remember caches the resolution of room.
func (s *Session) Remember(room, conversationID string) {
	s.rooms[room] = conversationID
}

// RoomsFor returns every cached room that resolves to one of conversationIDs.
func (s *Session) RoomsFor(conversationIDs ...string) []string {
	want := make(map[string]struct{}, len(conversationIDs))
	for _, id := range conversationIDs {
		want[id] = struct{}{}
	}
	var rooms []string
	for room, id := range s.rooms {
		if _, ok := want[id]; ok {
			rooms = append(rooms, room)
		}
	}
	return rooms
}
