package presence

import (
	"sort"
	"sync"
)

// Tracker keeps the in-memory membership of rooms by connection id.
// Safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	rooms map[string]map[string]struct{}
	conns map[string]map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{
		rooms: make(map[string]map[string]struct{}),
		conns: make(map[string]map[string]struct{}),
	}
}

// Join adds connID to room. It returns the members that were present before
// the join and whether connID was newly added.
func (t *Tracker) Join(room, connID string) (others []string, added bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	members, ok := t.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		t.rooms[room] = members
	}
	if _, exists := members[connID]; exists {
		return sortedExcept(members, connID), false
	}

	others = sortedExcept(members, connID)
	members[connID] = struct{}{}

	rooms, ok := t.conns[connID]
	if !ok {
		rooms = make(map[string]struct{})
		t.conns[connID] = rooms
	}
	rooms[room] = struct{}{}
	return others, true
}

// Leave removes connID from room and returns the remaining members.
// ok is false when connID was not in room.
func (t *Tracker) Leave(room, connID string) (remaining []string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.leave(room, connID)
}

// LeaveAll removes connID from every room it joined. The result maps each
// room left to its remaining members.
func (t *Tracker) LeaveAll(connID string) map[string][]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	rooms := t.conns[connID]
	left := make(map[string][]string, len(rooms))
	for room := range rooms {
		remaining, _ := t.leave(room, connID)
		left[room] = remaining
	}
	return left
}

func (t *Tracker) leave(room, connID string) ([]string, bool) {
	members, ok := t.rooms[room]
	if !ok {
		return nil, false
	}
	if _, ok := members[connID]; !ok {
		return nil, false
	}

	delete(members, connID)
	if len(members) == 0 {
		delete(t.rooms, room)
	}
	if rooms, ok := t.conns[connID]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(t.conns, connID)
		}
	}
	return sortedExcept(members, ""), true
}

// Members lists the connections currently in room.
func (t *Tracker) Members(room string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedExcept(t.rooms[room], "")
}

// RoomsOf lists the rooms connID currently occupies.
func (t *Tracker) RoomsOf(connID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedExcept(t.conns[connID], "")
}

// RoomCount returns the number of non-empty rooms.
func (t *Tracker) RoomCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rooms)
}

func sortedExcept(set map[string]struct{}, skip string) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		if k != skip {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
