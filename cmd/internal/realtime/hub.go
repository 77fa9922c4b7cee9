package realtime

import (
	"log/slog"
	"sync"
)

// Hub owns the in-memory rooms of the relay. Persistence lives behind MessageSink.
type Hub struct {
	log *slog.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewHub constructs an empty Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log, rooms: make(map[string]*Room)}
}

// Join adds client to the room for debateID, creating the room on first use.
func (h *Hub) Join(debateID string, client *Client) (*Room, int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[debateID]
	if !ok {
		r = newRoom(h.log, debateID)
		h.rooms[debateID] = r
	}
	members, added := r.Join(client)
	return r, members, added
}

// Leave removes the session from the room and forgets the room once it is empty.
func (h *Hub) Leave(debateID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[debateID]
	if !ok {
		return
	}
	if r.Leave(sessionID) == 0 {
		delete(h.rooms, debateID)
	}
}

// Room returns the live room for debateID, if any.
func (h *Hub) Room(debateID string) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[debateID]
	return r, ok
}

// Rooms reports how many rooms currently have members.
func (h *Hub) Rooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}
