package realtime

import (
	"log/slog"
	"sync"

	v1 "podium/shared/contracts/debate/v1"
)

// Room is the membership set of one debate on the relay.
//
// Join/Leave are safe under concurrent Broadcast, and Broadcast never blocks:
// a member whose queue is full misses the envelope.
type Room struct {
	log      *slog.Logger
	DebateID string

	mu      sync.RWMutex
	members map[string]*Client
}

func newRoom(log *slog.Logger, debateID string) *Room {
	return &Room{log: log, DebateID: debateID, members: make(map[string]*Client)}
}

// Join adds client to the room. Joining twice is a no-op; the member count is returned either way.
func (r *Room) Join(client *Client) (members int, added bool) {
	if r == nil || client == nil || client.SessionID == "" {
		return 0, false
	}

	r.mu.Lock()
	_, had := r.members[client.SessionID]
	r.members[client.SessionID] = client
	members = len(r.members)
	r.mu.Unlock()

	if !had {
		r.log.Info("room.member.join", "debate_id", r.DebateID, "session_id", client.SessionID, "members", members)
	}
	return members, !had
}

// Leave removes the session and reports how many members remain.
// Unlike disconnects, leaving a room does not close the client.
func (r *Room) Leave(sessionID string) int {
	if r == nil || sessionID == "" {
		return 0
	}

	r.mu.Lock()
	_, had := r.members[sessionID]
	delete(r.members, sessionID)
	left := len(r.members)
	r.mu.Unlock()

	if had {
		r.log.Info("room.member.leave", "debate_id", r.DebateID, "session_id", sessionID, "members", left)
	}
	return left
}

// Len returns the current member count.
func (r *Room) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Broadcast fans env out to every member, the sender included.
func (r *Room) Broadcast(env v1.Envelope) (delivered, dropped int) {
	if r == nil {
		return 0, 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.members {
		if m == nil {
			continue
		}
		if m.offer(env) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}
