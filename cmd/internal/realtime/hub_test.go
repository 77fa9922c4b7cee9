package realtime

import (
	"io"
	"log/slog"
	"testing"
	"time"

	v1 "podium/shared/contracts/debate/v1"
)

func TestRoomBroadcastDropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	fast := NewClient("fast", wsMinSendQueueSize)
	slow := NewClient("slow", 1)
	slow.Send <- v1.Envelope{Type: v1.TypeJoinAck} // fills its queue

	room, _, _ := h.Join("d1", fast)
	h.Join("d1", slow)

	delivered, dropped := room.Broadcast(v1.Envelope{Type: v1.TypeSyncMessage})
	if delivered != 1 || dropped != 1 {
		t.Fatalf("delivered=%d dropped=%d", delivered, dropped)
	}
}

func TestRoomBroadcastSkipsClosedClients(t *testing.T) {
	t.Parallel()

	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	c := NewClient("gone", 4)
	room, _, _ := h.Join("d1", c)
	c.Close()
	c.Close()

	if delivered, dropped := room.Broadcast(v1.Envelope{}); delivered != 0 || dropped != 1 {
		t.Fatalf("delivered=%d dropped=%d", delivered, dropped)
	}
}

func TestHubForgetsEmptyRooms(t *testing.T) {
	t.Parallel()

	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	a, b := NewClient("a", 4), NewClient("b", 4)

	_, n, added := h.Join("d1", a)
	if n != 1 || !added {
		t.Fatalf("first join members=%d added=%v", n, added)
	}
	if _, n, added = h.Join("d1", a); n != 1 || added {
		t.Fatalf("rejoin members=%d added=%v", n, added)
	}
	h.Join("d1", b)

	h.Leave("d1", "a")
	if h.Rooms() != 1 {
		t.Fatalf("rooms=%d want=1", h.Rooms())
	}
	h.Leave("d1", "b")
	h.Leave("d1", "b")
	if h.Rooms() != 0 {
		t.Fatalf("rooms=%d want=0", h.Rooms())
	}
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(2, time.Second)
	t0 := time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)

	if !rl.Allow(t0) || !rl.Allow(t0.Add(100*time.Millisecond)) {
		t.Fatalf("first two events should pass")
	}
	if rl.Allow(t0.Add(500 * time.Millisecond)) {
		t.Fatalf("third event inside window should be refused")
	}
	if got := rl.Remaining(t0.Add(1050 * time.Millisecond)); got != 1 {
		t.Fatalf("remaining=%d want=1 after first event aged out", got)
	}
	if !rl.Allow(t0.Add(1200 * time.Millisecond)) {
		t.Fatalf("event after window should pass")
	}
}
