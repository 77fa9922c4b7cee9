package room

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"podium/cmd/internal/channel"
	v1 "podium/shared/contracts/debate/v1"

	"github.com/coder/websocket"
)

// echoRelay answers every sendMsg with a syncMessage to the sender, the way the
// relay fans out to every member including the author.
type echoRelay struct {
	refuse atomic.Bool

	mu     sync.Mutex
	conns  []*websocket.Conn
	joins  []int
	echoed []string
}

func (f *echoRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.refuse.Load() {
		http.Error(w, "relay down", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	f.mu.Lock()
	idx := len(f.conns)
	f.conns = append(f.conns, conn)
	f.joins = append(f.joins, 0)
	f.mu.Unlock()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case v1.TypeJoinDebate:
			f.mu.Lock()
			f.joins[idx]++
			f.mu.Unlock()
		case v1.TypeSendMsg:
			var p v1.SendMsgPayload
			if json.Unmarshal(env.Payload, &p) != nil {
				continue
			}
			m, err := v1.DecodeMessage(p.Message)
			if err != nil {
				continue
			}
			if writeSync(conn, p.DebateID, p.Message) == nil {
				f.mu.Lock()
				f.echoed = append(f.echoed, m.MessageID)
				f.mu.Unlock()
			}
		}
	}
}

func (f *echoRelay) dropAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		_ = c.CloseNow()
	}
}

func (f *echoRelay) joinsPerConn() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.joins...)
}

func (f *echoRelay) echoedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.echoed...)
}

func (f *echoRelay) push(t *testing.T, conn int, debateID string, m v1.Message) {
	t.Helper()
	raw, err := v1.EncodeMessage(m)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	f.mu.Lock()
	c := f.conns[conn]
	f.mu.Unlock()
	if err := writeSync(c, debateID, raw); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func writeSync(c *websocket.Conn, debateID string, raw json.RawMessage) error {
	env, err := v1.NewEnvelope(v1.TypeSyncMessage, "", time.Now().UTC(), v1.SyncMessagePayload{DebateID: debateID, Message: raw})
	if err != nil {
		return err
	}
	b, _ := json.Marshal(env)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.Write(ctx, websocket.MessageText, b)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRelay_BufferedSubmitEchoIsNotAppendedTwice(t *testing.T) {
	relay := &echoRelay{}
	srv := httptest.NewServer(relay)
	defer srv.Close()

	cfg := channel.DefaultConfig("ws" + strings.TrimPrefix(srv.URL, "http"))
	cfg.Retry = channel.RetryPolicy{Initial: 20 * time.Millisecond, Max: 50 * time.Millisecond}

	r, err := Open(context.Background(), "d1", alexID, newFakeBackend(liveDebate(420)), ChannelDialer(cfg), discardLogger(),
		WithTicks(make(chan time.Time)), WithFactChecker(FixedFactChecker(v1.FactVerified)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	view := func() View {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		v, err := r.View(ctx)
		if err != nil {
			t.Fatalf("View: %v", err)
		}
		return v
	}

	waitFor(t, "first join", func() bool {
		j := relay.joinsPerConn()
		return len(j) == 1 && j[0] == 1
	})
	waitFor(t, "connected", func() bool { return view().Conn == channel.StatusConnected })

	relay.refuse.Store(true)
	relay.dropAll()
	waitFor(t, "disconnect", func() bool { return view().Conn != channel.StatusConnected })

	sent, err := submit(t, r, "Automation shifts work more than it erases it.")
	if err != nil {
		t.Fatalf("Submit while disconnected: %v", err)
	}
	if n := len(view().Messages); n != 1 {
		t.Fatalf("messages after submit=%d want=1", n)
	}

	relay.refuse.Store(false)
	waitFor(t, "buffered send echoed", func() bool {
		ids := relay.echoedIDs()
		return len(ids) == 1 && ids[0] == sent.MessageID
	})

	// Inbound is handled in order, so once the follow-up shows up the echo was seen too.
	follow := v1.Message{MessageID: "s-1", DebaterID: "2", DebaterName: "sarah_debate", Body: "It erases plenty.", Timestamp: fixedNow, Round: 1}
	relay.push(t, 1, "d1", follow)

	appended := 0
	for {
		e := nextEvent(t, r, EvtMessageAppended)
		if e.Message.MessageID == sent.MessageID {
			appended++
		}
		if e.Message.MessageID == follow.MessageID {
			break
		}
	}
	if appended != 1 {
		t.Fatalf("local message appended %d times", appended)
	}

	v := view()
	if len(v.Messages) != 2 || v.Messages[0].MessageID != sent.MessageID || v.Messages[1].MessageID != follow.MessageID {
		t.Fatalf("messages=%+v", v.Messages)
	}
	if got := relay.joinsPerConn(); len(got) != 2 || got[0] != 1 || got[1] != 1 {
		t.Fatalf("joins per connection=%v want [1 1]", got)
	}
}
