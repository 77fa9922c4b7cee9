package channel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	v1 "podium/shared/contracts/debate/v1"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRetryPolicyDelay(t *testing.T) {
	t.Parallel()

	p := DefaultRetryPolicy()
	want := []time.Duration{time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Fatalf("Delay(%d)=%v want=%v", i+1, got, w)
		}
	}
	if p.Exhausted(1000) {
		t.Fatalf("MaxAttempts=0 must retry forever")
	}

	p.MaxAttempts = 3
	if p.Exhausted(2) || !p.Exhausted(3) {
		t.Fatalf("Exhausted boundary wrong")
	}
}

func TestConnectRejectsMissingURL(t *testing.T) {
	t.Parallel()

	if _, err := Connect(context.Background(), Config{}, testLogger()); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestJoinIsSentOncePerConnection(t *testing.T) {
	t.Parallel()

	relay := newFakeRelay()
	srv := httptest.NewServer(relay)
	defer srv.Close()

	metrics := NewMetrics(prometheus.NewRegistry())
	h := mustConnect(t, srv.URL, WithMetrics(metrics))
	defer h.Close()

	// Issued while still connecting: deferred until the socket is up.
	for i := 0; i < 3; i++ {
		if err := h.JoinRoom("d1"); err != nil {
			t.Fatalf("JoinRoom: %v", err)
		}
	}
	eventually(t, func() bool { return relay.joinCount() == 1 })

	relay.dropAll()
	eventually(t, func() bool { return relay.connCount() == 2 && relay.joinCount() == 2 })

	if err := h.JoinRoom("d1"); err != nil {
		t.Fatalf("JoinRoom after reconnect: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	for conn, n := range relay.joinsPerConn() {
		if n != 1 {
			t.Fatalf("conn %d saw %d join frames", conn, n)
		}
	}
	if got := testutil.ToFloat64(metrics.Joins); got != 2 {
		t.Fatalf("joins_total=%v want=2", got)
	}
}

func TestSendBuffersUntilJoinedThenFlushesInOrder(t *testing.T) {
	t.Parallel()

	relay := newFakeRelay()
	relay.refuse.Store(true)
	srv := httptest.NewServer(relay)
	defer srv.Close()

	metrics := NewMetrics(prometheus.NewRegistry())
	h := mustConnect(t, srv.URL, WithMetrics(metrics))
	defer h.Close()

	for _, id := range []string{"a-1", "a-2", "a-3"} {
		if err := h.Send("d1", testMessage(id, "1")); err != nil {
			t.Fatalf("Send(%s): %v", id, err)
		}
	}
	eventually(t, func() bool { return testutil.ToFloat64(metrics.Dials.WithLabelValues("fail")) >= 1 })

	relay.refuse.Store(false)
	if err := h.JoinRoom("d1"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	eventually(t, func() bool { return len(relay.sent()) == 3 })

	frames := relay.frames(0)
	if len(frames) == 0 || frames[0] != v1.TypeJoinDebate {
		t.Fatalf("first frame=%v want join-debate", frames)
	}
	for i, m := range relay.sent() {
		if want := []string{"a-1", "a-2", "a-3"}[i]; m.MessageID != want {
			t.Fatalf("sent[%d]=%q want=%q", i, m.MessageID, want)
		}
	}
	if got := testutil.ToFloat64(metrics.Sends.WithLabelValues("sent")); got != 3 {
		t.Fatalf("sent=%v want=3", got)
	}
}

func TestSendBufferDropsOldest(t *testing.T) {
	t.Parallel()

	relay := newFakeRelay()
	relay.refuse.Store(true)
	srv := httptest.NewServer(relay)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.SendBuffer = 2
	metrics := NewMetrics(prometheus.NewRegistry())
	h, err := Connect(context.Background(), cfg, testLogger(), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer h.Close()

	for _, id := range []string{"b-1", "b-2", "b-3"} {
		if err := h.Send("d1", testMessage(id, "1")); err != nil {
			t.Fatalf("Send(%s): %v", id, err)
		}
	}
	if got := testutil.ToFloat64(metrics.Sends.WithLabelValues("dropped")); got != 1 {
		t.Fatalf("dropped=%v want=1", got)
	}

	relay.refuse.Store(false)
	_ = h.JoinRoom("d1")
	eventually(t, func() bool { return len(relay.sent()) == 2 })
	if got := relay.sent()[0].MessageID; got != "b-2" {
		t.Fatalf("first flushed=%q want=b-2", got)
	}
}

func TestInboundMessagesAreDecodedAndMalformedDropped(t *testing.T) {
	t.Parallel()

	relay := newFakeRelay()
	srv := httptest.NewServer(relay)
	defer srv.Close()

	metrics := NewMetrics(prometheus.NewRegistry())
	h := mustConnect(t, srv.URL, WithMetrics(metrics))
	defer h.Close()

	got := make(chan v1.Message, 8)
	h.OnMessage(func(m v1.Message) { got <- m })
	_ = h.JoinRoom("d1")
	eventually(t, func() bool { return relay.joinCount() == 1 })

	relay.push(t, 0, "d1", json.RawMessage(`{"messageid":"x-1","debaterid":1,"debatername":"alex_debater","message":"Hello","timestamp":"2024-04-01T10:00:00Z","factcheckstatus":"verified","round":1}`))
	relay.push(t, 0, "d1", json.RawMessage(`{"messageId":"x-2","message":"no author","timestamp":"2024-04-01T10:00:00Z","round":1}`))
	relay.push(t, 0, "d9", mustEncode(t, testMessage("x-3", "2")))
	relay.push(t, 0, "d1", mustEncode(t, testMessage("x-4", "2")))

	first := receive(t, got)
	if first.MessageID != "x-1" || first.DebaterID != "1" || first.FactCheckStatus != v1.FactVerified {
		t.Fatalf("first=%+v", first)
	}
	if second := receive(t, got); second.MessageID != "x-4" {
		t.Fatalf("second=%q want=x-4", second.MessageID)
	}
	if n := testutil.ToFloat64(metrics.Inbound.WithLabelValues("malformed")); n != 1 {
		t.Fatalf("malformed=%v want=1", n)
	}
}

func TestOnMessageReplacesEarlierRegistration(t *testing.T) {
	t.Parallel()

	relay := newFakeRelay()
	srv := httptest.NewServer(relay)
	defer srv.Close()

	metrics := NewMetrics(prometheus.NewRegistry())
	h := mustConnect(t, srv.URL, WithMetrics(metrics))
	defer h.Close()

	var first, second atomic.Int32
	h.OnMessage(func(v1.Message) { first.Add(1) })
	h.OnMessage(func(v1.Message) { second.Add(1) })
	_ = h.JoinRoom("d1")
	eventually(t, func() bool { return relay.joinCount() == 1 })

	relay.push(t, 0, "d1", mustEncode(t, testMessage("r-1", "1")))
	eventually(t, func() bool { return second.Load() == 1 })

	h.OnMessage(nil)
	relay.push(t, 0, "d1", mustEncode(t, testMessage("r-2", "1")))
	eventually(t, func() bool { return testutil.ToFloat64(metrics.Inbound.WithLabelValues("delivered")) == 2 })

	if first.Load() != 0 || second.Load() != 1 {
		t.Fatalf("first=%d second=%d", first.Load(), second.Load())
	}
}

func TestDebateUpdatesReachOnDebate(t *testing.T) {
	t.Parallel()

	relay := newFakeRelay()
	srv := httptest.NewServer(relay)
	defer srv.Close()

	h := mustConnect(t, srv.URL)
	defer h.Close()

	got := make(chan v1.Debate, 4)
	h.OnDebate(func(d v1.Debate) { got <- d })
	_ = h.JoinRoom("d7")
	eventually(t, func() bool { return relay.joinCount() == 1 })

	relay.pushDebate(t, 0, v1.Debate{ID: "d9", Status: v1.StatusLive})
	relay.pushDebate(t, 0, v1.Debate{
		ID:       "d7",
		Status:   v1.StatusLive,
		Debater1: v1.Participant{ID: "1", Username: "alex_debater"},
		Debater2: v1.Participant{ID: "2", Username: "sarah_debate"},
	})

	select {
	case d := <-got:
		if d.ID != "d7" || d.Status != v1.StatusLive || d.Debater2.ID != "2" {
			t.Fatalf("debate=%+v", d)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("debate update not delivered")
	}
	select {
	case d := <-got:
		t.Fatalf("other room delivered: %+v", d)
	default:
	}
}

func TestStatusEventsAcrossReconnect(t *testing.T) {
	t.Parallel()

	relay := newFakeRelay()
	srv := httptest.NewServer(relay)
	defer srv.Close()

	rec := &statusRecorder{}
	h := mustConnect(t, srv.URL)
	h.OnStatus(rec.record)
	defer h.Close()

	eventually(t, func() bool { return h.Status() == StatusConnected })
	relay.dropAll()
	eventually(t, func() bool { return relay.connCount() == 2 && h.Status() == StatusConnected })

	seq := rec.statuses()
	if i := indexOf(seq, StatusDisconnected); i < 0 || indexOf(seq[i:], StatusConnected) < 0 {
		t.Fatalf("status sequence=%v", seq)
	}
}

func TestExhaustedAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	relay := newFakeRelay()
	relay.refuse.Store(true)
	srv := httptest.NewServer(relay)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Retry.MaxAttempts = 3
	metrics := NewMetrics(prometheus.NewRegistry())
	rec := &statusRecorder{}

	h, err := Connect(context.Background(), cfg, testLogger(), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.OnStatus(rec.record)
	defer h.Close()

	eventually(t, func() bool { return h.Status() == StatusExhausted })

	time.Sleep(100 * time.Millisecond)
	if got := testutil.ToFloat64(metrics.Dials.WithLabelValues("fail")); got != 3 {
		t.Fatalf("dial failures=%v want=3", got)
	}
	if h.Status() != StatusExhausted {
		t.Fatalf("status=%s want exhausted until Close", h.Status())
	}
}

func TestCloseIsIdempotentAndFinal(t *testing.T) {
	t.Parallel()

	relay := newFakeRelay()
	srv := httptest.NewServer(relay)
	defer srv.Close()

	h := mustConnect(t, srv.URL)
	var calls atomic.Int32
	h.OnMessage(func(v1.Message) { calls.Add(1) })
	_ = h.JoinRoom("d1")
	eventually(t, func() bool { return relay.joinCount() == 1 })

	h.Close()
	h.Close()

	if h.Status() != StatusClosed {
		t.Fatalf("status=%s", h.Status())
	}
	if err := h.Send("d1", testMessage("c-1", "1")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send after Close err=%v", err)
	}
	if err := h.JoinRoom("d2"); !errors.Is(err, ErrClosed) {
		t.Fatalf("JoinRoom after Close err=%v", err)
	}

	relay.pushQuiet(0, "d1", mustEncode(t, testMessage("c-2", "1")))
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatalf("callback fired after Close")
	}
}

// ---- fake relay ----

type fakeRelay struct {
	refuse atomic.Bool

	mu    sync.Mutex
	conns []*websocket.Conn
	seen  [][]string // frame types per connection
	msgs  []v1.Message
}

func newFakeRelay() *fakeRelay { return &fakeRelay{} }

func (f *fakeRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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
	f.seen = append(f.seen, nil)
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

		f.mu.Lock()
		f.seen[idx] = append(f.seen[idx], env.Type)
		if env.Type == v1.TypeSendMsg {
			var p v1.SendMsgPayload
			if json.Unmarshal(env.Payload, &p) == nil {
				if m, err := v1.DecodeMessage(p.Message); err == nil {
					f.msgs = append(f.msgs, m)
				}
			}
		}
		f.mu.Unlock()
	}
}

func (f *fakeRelay) dropAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		_ = c.CloseNow()
	}
}

func (f *fakeRelay) connCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeRelay) frames(conn int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conn >= len(f.seen) {
		return nil
	}
	return append([]string(nil), f.seen[conn]...)
}

func (f *fakeRelay) joinsPerConn() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.seen))
	for i, types := range f.seen {
		for _, typ := range types {
			if typ == v1.TypeJoinDebate {
				out[i]++
			}
		}
	}
	return out
}

func (f *fakeRelay) joinCount() int {
	n := 0
	for _, c := range f.joinsPerConn() {
		n += c
	}
	return n
}

func (f *fakeRelay) sent() []v1.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]v1.Message(nil), f.msgs...)
}

func (f *fakeRelay) push(t *testing.T, conn int, debateID string, raw json.RawMessage) {
	t.Helper()
	if err := f.pushQuiet(conn, debateID, raw); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func (f *fakeRelay) pushQuiet(conn int, debateID string, raw json.RawMessage) error {
	f.mu.Lock()
	c := f.conns[conn]
	f.mu.Unlock()

	return f.write(c, v1.TypeSyncMessage, v1.SyncMessagePayload{DebateID: debateID, Message: raw})
}

func (f *fakeRelay) pushDebate(t *testing.T, conn int, d v1.Debate) {
	t.Helper()
	f.mu.Lock()
	c := f.conns[conn]
	f.mu.Unlock()
	if err := f.write(c, v1.TypeDebateUpdate, v1.DebateUpdatePayload{DebateID: d.ID, Debate: d}); err != nil {
		t.Fatalf("push debate: %v", err)
	}
}

func (f *fakeRelay) write(c *websocket.Conn, typ string, payload any) error {
	env, err := v1.NewEnvelope(typ, "", time.Now().UTC(), payload)
	if err != nil {
		return err
	}
	b, _ := json.Marshal(env)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.Write(ctx, websocket.MessageText, b)
}

// ---- helpers ----

type statusRecorder struct {
	mu  sync.Mutex
	seq []Status
}

func (r *statusRecorder) record(ev StatusEvent) {
	r.mu.Lock()
	r.seq = append(r.seq, ev.Status)
	r.mu.Unlock()
}

func (r *statusRecorder) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.seq...)
}

func indexOf(seq []Status, s Status) int {
	for i, v := range seq {
		if v == s {
			return i
		}
	}
	return -1
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testConfig(httpURL string) Config {
	cfg := DefaultConfig("ws" + strings.TrimPrefix(httpURL, "http"))
	cfg.Retry = RetryPolicy{Initial: 10 * time.Millisecond, Max: 20 * time.Millisecond}
	cfg.DialTimeout = 2 * time.Second
	return cfg
}

func mustConnect(t *testing.T, httpURL string, opts ...Option) *Handle {
	t.Helper()
	h, err := Connect(context.Background(), testConfig(httpURL), testLogger(), opts...)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return h
}

func testMessage(id, author string) v1.Message {
	return v1.Message{
		MessageID:       id,
		DebaterID:       author,
		Body:            "Hello",
		Timestamp:       time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC),
		FactCheckStatus: v1.FactPending,
		Round:           1,
	}
}

func mustEncode(t *testing.T, m v1.Message) json.RawMessage {
	t.Helper()
	raw, err := v1.EncodeMessage(m)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	return raw
}

func receive(t *testing.T, ch <-chan v1.Message) v1.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(5 * time.Second):
		t.Fatalf("no message delivered")
		return v1.Message{}
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within 5s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
