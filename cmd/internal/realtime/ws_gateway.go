package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"podium/cmd/internal/backend"
	v1 "podium/shared/contracts/debate/v1"

	"github.com/coder/websocket"
)

const (
	// Origin is required by default and only localhost is allowed (dev posture).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// MessageSink persists relayed messages with messageId de-duplication and serves the
// debate snapshot sent after a join. backend.Service satisfies it.
type MessageSink interface {
	PostMessage(ctx context.Context, debateID string, m v1.Message) (backend.AppendResult, error)
	FetchDebate(ctx context.Context, id string) (v1.Debate, error)
}

// WSGateway is the websocket entrypoint of the debate relay.
//
// It enforces origin policy, subprotocol selection, rate limits and heartbeats,
// tracks room membership in the Hub and fans accepted messages out to every member.
type WSGateway struct {
	log     *slog.Logger
	hub     *Hub
	sink    MessageSink
	metrics *Metrics

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// websocket.Accept checks cross-origin requests against host patterns; derived from allowedOrigins.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewWSGateway reads PODIUM_WS_* overrides from the environment.
// A nil hub or metrics gets a private instance; sink is required.
func NewWSGateway(log *slog.Logger, hub *Hub, sink MessageSink, metrics *Metrics) (*WSGateway, error) {
	if sink == nil {
		return nil, errors.New("realtime: message sink is required")
	}
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if hub == nil {
		hub = NewHub(log)
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	g := &WSGateway{log: log, hub: hub, sink: sink, metrics: metrics}

	// TLS verification knob for dev; not an origin policy.
	g.devInsecure = envBoolWS("PODIUM_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("PODIUM_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("PODIUM_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)
	g.originPatterns = deriveOriginPatterns(g.allowedOrigins)

	g.writeTimeout = envDurationWS("PODIUM_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("PODIUM_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("PODIUM_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("PODIUM_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("PODIUM_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("PODIUM_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("PODIUM_WS_RATE_WINDOW", rateLimitWindow)

	return g, nil
}

// Hub exposes the room registry (readiness and tests).
func (g *WSGateway) Hub() *Hub { return g.hub }

func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades the request and runs the session until either side closes.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.metrics.Rejects.WithLabelValues("origin").Inc()
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.metrics.Rejects.WithLabelValues("subprotocol").Inc()
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID := newSessionID()
	client := NewClient(sessionID, g.sendQueueSize)

	g.metrics.Connections.Inc()
	defer g.metrics.Connections.Dec()
	g.log.Info("ws.open", "session_id", sessionID, "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var (
		closeOnce sync.Once
		mu        sync.Mutex
		joined    string
	)

	// shutdown is idempotent. Membership is dropped before the client is closed so
	// broadcasters never hold a member that is being torn down.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			mu.Lock()
			if joined != "" {
				g.hub.Leave(joined, sessionID)
				joined = ""
			}
			mu.Unlock()

			client.Close()
			_ = conn.Close(code, reason)
			cancel()
			g.log.Info("ws.close", "session_id", sessionID, "reason", reason)
		})
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.reject(client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.rejectNow(ctx, conn, v1.CodeRateLimited, "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.reject(client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeJoinDebate:
			mu.Lock()
			prev := joined
			mu.Unlock()

			id, err := g.onJoin(ctx, client, prev, env, now)
			if err != nil {
				g.reject(client, "join_failed", err.Error())
				continue readLoop
			}
			mu.Lock()
			joined = id
			mu.Unlock()

		case v1.TypeSendMsg:
			mu.Lock()
			room := joined
			mu.Unlock()

			if room == "" {
				g.reject(client, "not_joined", "join first")
				continue readLoop
			}
			if code, err := g.onSendMsg(ctx, client, room, env, now); err != nil {
				g.reject(client, code, err.Error())
				continue readLoop
			}

		default:
			g.reject(client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handlers ----

// onJoin adds the session to the debate's room, acks, then sends the debate as stored.
// The snapshot is read after membership is in place, so a seat change is either in it or
// arrives later through PublishDebate. Re-joining the same room acks again without
// duplicating membership; joining another room leaves the previous one.
func (g *WSGateway) onJoin(ctx context.Context, client *Client, prev string, env v1.Envelope, now time.Time) (string, error) {
	var p v1.JoinDebatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return "", fmt.Errorf("invalid payload: %w", err)
	}

	debateID := strings.TrimSpace(p.DebateID)
	if debateID == "" {
		return "", errors.New("missing debateId")
	}

	if prev != "" && prev != debateID {
		g.hub.Leave(prev, client.SessionID)
	}

	_, members, added := g.hub.Join(debateID, client)
	if added {
		g.metrics.Joins.Inc()
	}

	ack, err := newEnvelope(v1.TypeJoinAck, now, v1.JoinAckPayload{
		DebateID:  debateID,
		SessionID: client.SessionID,
		Members:   members,
	})
	if err != nil {
		return "", err
	}
	if !client.offer(ack) {
		g.hub.Leave(debateID, client.SessionID)
		return "", errors.New("backpressure: join ack")
	}

	sinkCtx, cancel := context.WithTimeout(ctx, wsSinkTimeout)
	d, err := g.sink.FetchDebate(sinkCtx, debateID)
	cancel()
	if err != nil {
		g.log.Debug("ws.join.snapshot.skip", "session_id", client.SessionID, "debate_id", debateID, "err", err)
		return debateID, nil
	}
	if upd, err := newEnvelope(v1.TypeDebateUpdate, now, v1.DebateUpdatePayload{DebateID: debateID, Debate: d}); err == nil {
		_ = client.offer(upd)
	}
	return debateID, nil
}

// PublishDebate sends d to every member of its room. It is called after a seat or
// status change so views opened earlier see it without refetching.
func (g *WSGateway) PublishDebate(d v1.Debate) {
	r, ok := g.hub.Room(d.ID)
	if !ok {
		return
	}
	env, err := newEnvelope(v1.TypeDebateUpdate, time.Now().UTC(), v1.DebateUpdatePayload{DebateID: d.ID, Debate: d})
	if err != nil {
		g.log.Error("ws.publish.fail", "debate_id", d.ID, "err", err)
		return
	}
	delivered, dropped := r.Broadcast(env)
	g.metrics.Broadcasts.WithLabelValues("delivered").Add(float64(delivered))
	if dropped > 0 {
		g.metrics.Broadcasts.WithLabelValues("dropped").Add(float64(dropped))
	}
	g.log.Info("ws.publish.debate", "debate_id", d.ID, "status", d.Status, "delivered", delivered, "dropped", dropped)
}

// onSendMsg persists the message and broadcasts it to the room unless the messageId was seen before.
// The returned code names the rejection for the error envelope.
func (g *WSGateway) onSendMsg(ctx context.Context, client *Client, room string, env v1.Envelope, now time.Time) (string, error) {
	var p v1.SendMsgPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return "bad_payload", fmt.Errorf("invalid payload: %w", err)
	}

	debateID := strings.TrimSpace(p.DebateID)
	if debateID == "" {
		debateID = room
	}
	if debateID != room {
		return "not_joined", errors.New("debateId differs from joined room")
	}

	m, err := v1.DecodeMessage(p.Message)
	if err != nil {
		g.metrics.Messages.WithLabelValues("rejected").Inc()
		return "bad_message", err
	}

	sinkCtx, cancel := context.WithTimeout(ctx, wsSinkTimeout)
	res, err := g.sink.PostMessage(sinkCtx, debateID, m)
	cancel()
	if err != nil {
		g.metrics.Messages.WithLabelValues("rejected").Inc()
		code := sinkErrorCode(err)
		if code == "send_failed" {
			g.log.Error("ws.send.fail", "session_id", client.SessionID, "debate_id", debateID, "err", err)
		} else {
			g.log.Info("ws.send.reject", "session_id", client.SessionID, "debate_id", debateID, "code", code, "err", err)
		}
		return code, err
	}

	if res.Duplicated {
		g.metrics.Messages.WithLabelValues("duplicate").Inc()
		g.log.Debug("ws.send.duplicate", "session_id", client.SessionID, "debate_id", debateID, "message_id", m.MessageID)
		return "", nil
	}
	g.metrics.Messages.WithLabelValues("stored").Inc()

	raw, err := v1.EncodeMessage(res.Stored)
	if err != nil {
		return "send_failed", err
	}
	out, err := newEnvelope(v1.TypeSyncMessage, now, v1.SyncMessagePayload{DebateID: debateID, Message: raw})
	if err != nil {
		return "send_failed", err
	}

	r, ok := g.hub.Room(debateID)
	if !ok {
		return "", nil
	}
	delivered, dropped := r.Broadcast(out)
	g.metrics.Broadcasts.WithLabelValues("delivered").Add(float64(delivered))
	if dropped > 0 {
		g.metrics.Broadcasts.WithLabelValues("dropped").Add(float64(dropped))
		g.log.Info("ws.broadcast.drop", "debate_id", debateID, "dropped", dropped)
	}
	return "", nil
}

func sinkErrorCode(err error) string {
	switch {
	case errors.Is(err, backend.ErrRoomNotFound):
		return v1.CodeRoomNotFound
	case errors.Is(err, backend.ErrForbidden):
		return v1.CodeForbidden
	case backend.IsConflict(err):
		return "not_live"
	case errors.Is(err, backend.ErrInvalidInput):
		return "bad_message"
	default:
		return "send_failed"
	}
}

// ---- send helpers ----

func (g *WSGateway) reject(client *Client, code, msg string) {
	g.metrics.Rejects.WithLabelValues(code).Inc()
	env, err := newEnvelope(v1.TypeError, time.Now().UTC(), v1.ErrorPayload{Code: code, Message: msg})
	if err != nil {
		return
	}
	_ = client.offer(env)
}

// rejectNow writes the error directly so it reaches the peer before a close frame.
func (g *WSGateway) rejectNow(ctx context.Context, conn *websocket.Conn, code, msg string) {
	g.metrics.Rejects.WithLabelValues(code).Inc()
	env, err := newEnvelope(v1.TypeError, time.Now().UTC(), v1.ErrorPayload{Code: code, Message: msg})
	if err != nil {
		return
	}
	_ = writeEnvelope(ctx, conn, env, g.writeTimeout)
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	var syn *json.SyntaxError
	var typ *json.UnmarshalTypeError
	if errors.As(err, &syn) || errors.As(err, &typ) {
		return readErrBadJSON
	}
	if strings.Contains(err.Error(), "unexpected end of JSON input") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		if a == "*" {
			return nil
		}
		if origin == a {
			return nil
		}
		// Host match ignores scheme and port.
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil || u.Host == "" {
			return ""
		}
		s = u.Host
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatterns returns the sorted unique hosts of the allowlist, in the form
// websocket.AcceptOptions.OriginPatterns expects. A "*" entry allows every host.
func deriveOriginPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		if a == "*" {
			return []string{"*"}
		}
		if h := originHostOnly(a); h != "" {
			seen[h] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}

	var out []string
	for _, p := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
