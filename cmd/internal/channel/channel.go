// Package channel is the client side of a debate room's realtime connection.
//
// A Handle owns one relay connection for one room view. It reconnects on its own,
// announces room membership once per connection and buffers outbound messages
// while disconnected. Connection failures are reported as status events only.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	v1 "podium/shared/contracts/debate/v1"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

var (
	ErrClosed      = errors.New("channel: closed")
	ErrInvalidRoom = errors.New("channel: invalid room id")
)

// Status is the connection lifecycle as seen by the room view.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
	StatusExhausted    Status = "exhausted"
	StatusClosed       Status = "closed"
)

// StatusEvent reports a lifecycle change. Attempt counts consecutive dial failures.
type StatusEvent struct {
	Status  Status
	ConnID  string
	Attempt int
	Err     error
}

type Option func(*Handle)

// WithMetrics records into m instead of unregistered private collectors.
func WithMetrics(m *Metrics) Option {
	return func(h *Handle) {
		if m != nil {
			h.metrics = m
		}
	}
}

type outbound struct {
	room string
	raw  json.RawMessage
}

// Handle is one room view's connection. All methods are safe for concurrent use,
// but Close must not be called from inside a callback.
type Handle struct {
	log     *slog.Logger
	cfg     Config
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	kick   chan struct{}

	mu        sync.Mutex
	closed    bool
	status    Status
	room      string
	pending   []outbound
	onMessage func(v1.Message)
	onStatus  func(StatusEvent)
	onDebate  func(v1.Debate)

	// cbMu is held while a callback runs so Close can wait it out.
	cbMu      sync.Mutex
	closeOnce sync.Once
}

// Connect starts dialing cfg.URL in the background and returns immediately.
// Only an unusable Config is reported as an error.
func Connect(ctx context.Context, cfg Config, log *slog.Logger, opts ...Option) (*Handle, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	cctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		log:     log,
		cfg:     cfg,
		metrics: NewMetrics(nil),
		ctx:     cctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		kick:    make(chan struct{}, 1),
		status:  StatusConnecting,
	}
	for _, opt := range opts {
		opt(h)
	}

	go h.run()
	return h, nil
}

// JoinRoom records the room to announce. It is written as soon as a connection is up,
// and once on every later connection. Repeating the same room is a no-op.
func (h *Handle) JoinRoom(roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return ErrInvalidRoom
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	if h.room == roomID {
		h.mu.Unlock()
		return nil
	}
	h.room = roomID
	h.mu.Unlock()

	h.wake()
	return nil
}

// Send emits m to the room without waiting for delivery. While disconnected or not yet
// joined the message is buffered; a full buffer drops its oldest entry.
func (h *Handle) Send(roomID string, m v1.Message) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return ErrInvalidRoom
	}
	raw, err := v1.EncodeMessage(m)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	if len(h.pending) >= h.cfg.SendBuffer {
		evicted := h.pending[0]
		h.pending = append(h.pending[:0:0], h.pending[1:]...)
		h.metrics.Sends.WithLabelValues("dropped").Inc()
		h.log.Warn("channel.send.drop", "room", evicted.room, "buffer", h.cfg.SendBuffer)
	}
	h.pending = append(h.pending, outbound{room: roomID, raw: raw})
	connected := h.status == StatusConnected
	h.mu.Unlock()

	if !connected {
		h.metrics.Sends.WithLabelValues("buffered").Inc()
	}
	h.wake()
	return nil
}

// OnMessage registers the inbound message callback, replacing any earlier one. nil clears it.
func (h *Handle) OnMessage(fn func(v1.Message)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.onMessage = fn
}

// OnStatus registers the lifecycle callback, replacing any earlier one. nil clears it.
func (h *Handle) OnStatus(fn func(StatusEvent)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.onStatus = fn
}

// OnDebate registers the callback for debate snapshots pushed by the relay. nil clears it.
func (h *Handle) OnDebate(fn func(v1.Debate)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.onDebate = fn
}

// Status returns the latest lifecycle state.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Close tears the connection down and discards buffered sends and pending retries.
// No callback runs after Close returns. Idempotent.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.status = StatusClosed
		h.pending = nil
		h.onMessage = nil
		h.onStatus = nil
		h.onDebate = nil
		h.mu.Unlock()

		h.cancel()

		// Wait out a callback that started before closed was set.
		h.cbMu.Lock()
		h.cbMu.Unlock()

		<-h.done
		h.log.Info("channel.closed", "url", h.cfg.URL)
	})
}

func (h *Handle) wake() {
	select {
	case h.kick <- struct{}{}:
	default:
	}
}

// ---- connection loop ----

func (h *Handle) run() {
	defer close(h.done)

	failures := 0
	for {
		conn, err := h.dial()
		if err != nil {
			if h.ctx.Err() != nil {
				return
			}
			failures++
			h.metrics.Dials.WithLabelValues("fail").Inc()
			h.log.Info("channel.connect.fail", "url", h.cfg.URL, "attempt", failures, "err", err)
			h.setStatus(StatusEvent{Status: StatusError, Attempt: failures, Err: err})

			if h.cfg.Retry.Exhausted(failures) {
				h.log.Warn("channel.connect.exhausted", "url", h.cfg.URL, "attempts", failures)
				h.setStatus(StatusEvent{Status: StatusExhausted, Attempt: failures})
				<-h.ctx.Done()
				return
			}
			if !h.sleep(h.cfg.Retry.Delay(failures)) {
				return
			}
			continue
		}

		failures = 0
		h.metrics.Dials.WithLabelValues("ok").Inc()

		connID := uuid.NewString()
		err = h.serve(conn, connID)
		if h.ctx.Err() != nil {
			return
		}

		h.log.Info("channel.disconnected", "conn_id", connID, "err", err)
		h.setStatus(StatusEvent{Status: StatusDisconnected, ConnID: connID, Err: err})
		if !h.sleep(h.cfg.Retry.Delay(1)) {
			return
		}
	}
}

func (h *Handle) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(h.ctx, h.cfg.DialTimeout)
	defer cancel()

	hdr := http.Header{}
	if h.cfg.Origin != "" {
		hdr.Set("Origin", h.cfg.Origin)
	}

	conn, resp, err := websocket.Dial(ctx, h.cfg.URL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   hdr,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, fmt.Errorf("channel: relay negotiated subprotocol %q", sp)
	}
	return conn, nil
}

func (h *Handle) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-h.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// serve runs one connection instance until it breaks or the handle closes.
func (h *Handle) serve(conn *websocket.Conn, connID string) error {
	defer conn.CloseNow()
	conn.SetReadLimit(maxInboundFrameBytes)

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()

	h.log.Info("channel.connected", "conn_id", connID, "url", h.cfg.URL)
	h.setStatus(StatusEvent{Status: StatusConnected, ConnID: connID})

	writeErr := make(chan error, 1)
	go func() { writeErr <- h.writeLoop(ctx, conn, connID) }()

	readErr := h.readLoop(ctx, conn, connID)
	cancel()
	if werr := <-writeErr; werr != nil && readErr == nil {
		return werr
	}
	return readErr
}

// writeLoop announces the room once for this connection, then drains the send buffer.
func (h *Handle) writeLoop(ctx context.Context, conn *websocket.Conn, connID string) error {
	joined := ""
	for {
		h.mu.Lock()
		room := h.room
		h.mu.Unlock()

		if room != "" && room != joined {
			if err := h.write(ctx, conn, v1.TypeJoinDebate, v1.JoinDebatePayload{DebateID: room}); err != nil {
				_ = conn.CloseNow()
				return err
			}
			joined = room
			h.metrics.Joins.Inc()
			h.log.Info("channel.join", "conn_id", connID, "debate_id", room)
		}

		if joined != "" {
			if err := h.flush(ctx, conn); err != nil {
				_ = conn.CloseNow()
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-h.kick:
		}
	}
}

func (h *Handle) flush(ctx context.Context, conn *websocket.Conn) error {
	for {
		h.mu.Lock()
		if len(h.pending) == 0 {
			h.mu.Unlock()
			return nil
		}
		out := h.pending[0]
		h.pending = h.pending[1:]
		h.mu.Unlock()

		if err := h.write(ctx, conn, v1.TypeSendMsg, v1.SendMsgPayload{DebateID: out.room, Message: out.raw}); err != nil {
			// The relay de-duplicates by messageId, so a resend after a partial write is harmless.
			h.mu.Lock()
			if !h.closed && len(h.pending) < h.cfg.SendBuffer {
				h.pending = append([]outbound{out}, h.pending...)
			}
			h.mu.Unlock()
			return err
		}
		h.metrics.Sends.WithLabelValues("sent").Inc()
	}
}

func (h *Handle) write(ctx context.Context, conn *websocket.Conn, typ string, payload any) error {
	env, err := v1.NewEnvelope(typ, uuid.NewString(), time.Now().UTC(), payload)
	if err != nil {
		return err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, b)
}

func (h *Handle) readLoop(ctx context.Context, conn *websocket.Conn, connID string) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.log.Info("channel.inbound.drop", "conn_id", connID, "err", err)
			continue
		}

		switch env.Type {
		case v1.TypeSyncMessage:
			h.onSync(connID, env)
		case v1.TypeDebateUpdate:
			h.onDebateUpdate(connID, env)
		case v1.TypeJoinAck:
			var p v1.JoinAckPayload
			_ = json.Unmarshal(env.Payload, &p)
			h.log.Debug("channel.join.ack", "conn_id", connID, "debate_id", p.DebateID, "members", p.Members)
		case v1.TypeError:
			var p v1.ErrorPayload
			_ = json.Unmarshal(env.Payload, &p)
			h.log.Info("channel.relay.error", "conn_id", connID, "code", p.Code, "message", p.Message)
		default:
			h.log.Debug("channel.inbound.ignore", "conn_id", connID, "type", env.Type)
		}
	}
}

func (h *Handle) onSync(connID string, env v1.Envelope) {
	var p v1.SyncMessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		h.metrics.Inbound.WithLabelValues("malformed").Inc()
		h.log.Info("channel.inbound.drop", "conn_id", connID, "err", err)
		return
	}

	h.mu.Lock()
	room := h.room
	h.mu.Unlock()
	if p.DebateID != "" && p.DebateID != room {
		h.log.Debug("channel.inbound.other_room", "conn_id", connID, "debate_id", p.DebateID)
		return
	}

	m, err := v1.DecodeMessage(p.Message)
	if err != nil {
		h.metrics.Inbound.WithLabelValues("malformed").Inc()
		h.log.Info("channel.inbound.drop", "conn_id", connID, "err", err)
		return
	}
	h.metrics.Inbound.WithLabelValues("delivered").Inc()

	h.cbMu.Lock()
	defer h.cbMu.Unlock()

	h.mu.Lock()
	fn := h.onMessage
	closed := h.closed
	h.mu.Unlock()

	if !closed && fn != nil {
		fn(m)
	}
}

func (h *Handle) onDebateUpdate(connID string, env v1.Envelope) {
	var p v1.DebateUpdatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.Debate.ID == "" {
		h.metrics.Inbound.WithLabelValues("malformed").Inc()
		h.log.Info("channel.debate.drop", "conn_id", connID, "err", err)
		return
	}

	h.mu.Lock()
	room := h.room
	h.mu.Unlock()
	if p.Debate.ID != room {
		h.log.Debug("channel.inbound.other_room", "conn_id", connID, "debate_id", p.Debate.ID)
		return
	}

	h.cbMu.Lock()
	defer h.cbMu.Unlock()

	h.mu.Lock()
	fn := h.onDebate
	closed := h.closed
	h.mu.Unlock()

	if !closed && fn != nil {
		fn(p.Debate)
	}
}

func (h *Handle) setStatus(ev StatusEvent) {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.status = ev.Status
	fn := h.onStatus
	h.mu.Unlock()

	if fn != nil {
		fn(ev)
	}
}
