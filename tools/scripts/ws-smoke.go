// Package main provides a CI-friendly WebSocket smoke test for the podium relay.
//
// It validates:
//   - handshake + subprotocol selection
//   - join-debate ack for two clients (debate snapshots are skipped)
//   - sendMsg fanout to every member, sender included
//   - messageId de-duplication (a resend is not fanned out again)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "podium/shared/contracts/debate/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

// Debate snapshots follow every join ack and may arrive between any two steps.
var skipSnapshots = map[string]struct{}{v1.TypeDebateUpdate: {}}

type smokeClient struct {
	name      string
	conn      *websocket.Conn
	sessionID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL    = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		debateID = flag.String("debate", "d1", "Debate room to join (must be live)")
		author   = flag.String("author", "1", "Seated debater id to send as")
		text     = flag.String("text", "smoke: opening statement", "Message body to send")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin)
	defer closeWS(b.conn)

	mustJoin(root, a, *debateID, *timeout)
	mustJoin(root, b, *debateID, *timeout)

	if *verbose {
		fmt.Printf("joined: A=%s B=%s debate=%s origin=%q\n", a.sessionID, b.sessionID, *debateID, *origin)
	}

	msg := v1.Message{
		MessageID:       fmt.Sprintf("%d-smoke", time.Now().UnixMilli()),
		DebaterID:       *author,
		Body:            *text,
		Timestamp:       time.Now().UTC(),
		FactCheckStatus: v1.FactPending,
		Round:           1,
	}

	mustSend(root, a, *debateID, msg, *timeout)
	for _, c := range []*smokeClient{a, b} {
		mustAssertSync(root, c, *debateID, msg, *timeout)
	}

	mustSend(root, a, *debateID, msg, *timeout)
	mustAssertNoType(root, b, v1.TypeSyncMessage, 1200*time.Millisecond)

	fmt.Printf("OK: A=%s B=%s debate=%s message_id=%s\n", a.sessionID, b.sessionID, *debateID, msg.MessageID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin string) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, 7*time.Second)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, v1.Subprotocol)
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				c.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func mustJoin(parent context.Context, c *smokeClient, debateID string, stepTimeout time.Duration) {
	mustWrite(parent, c, v1.TypeJoinDebate, v1.JoinDebatePayload{DebateID: debateID}, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeJoinAck, stepTimeout, skipSnapshots)

	var p v1.JoinAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal join ack payload (%s): %v", c.name, err)
	}
	if p.DebateID != debateID {
		fatalf("join ack debate mismatch (%s): got=%q want=%q", c.name, p.DebateID, debateID)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("join ack missing sessionId (%s)", c.name)
	}
	if p.Members < 1 {
		fatalf("join ack member count (%s): %d", c.name, p.Members)
	}
	c.sessionID = p.SessionID
}

func mustSend(parent context.Context, c *smokeClient, debateID string, m v1.Message, stepTimeout time.Duration) {
	raw, err := v1.EncodeMessage(m)
	if err != nil {
		fatalf("encode message: %v", err)
	}
	mustWrite(parent, c, v1.TypeSendMsg, v1.SendMsgPayload{DebateID: debateID, Message: raw}, stepTimeout)
}

func mustAssertSync(parent context.Context, c *smokeClient, debateID string, want v1.Message, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeSyncMessage, stepTimeout, skipSnapshots)

	var p v1.SyncMessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal sync payload (%s): %v", c.name, err)
	}
	if p.DebateID != debateID {
		fatalf("sync debate mismatch (%s): got=%q want=%q", c.name, p.DebateID, debateID)
	}
	got, err := v1.DecodeMessage(p.Message)
	if err != nil {
		fatalf("decode synced message (%s): %v", c.name, err)
	}
	if got.MessageID != want.MessageID {
		fatalf("sync messageId mismatch (%s): got=%q want=%q", c.name, got.MessageID, want.MessageID)
	}
	if got.Body != want.Body {
		fatalf("sync body mismatch (%s): got=%q want=%q", c.name, got.Body, want.Body)
	}
	if strings.TrimSpace(got.DebaterName) == "" {
		fatalf("sync message missing debaterName (%s)", c.name)
	}
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type == v1.TypeError {
				fatalServerError(c, env)
			}
			if env.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				fatalServerError(c, env)
			}
			if _, ok := skipTypes[env.Type]; ok {
				continue
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWrite(parent context.Context, c *smokeClient, typ string, payload any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	env, err := v1.NewEnvelope(typ, fmt.Sprintf("%s-%s-%d", c.name, typ, time.Now().UnixNano()), time.Now().UTC(), payload)
	if err != nil {
		fatalf("build envelope: %v", err)
	}
	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed (%s): %v", c.name, err)
	}
}

func fatalServerError(c *smokeClient, env v1.Envelope) {
	var ep v1.ErrorPayload
	_ = json.Unmarshal(env.Payload, &ep)
	fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
