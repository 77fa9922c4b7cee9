package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"podium/cmd/internal/backend"
	"podium/cmd/internal/challenge"
	"podium/cmd/security/password"
	"podium/cmd/security/token"
	v1 "podium/shared/contracts/debate/v1"
)

var fixedNow = time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, cfg Config) (*httptest.Server, *backend.HTTPClient) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	pw := password.DefaultConfig()
	pw.Params.MemoryKiB, pw.Params.Iterations, pw.Params.Parallelism = 8*1024, 1, 1

	st, err := backend.NewMemoryStore()
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	if err := backend.Seed(context.Background(), st, pw, fixedNow); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	svc, err := backend.NewService(st, log, backend.WithPasswords(pw))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	hasher, _ := token.NewHasher(nil, 0)
	h, err := NewHandler(log, svc, hasher, cfg)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)

	cl, err := backend.NewHTTPClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	return srv, cl
}

func login(t *testing.T, cl *backend.HTTPClient, user string, role v1.Role) *backend.HTTPClient {
	t.Helper()
	resp, err := cl.Login(context.Background(), user, backend.FixturePassword, role)
	if err != nil {
		t.Fatalf("Login(%s): %v", user, err)
	}
	if resp.Token == "" || resp.User.Username != user {
		t.Fatalf("login response=%+v", resp)
	}
	return cl.WithToken(resp.Token)
}

func TestLoginAndCatalog(t *testing.T) {
	t.Parallel()
	_, cl := newTestServer(t, DefaultConfig())
	ctx := context.Background()

	if _, err := cl.Login(ctx, "alex_debater", backend.FixturePassword, v1.RoleAudience); !errors.Is(err, backend.ErrUnauthorized) {
		t.Fatalf("wrong role err=%v want ErrUnauthorized", err)
	}
	_ = login(t, cl, "alex_debater", v1.RoleDebater)

	topics, err := cl.ListTopics(ctx)
	if err != nil || len(topics) != 6 {
		t.Fatalf("topics=%d err=%v", len(topics), err)
	}
	debaters, err := cl.ListUsers(ctx, v1.RoleDebater)
	if err != nil || len(debaters) != 3 {
		t.Fatalf("debaters=%d err=%v", len(debaters), err)
	}
	ds, err := cl.ListDebates(ctx)
	if err != nil || len(ds) != 2 {
		t.Fatalf("debates=%d err=%v", len(ds), err)
	}
}

func TestFetchDebateAndMessages(t *testing.T) {
	t.Parallel()
	_, cl := newTestServer(t, DefaultConfig())
	ctx := context.Background()

	d, err := cl.FetchDebate(ctx, "d1")
	if err != nil {
		t.Fatalf("FetchDebate: %v", err)
	}
	if d.Status != v1.StatusLive || d.CurrentTurn != v1.SlotDebater1 || d.TimeRemaining != 420 {
		t.Fatalf("debate=%+v", d)
	}
	if _, err := cl.FetchDebate(ctx, "d404"); !errors.Is(err, backend.ErrRoomNotFound) {
		t.Fatalf("missing err=%v want ErrRoomNotFound", err)
	}

	ms, err := cl.MessagesForDebate(ctx, "d1")
	if err != nil || len(ms) != 3 || ms[0].MessageID != "m1" {
		t.Fatalf("messages=%+v err=%v", ms, err)
	}
}

func TestChallengeAcceptAndJoinOverHTTP(t *testing.T) {
	t.Parallel()
	_, cl := newTestServer(t, DefaultConfig())
	ctx := context.Background()

	alex := login(t, cl, "alex_debater", v1.RoleDebater)
	mike := login(t, cl, "mike_pro", v1.RoleDebater)
	emma := login(t, cl, "emma_viewer", v1.RoleAudience)

	if _, err := alex.CreateChallenge(ctx, v1.UserRef{}, "t404", v1.PositionFor); !errors.Is(err, challenge.ErrTopicNotFound) {
		t.Fatalf("unknown topic err=%v", err)
	}
	if _, err := emma.CreateChallenge(ctx, v1.UserRef{}, "t1", v1.PositionFor); !errors.Is(err, backend.ErrForbidden) {
		t.Fatalf("audience challenge err=%v want ErrForbidden", err)
	}

	c, err := alex.CreateChallenge(ctx, v1.UserRef{}, "t5", v1.PositionAgainst)
	if err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	if c.Challenger.Username != "alex_debater" {
		t.Fatalf("challenger=%+v", c.Challenger)
	}

	acc, err := mike.AcceptChallenge(ctx, c.ID)
	if err != nil {
		t.Fatalf("AcceptChallenge: %v", err)
	}
	if _, err := mike.AcceptChallenge(ctx, c.ID); !errors.Is(err, backend.ErrConflict) {
		t.Fatalf("second accept err=%v want ErrConflict", err)
	}

	if err := mike.JoinDebate(ctx, acc.Debate.ID, v1.Participant{}); err != nil {
		t.Fatalf("JoinDebate: %v", err)
	}
	if err := mike.JoinDebate(ctx, acc.Debate.ID, v1.Participant{}); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	d, _ := cl.FetchDebate(ctx, acc.Debate.ID)
	if d.Status != v1.StatusLive || d.Debater2.Username != "mike_pro" || d.Debater2.Position != v1.PositionFor {
		t.Fatalf("debate=%+v", d)
	}

	if err := emma.JoinDebate(ctx, acc.Debate.ID, v1.Participant{}); !errors.Is(err, backend.ErrForbidden) {
		t.Fatalf("audience join err=%v", err)
	}
	if err := alex.JoinDebate(ctx, "d2", v1.Participant{}); err != nil {
		t.Fatalf("rejoin held seat in live room: %v", err)
	}
	sarah := login(t, cl, "sarah_debate", v1.RoleDebater)
	if err := sarah.JoinDebate(ctx, "d2", v1.Participant{}); !errors.Is(err, backend.ErrConflict) {
		t.Fatalf("join live room err=%v want ErrConflict", err)
	}
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, DefaultConfig())

	for _, path := range []string{"/debates/d1/join", "/challenges", "/auth/logout"} {
		resp, err := srv.Client().Post(srv.URL+path, "application/json", strings.NewReader(`{}`))
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("POST %s status=%d want 401", path, resp.StatusCode)
		}
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	t.Parallel()
	srv, cl := newTestServer(t, DefaultConfig())
	resp, err := cl.Login(context.Background(), "sarah_debate", backend.FixturePassword, v1.RoleDebater)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	post := func() int {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/auth/logout", nil)
		req.Header.Set("Authorization", "Bearer "+resp.Token)
		r, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("logout: %v", err)
		}
		_ = r.Body.Close()
		return r.StatusCode
	}
	if got := post(); got != http.StatusNoContent {
		t.Fatalf("first logout status=%d", got)
	}
	if got := post(); got != http.StatusUnauthorized {
		t.Fatalf("second logout status=%d want 401", got)
	}
}

func TestLoginRateLimited(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.LoginMax = 2
	srv, _ := newTestServer(t, cfg)

	var last *http.Response
	for i := 0; i < 3; i++ {
		r, err := srv.Client().Post(srv.URL+"/auth/login", "application/json",
			strings.NewReader(`{"username":"ghost","password":"nope123","role":"debater"}`))
		if err != nil {
			t.Fatalf("login: %v", err)
		}
		_ = r.Body.Close()
		last = r
	}
	if last.StatusCode != http.StatusTooManyRequests || last.Header.Get("Retry-After") == "" {
		t.Fatalf("status=%d retry-after=%q", last.StatusCode, last.Header.Get("Retry-After"))
	}
}

func TestLoginRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, DefaultConfig())
	r, err := srv.Client().Post(srv.URL+"/auth/login", "application/json",
		strings.NewReader(`{"username":"alex_debater","password":"pass123","role":"debater","admin":true}`))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	_ = r.Body.Close()
	if r.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", r.StatusCode)
	}
}

func TestTokenStoreExpiry(t *testing.T) {
	h, _ := token.NewHasher(nil, 0)
	s := newTokenStore(h, time.Minute)
	tok, err := s.issue(v1.User{ID: "1"}, fixedNow)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, ok := s.lookup(tok, fixedNow.Add(30*time.Second)); !ok {
		t.Fatalf("token rejected before expiry")
	}
	if _, ok := s.lookup(tok, fixedNow.Add(time.Minute)); ok {
		t.Fatalf("token accepted at expiry")
	}
}
