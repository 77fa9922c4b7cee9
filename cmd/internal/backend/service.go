package backend

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"podium/cmd/internal/challenge"
	"podium/cmd/internal/turn"
	"podium/cmd/security/password"
	v1 "podium/shared/contracts/debate/v1"
)

// Collaborator is everything a room view needs from the backend.
type Collaborator interface {
	FetchDebate(ctx context.Context, id string) (v1.Debate, error)
	JoinDebate(ctx context.Context, id string, p v1.Participant) error
	CreateChallenge(ctx context.Context, challenger v1.UserRef, topicID string, pos v1.Position) (v1.Challenge, error)
	MessagesForDebate(ctx context.Context, id string) ([]v1.Message, error)
}

// Service is the in-process backend used by podiumd and by tests.
type Service struct {
	store      Store
	challenges *challenge.Service
	passwords  password.Config
	log        *slog.Logger
	latency    time.Duration
	now        func() time.Time

	obsMu     sync.RWMutex
	observers []func(v1.Debate)
}

var _ Collaborator = (*Service)(nil)

type Option func(*Service) error

// WithPasswords sets the hashing config used to verify logins.
func WithPasswords(c password.Config) Option {
	return func(s *Service) error {
		s.passwords = c
		return nil
	}
}

// WithLatency delays every call by d, for exercising loading states.
func WithLatency(d time.Duration) Option {
	return func(s *Service) error {
		if d < 0 {
			return ErrInvalidInput
		}
		s.latency = d
		return nil
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now == nil {
			return ErrInvalidInput
		}
		s.now = now
		return nil
	}
}

func NewService(store Store, log *slog.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, OpError{Op: "backend.NewService", Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Service{store: store, passwords: password.DefaultConfig(), log: log, now: time.Now}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	cs, err := challenge.NewService(store, store, challenge.WithClock(s.now))
	if err != nil {
		return nil, err
	}
	s.challenges = cs
	return s, nil
}

// Login checks username, password and the role the user claims to log in as.
// Every mismatch yields the same ErrUnauthorized.
func (s *Service) Login(ctx context.Context, username, pw string, role v1.Role) (v1.User, error) {
	const op = "backend.Login"
	if err := s.delay(ctx); err != nil {
		return v1.User{}, err
	}
	if NormalizeUsername(username) == "" || pw == "" || !role.Valid() {
		return v1.User{}, OpError{Op: op, Kind: ErrInvalidInput}
	}

	rec, err := s.store.GetUserByUsername(ctx, username)
	if IsNotFound(err) {
		s.log.Info("backend.login.reject", "username", username, "reason", "unknown_user")
		return v1.User{}, OpError{Op: op, Kind: ErrUnauthorized, Msg: "invalid credentials"}
	}
	if err != nil {
		return v1.User{}, err
	}

	ok, err := s.passwords.Verify(rec.PasswordHash, pw)
	if err != nil {
		s.log.Warn("backend.login.hash_invalid", "user_id", rec.User.ID, "err", err)
		return v1.User{}, OpError{Op: op, Kind: ErrUnauthorized, Msg: "invalid credentials"}
	}
	if !ok || rec.User.Role != role {
		s.log.Info("backend.login.reject", "user_id", rec.User.ID, "reason", "mismatch")
		return v1.User{}, OpError{Op: op, Kind: ErrUnauthorized, Msg: "invalid credentials"}
	}
	s.log.Info("backend.login", "user_id", rec.User.ID, "role", rec.User.Role)
	return rec.User, nil
}

func (s *Service) FetchDebate(ctx context.Context, id string) (v1.Debate, error) {
	if err := s.delay(ctx); err != nil {
		return v1.Debate{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return v1.Debate{}, debateNotFound("backend.FetchDebate", id)
	}
	return s.store.GetDebate(ctx, id)
}

func (s *Service) ListDebates(ctx context.Context) ([]v1.Debate, error) {
	if err := s.delay(ctx); err != nil {
		return nil, err
	}
	return s.store.ListDebates(ctx)
}

// JoinDebate seats p. Rejoining a held seat succeeds without changes.
func (s *Service) JoinDebate(ctx context.Context, id string, p v1.Participant) error {
	_, err := s.Join(ctx, id, p)
	return err
}

// Join is JoinDebate returning the resulting debate.
func (s *Service) Join(ctx context.Context, id string, p v1.Participant) (v1.Debate, error) {
	const op = "backend.JoinDebate"
	if err := s.delay(ctx); err != nil {
		return v1.Debate{}, err
	}

	var evts []turn.Event
	d, err := s.store.UpdateDebate(ctx, id, func(cur v1.Debate) (v1.Debate, error) {
		e, next, err := turn.Join(cur, p)
		if err != nil {
			return cur, err
		}
		if next.Status == v1.StatusLive && next.StartedAt.IsZero() {
			next.StartedAt = s.now().UTC()
		}
		evts = e
		return next, nil
	})
	switch {
	case errors.Is(err, turn.ErrRoomFull):
		return v1.Debate{}, ConflictError{Op: op, Field: "seat"}
	case errors.Is(err, turn.ErrNotPending):
		return v1.Debate{}, ConflictError{Op: op, Field: "status"}
	case errors.Is(err, turn.ErrInvalidParticipant):
		return v1.Debate{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "participant id required"}
	case err != nil:
		return v1.Debate{}, err
	}

	for _, e := range evts {
		s.log.Info("backend.join", "debate_id", d.ID, "event", e.Type, "slot", e.Slot, "user_id", e.Participant.ID)
	}
	if len(evts) > 0 {
		s.notifyDebate(d)
	}
	return d, nil
}

// OnDebateChange registers fn to run after a join changes a debate's seats or status.
// fn runs on the caller's goroutine and must not block.
func (s *Service) OnDebateChange(fn func(v1.Debate)) {
	if fn == nil {
		return
	}
	s.obsMu.Lock()
	s.observers = append(s.observers, fn)
	s.obsMu.Unlock()
}

func (s *Service) notifyDebate(d v1.Debate) {
	s.obsMu.RLock()
	obs := s.observers
	s.obsMu.RUnlock()
	for _, fn := range obs {
		fn(d)
	}
}

func (s *Service) MessagesForDebate(ctx context.Context, id string) ([]v1.Message, error) {
	if err := s.delay(ctx); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, id)
}

// PostMessage stores m for a live debate whose seat the author holds.
// A messageId seen before returns the stored copy with Duplicated set.
func (s *Service) PostMessage(ctx context.Context, debateID string, m v1.Message) (AppendResult, error) {
	const op = "backend.PostMessage"
	if err := m.Validate(); err != nil {
		return AppendResult{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
	}
	d, err := s.store.GetDebate(ctx, debateID)
	if err != nil {
		return AppendResult{}, err
	}
	if d.Status != v1.StatusLive {
		return AppendResult{}, ConflictError{Op: op, Field: "status"}
	}
	slot, ok := d.SlotOf(m.DebaterID)
	if !ok {
		return AppendResult{}, OpError{Op: op, Kind: ErrForbidden, Msg: "author is not seated"}
	}
	if m.DebaterName == "" {
		m.DebaterName = d.Seat(slot).Username
	}
	return s.store.AppendMessage(ctx, debateID, m)
}

func (s *Service) CreateChallenge(ctx context.Context, challenger v1.UserRef, topicID string, pos v1.Position) (v1.Challenge, error) {
	if err := s.delay(ctx); err != nil {
		return v1.Challenge{}, err
	}
	c, err := s.challenges.Create(ctx, challenger, topicID, pos)
	if err == nil {
		s.log.Info("backend.challenge.create", "challenge_id", c.ID, "topic_id", c.Topic.ID, "user_id", challenger.ID)
	}
	return c, err
}

func (s *Service) AcceptChallenge(ctx context.Context, id string, acceptor v1.UserRef) (v1.Challenge, v1.Debate, error) {
	if err := s.delay(ctx); err != nil {
		return v1.Challenge{}, v1.Debate{}, err
	}
	c, d, err := s.challenges.Accept(ctx, id, acceptor)
	if err == nil {
		s.log.Info("backend.challenge.accept", "challenge_id", c.ID, "debate_id", d.ID, "user_id", acceptor.ID)
	}
	return c, d, err
}

func (s *Service) DeclineChallenge(ctx context.Context, id string, by v1.UserRef) (v1.Challenge, error) {
	if err := s.delay(ctx); err != nil {
		return v1.Challenge{}, err
	}
	return s.challenges.Decline(ctx, id, by)
}

func (s *Service) ListChallenges(ctx context.Context) ([]v1.Challenge, error) {
	if err := s.delay(ctx); err != nil {
		return nil, err
	}
	return s.challenges.List(ctx)
}

func (s *Service) ListTopics(ctx context.Context) ([]v1.Topic, error) {
	if err := s.delay(ctx); err != nil {
		return nil, err
	}
	return s.store.ListTopics(ctx)
}

// ListUsers filters by role; an empty role lists everyone.
func (s *Service) ListUsers(ctx context.Context, role v1.Role) ([]v1.User, error) {
	if err := s.delay(ctx); err != nil {
		return nil, err
	}
	if role != "" && !role.Valid() {
		return nil, OpError{Op: "backend.ListUsers", Kind: ErrInvalidInput, Msg: "unknown role"}
	}
	return s.store.ListUsers(ctx, role)
}

func (s *Service) delay(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
