package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"podium/cmd/identity/ids"
	"podium/cmd/internal/challenge"
	"podium/cmd/internal/localstore"
	v1 "podium/shared/contracts/debate/v1"
)

const memMaxMessagesPerDebate = 10_000

// MemoryStore is the dev store used when no database is configured.
// With WithPersistence the debate list survives restarts under the
// localstore "debates" key; users, topics and messages stay in memory.
type MemoryStore struct {
	mu         sync.Mutex
	debates    map[string]v1.Debate
	order      []string
	topics     map[string]v1.Topic
	users      map[string]UserRecord // normalized username -> record
	logs       map[string]*memLog
	challenges map[string]v1.Challenge

	kv  *localstore.Store
	ids *ids.Generator
}

type memLog struct {
	dedupe map[string]int // messageId -> index in msgs
	msgs   []v1.Message
}

type MemoryOption func(*MemoryStore) error

// WithPersistence mirrors the debate list into kv. Debates already saved
// there are loaded when the store is built.
func WithPersistence(kv *localstore.Store) MemoryOption {
	return func(s *MemoryStore) error {
		if kv == nil {
			return ErrInvalidInput
		}
		s.kv = kv
		return nil
	}
}

func NewMemoryStore(opts ...MemoryOption) (*MemoryStore, error) {
	s := &MemoryStore{
		debates:    make(map[string]v1.Debate),
		topics:     make(map[string]v1.Topic),
		users:      make(map[string]UserRecord),
		logs:       make(map[string]*memLog),
		challenges: make(map[string]v1.Challenge),
		ids:        ids.NewGenerator(nil),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.kv != nil {
		var saved []v1.Debate
		err := s.kv.Get(localstore.KeyDebates, &saved)
		switch {
		case errors.Is(err, localstore.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("load debates: %w", err)
		}
		for _, d := range saved {
			s.putDebateLocked(d)
		}
	}
	return s, nil
}

// Close closes the store (noop for in-memory).
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) ListDebates(ctx context.Context) ([]v1.Debate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debateListLocked(), nil
}

func (s *MemoryStore) GetDebate(ctx context.Context, id string) (v1.Debate, error) {
	if err := ctx.Err(); err != nil {
		return v1.Debate{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.debates[id]
	if !ok {
		return v1.Debate{}, debateNotFound("backend.GetDebate", id)
	}
	return d, nil
}

func (s *MemoryStore) PutDebate(ctx context.Context, d v1.Debate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.Validate(); err != nil {
		return OpError{Op: "backend.PutDebate", Kind: ErrInvalidInput, Msg: err.Error()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putDebateLocked(d)
	return s.persistLocked()
}

func (s *MemoryStore) UpdateDebate(ctx context.Context, id string, fn DebateUpdate) (v1.Debate, error) {
	if err := ctx.Err(); err != nil {
		return v1.Debate{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.debates[id]
	if !ok {
		return v1.Debate{}, debateNotFound("backend.UpdateDebate", id)
	}
	next, err := fn(cur)
	if err != nil {
		return v1.Debate{}, err
	}
	next.ID = cur.ID
	if err := next.Validate(); err != nil {
		return v1.Debate{}, OpError{Op: "backend.UpdateDebate", Kind: ErrInvalidInput, Msg: err.Error()}
	}
	if next == cur {
		return cur, nil
	}
	s.debates[id] = next
	if err := s.persistLocked(); err != nil {
		s.debates[id] = cur
		return v1.Debate{}, err
	}
	return next, nil
}

func (s *MemoryStore) ListTopics(ctx context.Context) ([]v1.Topic, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]v1.Topic, 0, len(s.topics))
	for _, t := range s.topics {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) FindTopic(ctx context.Context, id string) (v1.Topic, bool, error) {
	if err := ctx.Err(); err != nil {
		return v1.Topic{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[id]
	return t, ok, nil
}

func (s *MemoryStore) PutTopic(ctx context.Context, t v1.Topic) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(t.ID) == "" || strings.TrimSpace(t.Title) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[t.ID] = t
	return nil
}

func (s *MemoryStore) ListUsers(ctx context.Context, role v1.Role) ([]v1.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]v1.User, 0, len(s.users))
	for _, u := range s.users {
		if role == "" || u.User.Role == role {
			out = append(out, u.User)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetUserByUsername(ctx context.Context, username string) (UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return UserRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[NormalizeUsername(username)]
	if !ok {
		return UserRecord{}, NotFoundError{Op: "backend.GetUserByUsername", Resource: "user"}
	}
	return u, nil
}

func (s *MemoryStore) PutUser(ctx context.Context, u UserRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := NormalizeUsername(u.User.Username)
	if strings.TrimSpace(u.User.ID) == "" || key == "" || !u.User.Role.Valid() {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, existing := range s.users {
		if existing.User.ID == u.User.ID && k != key {
			return ConflictError{Op: "backend.PutUser", Field: "id"}
		}
	}
	s.users[key] = u
	return nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, debateID string, m v1.Message) (AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return AppendResult{}, err
	}
	if debateID == "" || strings.TrimSpace(m.MessageID) == "" {
		return AppendResult{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.debates[debateID]; !ok {
		return AppendResult{}, debateNotFound("backend.AppendMessage", debateID)
	}
	l := s.logs[debateID]
	if l == nil {
		l = &memLog{dedupe: make(map[string]int), msgs: make([]v1.Message, 0, 64)}
		s.logs[debateID] = l
	}
	if i, ok := l.dedupe[m.MessageID]; ok {
		return AppendResult{Stored: l.msgs[i], Duplicated: true}, nil
	}

	if m.ID == "" {
		id, err := s.ids.New("msg")
		if err != nil {
			return AppendResult{}, err
		}
		m.ID = id
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	l.dedupe[m.MessageID] = len(l.msgs)
	l.msgs = append(l.msgs, m)

	if len(l.msgs) > memMaxMessagesPerDebate {
		l.msgs = l.msgs[len(l.msgs)-memMaxMessagesPerDebate:]
		l.dedupe = make(map[string]int, len(l.msgs))
		for i, mm := range l.msgs {
			l.dedupe[mm.MessageID] = i
		}
	}
	return AppendResult{Stored: m}, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, debateID string) ([]v1.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.debates[debateID]; !ok {
		return nil, debateNotFound("backend.ListMessages", debateID)
	}
	l := s.logs[debateID]
	if l == nil {
		return []v1.Message{}, nil
	}
	return append([]v1.Message(nil), l.msgs...), nil
}

func (s *MemoryStore) CreateChallenge(ctx context.Context, c v1.Challenge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.ID == "" {
		return challenge.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.challenges[c.ID]; ok {
		return ConflictError{Op: "backend.CreateChallenge", Field: "id"}
	}
	s.challenges[c.ID] = c
	return nil
}

func (s *MemoryStore) GetChallenge(ctx context.Context, id string) (v1.Challenge, error) {
	if err := ctx.Err(); err != nil {
		return v1.Challenge{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[id]
	if !ok {
		return v1.Challenge{}, challenge.ErrNotFound
	}
	return c, nil
}

// ListChallenges returns challenges newest first.
func (s *MemoryStore) ListChallenges(ctx context.Context) ([]v1.Challenge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]v1.Challenge, 0, len(s.challenges))
	for _, c := range s.challenges {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) ResolveChallenge(ctx context.Context, r challenge.Resolution) (v1.Challenge, error) {
	if err := ctx.Err(); err != nil {
		return v1.Challenge{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[r.ID]
	if !ok {
		return v1.Challenge{}, challenge.ErrNotFound
	}
	if c.Status != v1.ChallengePending {
		return v1.Challenge{}, challenge.ErrNotActive
	}
	if r.Debate != nil {
		if err := r.Debate.Validate(); err != nil {
			return v1.Challenge{}, OpError{Op: "backend.ResolveChallenge", Kind: ErrInvalidInput, Msg: err.Error()}
		}
		if _, exists := s.debates[r.Debate.ID]; exists {
			return v1.Challenge{}, ConflictError{Op: "backend.ResolveChallenge", Field: "debate_id"}
		}
		s.putDebateLocked(*r.Debate)
		if err := s.persistLocked(); err != nil {
			s.dropDebateLocked(r.Debate.ID)
			return v1.Challenge{}, err
		}
		c.DebateID = r.Debate.ID
	}
	c.Status = r.Status
	c.Challenged = r.Challenged
	s.challenges[c.ID] = c
	return c, nil
}

func (s *MemoryStore) putDebateLocked(d v1.Debate) {
	if _, ok := s.debates[d.ID]; !ok {
		s.order = append(s.order, d.ID)
	}
	s.debates[d.ID] = d
}

func (s *MemoryStore) dropDebateLocked(id string) {
	delete(s.debates, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *MemoryStore) debateListLocked() []v1.Debate {
	out := make([]v1.Debate, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.debates[id])
	}
	return out
}

func (s *MemoryStore) persistLocked() error {
	if s.kv == nil {
		return nil
	}
	if err := s.kv.Put(localstore.KeyDebates, s.debateListLocked()); err != nil {
		return fmt.Errorf("persist debates: %w", err)
	}
	return nil
}
