// Package challenge turns open debate invitations into rooms.
package challenge

import (
	"context"
	"strings"
	"time"

	"podium/cmd/identity/ids"
	v1 "podium/shared/contracts/debate/v1"
)

const (
	defaultRounds   = 3
	defaultDuration = 10 * time.Minute
)

type Service struct {
	store    Store
	topics   Topics
	ids      *ids.Generator
	now      func() time.Time
	rounds   int
	duration time.Duration
}

type Option func(*Service) error

// WithRounds sets how many rounds an accepted challenge's debate has.
func WithRounds(n int) Option {
	return func(s *Service) error {
		if n < 1 {
			return ErrInvalidInput
		}
		s.rounds = n
		return nil
	}
}

// WithDuration sets the debate clock for accepted challenges.
func WithDuration(d time.Duration) Option {
	return func(s *Service) error {
		if d < time.Second {
			return ErrInvalidInput
		}
		s.duration = d
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

func NewService(store Store, topics Topics, opts ...Option) (*Service, error) {
	if store == nil || topics == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{
		store:    store,
		topics:   topics,
		now:      time.Now,
		rounds:   defaultRounds,
		duration: defaultDuration,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.ids = ids.NewGenerator(s.now)
	return s, nil
}

// Create opens a challenge on topicID with the challenger arguing pos.
func (s *Service) Create(ctx context.Context, challenger v1.UserRef, topicID string, pos v1.Position) (v1.Challenge, error) {
	if err := ctx.Err(); err != nil {
		return v1.Challenge{}, err
	}
	topicID = strings.TrimSpace(topicID)
	if strings.TrimSpace(challenger.ID) == "" || topicID == "" || !pos.Valid() {
		return v1.Challenge{}, ErrInvalidInput
	}

	topic, ok, err := s.topics.FindTopic(ctx, topicID)
	if err != nil {
		return v1.Challenge{}, err
	}
	if !ok {
		return v1.Challenge{}, ErrTopicNotFound
	}

	id, err := s.ids.New("ch")
	if err != nil {
		return v1.Challenge{}, err
	}
	c := v1.Challenge{
		ID:         id,
		Challenger: challenger,
		Topic:      topic,
		Position:   pos,
		Status:     v1.ChallengePending,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.CreateChallenge(ctx, c); err != nil {
		return v1.Challenge{}, err
	}
	return c, nil
}

// Accept records who took the challenge and opens its debate room.
// The room starts pending with the challenger seated and debater2 reserved
// for the opposite side; the acceptor takes it through the normal join.
func (s *Service) Accept(ctx context.Context, id string, acceptor v1.UserRef) (v1.Challenge, v1.Debate, error) {
	c, err := s.pending(ctx, id)
	if err != nil {
		return v1.Challenge{}, v1.Debate{}, err
	}
	if strings.TrimSpace(acceptor.ID) == "" || acceptor.ID == c.Challenger.ID {
		return v1.Challenge{}, v1.Debate{}, ErrInvalidInput
	}

	debateID, err := s.ids.New("dbt")
	if err != nil {
		return v1.Challenge{}, v1.Debate{}, err
	}
	d := v1.Debate{
		ID:    debateID,
		Topic: c.Topic,
		Debater1: v1.Participant{
			ID:       c.Challenger.ID,
			Username: c.Challenger.Username,
			Position: c.Position,
		},
		Debater2:      v1.Participant{Position: c.Position.Opposite()},
		Status:        v1.StatusPending,
		CurrentRound:  1,
		TotalRounds:   s.rounds,
		CurrentTurn:   v1.SlotDebater1,
		TimeRemaining: int(s.duration / time.Second),
	}

	out, err := s.store.ResolveChallenge(ctx, Resolution{
		ID:         c.ID,
		Status:     v1.ChallengeAccepted,
		Challenged: &acceptor,
		Debate:     &d,
	})
	if err != nil {
		return v1.Challenge{}, v1.Debate{}, err
	}
	return out, d, nil
}

// Decline closes the challenge without a debate.
func (s *Service) Decline(ctx context.Context, id string, by v1.UserRef) (v1.Challenge, error) {
	c, err := s.pending(ctx, id)
	if err != nil {
		return v1.Challenge{}, err
	}
	if strings.TrimSpace(by.ID) == "" {
		return v1.Challenge{}, ErrInvalidInput
	}
	return s.store.ResolveChallenge(ctx, Resolution{ID: c.ID, Status: v1.ChallengeDeclined, Challenged: &by})
}

// List returns every challenge, newest first.
func (s *Service) List(ctx context.Context) ([]v1.Challenge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.ListChallenges(ctx)
}

func (s *Service) pending(ctx context.Context, id string) (v1.Challenge, error) {
	if err := ctx.Err(); err != nil {
		return v1.Challenge{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return v1.Challenge{}, ErrInvalidInput
	}
	c, err := s.store.GetChallenge(ctx, id)
	if err != nil {
		return v1.Challenge{}, err
	}
	if c.Status != v1.ChallengePending {
		return v1.Challenge{}, ErrNotActive
	}
	return c, nil
}
