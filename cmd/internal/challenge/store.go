package challenge

import (
	"context"

	v1 "podium/shared/contracts/debate/v1"
)

// Resolution closes a pending challenge. When Debate is set it is created in
// the same step, so an accepted challenge always points at an existing room.
type Resolution struct {
	ID         string
	Status     v1.ChallengeStatus
	Challenged *v1.UserRef
	Debate     *v1.Debate
}

// Store is the persistence boundary for challenges.
//
// ResolveChallenge must only move a challenge out of pending once; a second
// resolution returns ErrNotActive and a missing id returns ErrNotFound.
type Store interface {
	CreateChallenge(ctx context.Context, c v1.Challenge) error
	GetChallenge(ctx context.Context, id string) (v1.Challenge, error)
	ListChallenges(ctx context.Context) ([]v1.Challenge, error)
	ResolveChallenge(ctx context.Context, r Resolution) (v1.Challenge, error)
}

// Topics resolves the motion a challenge is about.
type Topics interface {
	FindTopic(ctx context.Context, id string) (v1.Topic, bool, error)
}
