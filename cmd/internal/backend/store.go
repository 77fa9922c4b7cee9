// Package backend is the request/response side of Podium: the collaborator
// contract a room view depends on, a dev server implementation of it, and
// an HTTP client that reaches a remote one.
package backend

import (
	"context"
	"strings"

	"podium/cmd/internal/challenge"
	v1 "podium/shared/contracts/debate/v1"
)

// UserRecord is an account as stored, including its password hash.
type UserRecord struct {
	User         v1.User
	PasswordHash string
}

// AppendResult reports whether an append stored a new row or hit an existing messageId.
type AppendResult struct {
	Stored     v1.Message
	Duplicated bool
}

// DebateUpdate transforms a debate inside UpdateDebate. Returning an error aborts the update.
type DebateUpdate func(v1.Debate) (v1.Debate, error)

// Store persists the backend's catalog, rooms and messages.
//
// Requirements:
//   - AppendMessage is idempotent per (debate id, messageId); a duplicate
//     returns the originally stored message with Duplicated set.
//   - ListMessages returns messages in first-append order.
//   - UpdateDebate applies fn atomically with respect to other updates of the same debate.
type Store interface {
	ListDebates(ctx context.Context) ([]v1.Debate, error)
	GetDebate(ctx context.Context, id string) (v1.Debate, error)
	PutDebate(ctx context.Context, d v1.Debate) error
	UpdateDebate(ctx context.Context, id string, fn DebateUpdate) (v1.Debate, error)

	ListTopics(ctx context.Context) ([]v1.Topic, error)
	FindTopic(ctx context.Context, id string) (v1.Topic, bool, error)
	PutTopic(ctx context.Context, t v1.Topic) error

	ListUsers(ctx context.Context, role v1.Role) ([]v1.User, error)
	GetUserByUsername(ctx context.Context, username string) (UserRecord, error)
	PutUser(ctx context.Context, u UserRecord) error

	AppendMessage(ctx context.Context, debateID string, m v1.Message) (AppendResult, error)
	ListMessages(ctx context.Context, debateID string) ([]v1.Message, error)

	challenge.Store

	Close() error
}

// NormalizeUsername performs case-insensitive canonicalization.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
