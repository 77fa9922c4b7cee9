// Package session keeps the locally authenticated participant across restarts.
package session

import (
	"errors"
	"fmt"
	"strings"

	"podium/cmd/internal/localstore"
	v1 "podium/shared/contracts/debate/v1"
)

var (
	ErrNoSession       = errors.New("session: not logged in")
	ErrInvalidIdentity = errors.New("session: invalid identity")
)

// Identity is the logged-in user as the rest of the client sees it.
// Token is the bearer credential issued by the backend at login.
type Identity struct {
	UserID   string  `json:"id"`
	Username string  `json:"username"`
	Role     v1.Role `json:"role"`
	Token    string  `json:"token,omitempty"`
}

func (i Identity) Validate() error {
	if strings.TrimSpace(i.UserID) == "" || strings.TrimSpace(i.Username) == "" || !i.Role.Valid() {
		return ErrInvalidIdentity
	}
	return nil
}

// User returns the public part of the identity.
func (i Identity) User() v1.User {
	return v1.User{ID: i.UserID, Username: i.Username, Role: i.Role}
}

// IsDebater reports whether the identity may take a seat.
func (i Identity) IsDebater() bool { return i.Role == v1.RoleDebater }

// Store persists the Identity under the "debateUser" key.
type Store struct {
	kv *localstore.Store
}

func NewStore(kv *localstore.Store) *Store { return &Store{kv: kv} }

// Load returns the saved identity or ErrNoSession.
func (s *Store) Load() (Identity, error) {
	var id Identity
	if err := s.kv.Get(localstore.KeyUser, &id); err != nil {
		if errors.Is(err, localstore.ErrNotFound) {
			return Identity{}, ErrNoSession
		}
		return Identity{}, fmt.Errorf("session load: %w", err)
	}
	if err := id.Validate(); err != nil {
		return Identity{}, ErrNoSession
	}
	return id, nil
}

func (s *Store) Save(id Identity) error {
	if err := id.Validate(); err != nil {
		return err
	}
	return s.kv.Put(localstore.KeyUser, id)
}

// Clear is logout.
func (s *Store) Clear() error {
	return s.kv.Delete(localstore.KeyUser)
}
