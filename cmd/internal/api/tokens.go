package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"podium/cmd/security/token"
	v1 "podium/shared/contracts/debate/v1"
)

// tokenStore keeps issued bearer tokens in memory, keyed by their hash.
type tokenStore struct {
	mu     sync.Mutex
	hasher token.Hasher
	ttl    time.Duration
	byHash map[string]tokenEntry
}

type tokenEntry struct {
	user v1.User
	exp  time.Time
}

func newTokenStore(h token.Hasher, ttl time.Duration) *tokenStore {
	return &tokenStore{hasher: h, ttl: ttl, byHash: make(map[string]tokenEntry)}
}

func (s *tokenStore) issue(u v1.User, now time.Time) (string, error) {
	tok, err := token.New()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)
	s.byHash[s.hasher.Hash(tok)] = tokenEntry{user: u, exp: now.Add(s.ttl)}
	return tok, nil
}

func (s *tokenStore) lookup(tok string, now time.Time) (v1.User, bool) {
	if tok == "" {
		return v1.User{}, false
	}
	key := s.hasher.Hash(tok)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byHash[key]
	if !ok || !now.Before(e.exp) {
		delete(s.byHash, key)
		return v1.User{}, false
	}
	return e.user, true
}

func (s *tokenStore) revoke(tok string) {
	s.mu.Lock()
	delete(s.byHash, s.hasher.Hash(tok))
	s.mu.Unlock()
}

func (s *tokenStore) sweepLocked(now time.Time) {
	for k, e := range s.byHash {
		if !now.Before(e.exp) {
			delete(s.byHash, k)
		}
	}
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return ""
	}
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}
