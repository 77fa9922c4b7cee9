package backend

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"podium/cmd/internal/localstore"
	"podium/cmd/security/password"
	v1 "podium/shared/contracts/debate/v1"
)

var fixedNow = time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func cheapPasswords() password.Config {
	c := password.DefaultConfig()
	c.Params.MemoryKiB = 8 * 1024
	c.Params.Iterations = 1
	c.Params.Parallelism = 1
	return c
}

// seededService returns a Service over a fixture-seeded MemoryStore.
func seededService(t *testing.T, opts ...Option) (*Service, *MemoryStore) {
	t.Helper()
	st, err := NewMemoryStore()
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	pw := cheapPasswords()
	if err := Seed(context.Background(), st, pw, fixedNow); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	opts = append([]Option{WithPasswords(pw), WithClock(func() time.Time { return fixedNow })}, opts...)
	svc, err := NewService(st, testLogger(), opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, st
}

func pendingDebate(id string) v1.Debate {
	return v1.Debate{
		ID:            id,
		Topic:         v1.Topic{ID: "t3", Title: "Climate change is the biggest threat to humanity"},
		Debater1:      v1.Participant{ID: "2", Username: "sarah_debate", Position: v1.PositionFor},
		Debater2:      v1.Participant{Position: v1.PositionAgainst},
		Status:        v1.StatusPending,
		CurrentRound:  1,
		TotalRounds:   3,
		CurrentTurn:   v1.SlotDebater1,
		TimeRemaining: 600,
	}
}

func newPersistentStore(t *testing.T, path string) *MemoryStore {
	t.Helper()
	kv, err := localstore.Open(path)
	if err != nil {
		t.Fatalf("localstore.Open: %v", err)
	}
	st, err := NewMemoryStore(WithPersistence(kv))
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	return st
}

func statePath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "state.json")
}
