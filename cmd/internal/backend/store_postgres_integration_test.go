package backend

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"podium/cmd/internal/challenge"
	v1 "podium/shared/contracts/debate/v1"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when PODIUM_DATABASE_URL is set.

func TestPostgresStoreSeedAndRead(t *testing.T) {
	t.Parallel()
	st := mustPostgresStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := Seed(ctx, st, cheapPasswords(), fixedNow); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Second seed must not duplicate debates or messages.
	if err := Seed(ctx, st, cheapPasswords(), fixedNow); err != nil {
		t.Fatalf("reseed: %v", err)
	}

	ds, err := st.ListDebates(ctx)
	if err != nil || len(ds) != 2 {
		t.Fatalf("debates=%d err=%v", len(ds), err)
	}
	d1, err := st.GetDebate(ctx, "d1")
	if err != nil {
		t.Fatalf("get d1: %v", err)
	}
	if d1.Debater1.Username != "alex_debater" || d1.CurrentRound != 2 || !d1.StartedAt.Equal(fixedNow.Add(-10*time.Minute)) {
		t.Fatalf("d1=%+v", d1)
	}
	msgs, err := st.ListMessages(ctx, "d1")
	if err != nil || len(msgs) != 3 || msgs[0].MessageID != "m1" {
		t.Fatalf("messages=%+v err=%v", msgs, err)
	}
	rec, err := st.GetUserByUsername(ctx, "EMMA_VIEWER")
	if err != nil || rec.User.Role != v1.RoleAudience {
		t.Fatalf("user=%+v err=%v", rec, err)
	}
	if _, err := st.GetDebate(ctx, "nope"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("missing debate err=%v", err)
	}
}

func TestPostgresStoreAppendConcurrentDedupe(t *testing.T) {
	t.Parallel()
	st := mustPostgresStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := st.PutDebate(ctx, FixtureDebates(fixedNow)[0]); err != nil {
		t.Fatalf("put debate: %v", err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		dups int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := v1.Message{MessageID: fmt.Sprintf("m-%d", i%4), DebaterID: "1", Body: "x", Timestamp: fixedNow, FactCheckStatus: v1.FactPending, Round: 1}
			res, err := st.AppendMessage(ctx, "d1", m)
			if err != nil {
				t.Errorf("append: %v", err)
				return
			}
			if res.Duplicated {
				mu.Lock()
				dups++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	msgs, err := st.ListMessages(ctx, "d1")
	if err != nil || len(msgs) != 4 {
		t.Fatalf("messages=%d err=%v", len(msgs), err)
	}
	if dups != 16 {
		t.Fatalf("duplicates=%d want=16", dups)
	}
}

func TestPostgresStoreChallengeResolution(t *testing.T) {
	t.Parallel()
	st := mustPostgresStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	c := v1.Challenge{
		ID: "ch1", Challenger: v1.UserRef{ID: "1", Username: "alex_debater"},
		Topic: v1.Topic{ID: "t1", Title: "AI"}, Position: v1.PositionFor,
		Status: v1.ChallengePending, CreatedAt: fixedNow,
	}
	if err := st.CreateChallenge(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}

	d := pendingDebate("dbt_1")
	out, err := st.ResolveChallenge(ctx, challenge.Resolution{
		ID: "ch1", Status: v1.ChallengeAccepted,
		Challenged: &v1.UserRef{ID: "3", Username: "mike_pro"}, Debate: &d,
	})
	if err != nil || out.DebateID != "dbt_1" || out.Challenged == nil {
		t.Fatalf("resolve=%+v err=%v", out, err)
	}
	if _, err := st.ResolveChallenge(ctx, challenge.Resolution{ID: "ch1", Status: v1.ChallengeDeclined}); !errors.Is(err, challenge.ErrNotActive) {
		t.Fatalf("second resolve err=%v", err)
	}

	joined, err := st.UpdateDebate(ctx, "dbt_1", func(d v1.Debate) (v1.Debate, error) {
		d.Debater2.ID, d.Debater2.Username, d.Status = "3", "mike_pro", v1.StatusLive
		return d, nil
	})
	if err != nil || joined.Status != v1.StatusLive {
		t.Fatalf("update=%+v err=%v", joined, err)
	}
}

func mustPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("PODIUM_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: PODIUM_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, raw)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	b := make([]byte, 6)
	_, _ = rand.Read(b)
	schema := "podium_it_" + hex.EncodeToString(b)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	})

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	if err := st.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return st
}
