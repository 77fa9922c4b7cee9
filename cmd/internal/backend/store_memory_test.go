package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"podium/cmd/internal/challenge"
	v1 "podium/shared/contracts/debate/v1"
)

func TestMemoryStoreAppendIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st, _ := NewMemoryStore()
	_ = st.PutDebate(ctx, FixtureDebates(fixedNow)[0])

	m := v1.Message{MessageID: "1711965600000-0", DebaterID: "1", Body: "Hello", Timestamp: fixedNow, FactCheckStatus: v1.FactPending, Round: 2}
	first, err := st.AppendMessage(ctx, "d1", m)
	if err != nil || first.Duplicated || first.Stored.ID == "" {
		t.Fatalf("first append=%+v err=%v", first, err)
	}

	m.Body = "edited"
	again, err := st.AppendMessage(ctx, "d1", m)
	if err != nil || !again.Duplicated {
		t.Fatalf("second append=%+v err=%v", again, err)
	}
	if again.Stored.Body != "Hello" || again.Stored.ID != first.Stored.ID {
		t.Fatalf("duplicate returned %+v want original", again.Stored)
	}

	msgs, _ := st.ListMessages(ctx, "d1")
	if len(msgs) != 1 {
		t.Fatalf("len=%d want=1", len(msgs))
	}
}

func TestMemoryStoreAppendConcurrentKeepsOneCopy(t *testing.T) {
	ctx := context.Background()
	st, _ := NewMemoryStore()
	_ = st.PutDebate(ctx, FixtureDebates(fixedNow)[0])

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := v1.Message{MessageID: fmt.Sprintf("m-%d", i%5), DebaterID: "1", Body: "x", Timestamp: fixedNow, FactCheckStatus: v1.FactPending, Round: 1}
			if _, err := st.AppendMessage(ctx, "d1", m); err != nil {
				t.Errorf("append: %v", err)
			}
		}(i)
	}
	wg.Wait()

	msgs, _ := st.ListMessages(ctx, "d1")
	if len(msgs) != 5 {
		t.Fatalf("len=%d want=5", len(msgs))
	}
}

func TestMemoryStoreMissingDebate(t *testing.T) {
	ctx := context.Background()
	st, _ := NewMemoryStore()

	_, err := st.GetDebate(ctx, "nope")
	if !errors.Is(err, ErrRoomNotFound) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrRoomNotFound and ErrNotFound", err)
	}
	if _, err := st.AppendMessage(ctx, "nope", v1.Message{MessageID: "x"}); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("append err=%v", err)
	}
	if _, err := st.ListMessages(ctx, "nope"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("list err=%v", err)
	}
}

func TestMemoryStoreUserNotFoundIsNotRoom(t *testing.T) {
	st, _ := NewMemoryStore()
	_, err := st.GetUserByUsername(context.Background(), "ghost")
	if !IsNotFound(err) || errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestMemoryStoreUpdateDebateValidates(t *testing.T) {
	ctx := context.Background()
	st, _ := NewMemoryStore()
	_ = st.PutDebate(ctx, FixtureDebates(fixedNow)[0])

	_, err := st.UpdateDebate(ctx, "d1", func(d v1.Debate) (v1.Debate, error) {
		d.CurrentRound = 9
		return d, nil
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err=%v want ErrInvalidInput", err)
	}
	d, _ := st.GetDebate(ctx, "d1")
	if d.CurrentRound != 2 {
		t.Fatalf("rejected update leaked: round=%d", d.CurrentRound)
	}
}

func TestMemoryStorePersistsDebates(t *testing.T) {
	ctx := context.Background()
	path := statePath(t)

	st := newPersistentStore(t, path)
	if err := st.PutDebate(ctx, pendingDebate("d9")); err != nil {
		t.Fatalf("PutDebate: %v", err)
	}
	if _, err := st.UpdateDebate(ctx, "d9", func(d v1.Debate) (v1.Debate, error) {
		d.TimeRemaining = 300
		return d, nil
	}); err != nil {
		t.Fatalf("UpdateDebate: %v", err)
	}

	again := newPersistentStore(t, path)
	d, err := again.GetDebate(ctx, "d9")
	if err != nil {
		t.Fatalf("GetDebate after reopen: %v", err)
	}
	if d.TimeRemaining != 300 || !d.Debater2.Vacant() {
		t.Fatalf("restored=%+v", d)
	}
}

func TestMemoryStoreResolveChallengeOnce(t *testing.T) {
	ctx := context.Background()
	st, _ := NewMemoryStore()
	c := v1.Challenge{ID: "ch1", Challenger: v1.UserRef{ID: "1"}, Status: v1.ChallengePending, CreatedAt: fixedNow}
	if err := st.CreateChallenge(ctx, c); err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	if err := st.CreateChallenge(ctx, c); !IsConflict(err) {
		t.Fatalf("duplicate create err=%v", err)
	}

	d := pendingDebate("dbt_1")
	out, err := st.ResolveChallenge(ctx, challenge.Resolution{ID: "ch1", Status: v1.ChallengeAccepted, Debate: &d})
	if err != nil || out.DebateID != "dbt_1" {
		t.Fatalf("resolve=%+v err=%v", out, err)
	}
	if _, err := st.GetDebate(ctx, "dbt_1"); err != nil {
		t.Fatalf("debate not created: %v", err)
	}
	if _, err := st.ResolveChallenge(ctx, challenge.Resolution{ID: "ch1", Status: v1.ChallengeDeclined}); !errors.Is(err, challenge.ErrNotActive) {
		t.Fatalf("second resolve err=%v", err)
	}
	if _, err := st.ResolveChallenge(ctx, challenge.Resolution{ID: "zz"}); !errors.Is(err, challenge.ErrNotFound) {
		t.Fatalf("missing resolve err=%v", err)
	}
}

func TestSeedKeepsPersistedDebates(t *testing.T) {
	ctx := context.Background()
	path := statePath(t)

	st := newPersistentStore(t, path)
	_ = st.PutDebate(ctx, pendingDebate("d9"))

	again := newPersistentStore(t, path)
	if err := Seed(ctx, again, cheapPasswords(), fixedNow); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	ds, _ := again.ListDebates(ctx)
	if len(ds) != 1 || ds[0].ID != "d9" {
		t.Fatalf("debates=%+v want only d9", ds)
	}
	topics, _ := again.ListTopics(ctx)
	if len(topics) != 6 {
		t.Fatalf("topics=%d want=6", len(topics))
	}
}

func TestSeedFixtures(t *testing.T) {
	ctx := context.Background()
	_, st := seededService(t)

	ds, _ := st.ListDebates(ctx)
	if len(ds) != 2 || ds[0].ID != "d1" || ds[1].ID != "d2" {
		t.Fatalf("debates=%+v", ds)
	}
	for _, d := range ds {
		if err := d.Validate(); err != nil {
			t.Fatalf("%s invalid: %v", d.ID, err)
		}
	}
	msgs, _ := st.ListMessages(ctx, "d1")
	if len(msgs) != 3 || msgs[0].MessageID != "m1" || msgs[2].Round != 2 {
		t.Fatalf("d1 messages=%+v", msgs)
	}
	debaters, _ := st.ListUsers(ctx, v1.RoleDebater)
	audience, _ := st.ListUsers(ctx, v1.RoleAudience)
	if len(debaters) != 3 || len(audience) != 2 {
		t.Fatalf("debaters=%d audience=%d", len(debaters), len(audience))
	}
}
