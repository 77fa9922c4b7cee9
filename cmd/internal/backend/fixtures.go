package backend

import (
	"context"
	"fmt"
	"time"

	"podium/cmd/security/password"
	v1 "podium/shared/contracts/debate/v1"
)

// FixturePassword is the password every seeded account logs in with.
const FixturePassword = "pass123"

var fixtureUsers = []v1.User{
	{ID: "1", Username: "alex_debater", Role: v1.RoleDebater},
	{ID: "2", Username: "sarah_debate", Role: v1.RoleDebater},
	{ID: "3", Username: "mike_pro", Role: v1.RoleDebater},
	{ID: "4", Username: "emma_viewer", Role: v1.RoleAudience},
	{ID: "5", Username: "john_observer", Role: v1.RoleAudience},
}

var fixtureTopics = []v1.Topic{
	{ID: "t1", Title: "AI will replace human jobs within 10 years", Category: "Technology"},
	{ID: "t2", Title: "Social media does more harm than good", Category: "Society"},
	{ID: "t3", Title: "Climate change is the biggest threat to humanity", Category: "Environment"},
	{ID: "t4", Title: "Remote work is better than office work", Category: "Work Culture"},
	{ID: "t5", Title: "Nuclear energy is the solution to climate crisis", Category: "Energy"},
	{ID: "t6", Title: "Cryptocurrency will replace traditional banking", Category: "Finance"},
}

// FixtureDebates returns the two live demo rooms, timed relative to now.
func FixtureDebates(now time.Time) []v1.Debate {
	now = now.UTC()
	return []v1.Debate{
		{
			ID:            "d1",
			Topic:         fixtureTopics[0],
			Debater1:      v1.Participant{ID: "1", Username: "alex_debater", Position: v1.PositionFor},
			Debater2:      v1.Participant{ID: "2", Username: "sarah_debate", Position: v1.PositionAgainst},
			Status:        v1.StatusLive,
			CurrentRound:  2,
			TotalRounds:   3,
			CurrentTurn:   v1.SlotDebater1,
			TimeRemaining: 420,
			StartedAt:     now.Add(-10 * time.Minute),
		},
		{
			ID:            "d2",
			Topic:         fixtureTopics[1],
			Debater1:      v1.Participant{ID: "3", Username: "mike_pro", Position: v1.PositionAgainst},
			Debater2:      v1.Participant{ID: "1", Username: "alex_debater", Position: v1.PositionFor},
			Status:        v1.StatusLive,
			CurrentRound:  1,
			TotalRounds:   3,
			CurrentTurn:   v1.SlotDebater2,
			TimeRemaining: 540,
			StartedAt:     now.Add(-5 * time.Minute),
		},
	}
}

// FixtureMessages returns the demo history keyed by debate id.
// The seeded rows predate client-generated ids, so MessageID mirrors ID.
func FixtureMessages(now time.Time) map[string][]v1.Message {
	now = now.UTC()
	msg := func(id, author, name, body string, ago time.Duration, fc v1.FactCheckStatus, round int) v1.Message {
		return v1.Message{
			ID: id, MessageID: id, DebaterID: author, DebaterName: name, Body: body,
			Timestamp: now.Add(-ago), FactCheckStatus: fc, Round: round,
		}
	}
	return map[string][]v1.Message{
		"d1": {
			msg("m1", "1", "alex_debater",
				"AI and automation are already transforming industries. Look at manufacturing - robots now perform tasks that used to require hundreds of workers.",
				500*time.Second, v1.FactVerified, 1),
			msg("m2", "2", "sarah_debate",
				"While automation exists, it also creates new jobs. The tech industry has grown exponentially, creating millions of positions that didn't exist 20 years ago.",
				480*time.Second, v1.FactVerified, 1),
			msg("m3", "1", "alex_debater",
				"Studies show that AI could automate 30% of current jobs by 2030. The pace of change is unprecedented.",
				460*time.Second, v1.FactQuestionable, 2),
		},
		"d2": {
			msg("m4", "3", "mike_pro",
				"Social media platforms are designed to be addictive, exploiting psychological vulnerabilities for profit.",
				240*time.Second, v1.FactVerified, 1),
		},
	}
}

// Seed loads the demo accounts and topics. Debates and their history are
// only added when the store has no debates yet, so persisted rooms survive.
func Seed(ctx context.Context, st Store, pw password.Config, now time.Time) error {
	for _, u := range fixtureUsers {
		hash, err := pw.Hash(FixturePassword)
		if err != nil {
			return fmt.Errorf("seed user %s: %w", u.Username, err)
		}
		if err := st.PutUser(ctx, UserRecord{User: u, PasswordHash: hash}); err != nil {
			return fmt.Errorf("seed user %s: %w", u.Username, err)
		}
	}
	for _, t := range fixtureTopics {
		if err := st.PutTopic(ctx, t); err != nil {
			return fmt.Errorf("seed topic %s: %w", t.ID, err)
		}
	}

	existing, err := st.ListDebates(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	msgs := FixtureMessages(now)
	for _, d := range FixtureDebates(now) {
		if err := st.PutDebate(ctx, d); err != nil {
			return fmt.Errorf("seed debate %s: %w", d.ID, err)
		}
		for _, m := range msgs[d.ID] {
			if _, err := st.AppendMessage(ctx, d.ID, m); err != nil {
				return fmt.Errorf("seed message %s: %w", m.MessageID, err)
			}
		}
	}
	return nil
}
