package messagelog

import (
	"errors"
	"fmt"
	"testing"
	"time"

	v1 "podium/shared/contracts/debate/v1"
)

func msg(id, body string) v1.Message {
	return v1.Message{
		MessageID:       id,
		DebaterID:       "1",
		DebaterName:     "alex_debater",
		Body:            body,
		Timestamp:       time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC),
		FactCheckStatus: v1.FactPending,
		Round:           1,
	}
}

func TestAppendIsIdempotent(t *testing.T) {
	t.Parallel()

	l := New()
	first := msg("msg-1", "Hello")

	got, err := l.Append(first)
	if err != nil || got != Accepted {
		t.Fatalf("Append=%v,%v want=accepted,nil", got, err)
	}

	// An echo carrying the same id must not change the log, even with a different body.
	echo := first
	echo.Body = "Hello (echo)"
	got, err = l.Append(echo)
	if err != nil || got != Duplicate {
		t.Fatalf("Append(echo)=%v,%v want=duplicate,nil", got, err)
	}

	all := l.All()
	if len(all) != 1 {
		t.Fatalf("len=%d want=1", len(all))
	}
	if all[0].Body != "Hello" {
		t.Fatalf("body=%q want=%q", all[0].Body, "Hello")
	}
}

func TestAppendStoresTrimmedID(t *testing.T) {
	t.Parallel()

	l := New()
	if got, err := l.Append(msg("  msg-7 ", "padded")); err != nil || got != Accepted {
		t.Fatalf("Append=%v,%v want=accepted,nil", got, err)
	}
	if got, _ := l.Append(msg("msg-7", "bare")); got != Duplicate {
		t.Fatalf("Append(bare)=%v want=duplicate", got)
	}

	if id := l.All()[0].MessageID; id != "msg-7" {
		t.Fatalf("stored id=%q want=%q", id, "msg-7")
	}
	stored, ok := l.Get(" msg-7")
	if !ok || stored.MessageID != "msg-7" || stored.Body != "padded" {
		t.Fatalf("Get=%+v,%v", stored, ok)
	}
}

func TestAppendKeepsFirstInsertionPosition(t *testing.T) {
	t.Parallel()

	l := New()
	for _, id := range []string{"a", "b", "c", "b", "a", "d"} {
		if _, err := l.Append(msg(id, id)); err != nil {
			t.Fatalf("Append(%s): %v", id, err)
		}
	}

	want := []string{"a", "b", "c", "d"}
	all := l.All()
	if len(all) != len(want) {
		t.Fatalf("len=%d want=%d", len(all), len(want))
	}
	for i, m := range all {
		if m.MessageID != want[i] {
			t.Fatalf("all[%d]=%q want=%q", i, m.MessageID, want[i])
		}
	}
}

func TestAppendDoesNotReorderByTimestamp(t *testing.T) {
	t.Parallel()

	l := New()
	late := msg("late", "late")
	late.Timestamp = late.Timestamp.Add(time.Hour)
	early := msg("early", "early")

	_, _ = l.Append(late)
	_, _ = l.Append(early)

	all := l.All()
	if all[0].MessageID != "late" || all[1].MessageID != "early" {
		t.Fatalf("order=%q,%q want=late,early", all[0].MessageID, all[1].MessageID)
	}
}

func TestAppendRejectsMissingID(t *testing.T) {
	t.Parallel()

	l := New()
	if _, err := l.Append(msg("  ", "x")); !errors.Is(err, ErrMissingID) {
		t.Fatalf("err=%v want ErrMissingID", err)
	}
	if l.Len() != 0 {
		t.Fatalf("len=%d want=0", l.Len())
	}
}

func TestAllReturnsSnapshot(t *testing.T) {
	t.Parallel()

	l := New()
	_, _ = l.Append(msg("a", "a"))

	snap := l.All()
	snap[0].Body = "mutated"
	_, _ = l.Append(msg("b", "b"))

	if got, _ := l.Get("a"); got.Body != "a" {
		t.Fatalf("stored body=%q want=%q", got.Body, "a")
	}
	if len(snap) != 1 {
		t.Fatalf("snapshot len=%d want=1", len(snap))
	}
	if _, ok := l.Get("zz"); ok {
		t.Fatalf("Get found an unknown id")
	}
}

func TestConcurrentEchoesStayUnique(t *testing.T) {
	t.Parallel()

	l := New()
	done := make(chan struct{})
	for w := 0; w < 4; w++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 50; i++ {
				_, _ = l.Append(msg(fmt.Sprintf("m-%d", i), "x"))
			}
		}()
	}
	for w := 0; w < 4; w++ {
		<-done
	}

	if l.Len() != 50 {
		t.Fatalf("len=%d want=50", l.Len())
	}
}
