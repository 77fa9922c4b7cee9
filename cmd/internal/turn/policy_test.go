package turn

import (
	"testing"

	v1 "podium/shared/contracts/debate/v1"
)

func TestManualRoundsNeverAdvances(t *testing.T) {
	s := liveState(600)
	var p ManualRounds
	for i := 0; i < 6; i++ {
		if got := p.AfterAccept(s, s.CurrentTurn); got != s.CurrentRound {
			t.Fatalf("round=%d want=%d", got, s.CurrentRound)
		}
		s.CurrentTurn = s.CurrentTurn.Other()
	}
}

func TestAlternationRoundsAdvancesAfterBothSpoke(t *testing.T) {
	s := liveState(600)
	p := NewAlternationRounds()

	speak := func(slot v1.Slot) {
		t.Helper()
		n := p.AfterAccept(s, slot)
		if n != s.CurrentRound {
			var err error
			if _, s, err = SetRound(s, n); err != nil {
				t.Fatalf("SetRound(%d): %v", n, err)
			}
		}
	}

	speak(v1.SlotDebater1)
	if s.CurrentRound != 1 {
		t.Fatalf("round=%d after one speaker want=1", s.CurrentRound)
	}
	speak(v1.SlotDebater2)
	if s.CurrentRound != 2 {
		t.Fatalf("round=%d after both spoke want=2", s.CurrentRound)
	}
	speak(v1.SlotDebater1)
	speak(v1.SlotDebater2)
	speak(v1.SlotDebater1)
	speak(v1.SlotDebater2)
	if s.CurrentRound != 3 {
		t.Fatalf("round=%d want capped at 3", s.CurrentRound)
	}
}

func TestAlternationRoundsResetsOnExternalRoundChange(t *testing.T) {
	s := liveState(600)
	p := NewAlternationRounds()

	_ = p.AfterAccept(s, v1.SlotDebater1)
	s.CurrentRound = 2 // moved by debate metadata

	if got := p.AfterAccept(s, v1.SlotDebater2); got != 2 {
		t.Fatalf("round=%d want=2 (debater1 has not spoken in round 2)", got)
	}
}
