package turn

import v1 "podium/shared/contracts/debate/v1"

// RoundPolicy decides which round the debate is in after an accepted submit.
// The engine itself never advances rounds.
type RoundPolicy interface {
	AfterAccept(s State, speaker v1.Slot) int
}

// ManualRounds keeps whatever round the debate metadata carries.
type ManualRounds struct{}

func (ManualRounds) AfterAccept(s State, _ v1.Slot) int { return s.CurrentRound }

// AlternationRounds advances the round once both seats have spoken in it.
// It stops at the last round; ending the debate is left to the caller.
type AlternationRounds struct {
	round  int
	spoken map[v1.Slot]bool
}

// NewAlternationRounds returns a policy with no speakers recorded.
func NewAlternationRounds() *AlternationRounds {
	return &AlternationRounds{spoken: make(map[v1.Slot]bool, 2)}
}

func (p *AlternationRounds) AfterAccept(s State, speaker v1.Slot) int {
	if p.round != s.CurrentRound {
		// Round was moved externally; start counting afresh.
		p.round = s.CurrentRound
		clear(p.spoken)
	}

	p.spoken[speaker] = true
	if !p.spoken[v1.SlotDebater1] || !p.spoken[v1.SlotDebater2] {
		return s.CurrentRound
	}
	if s.CurrentRound >= s.TotalRounds {
		return s.CurrentRound
	}

	p.round = s.CurrentRound + 1
	clear(p.spoken)
	return p.round
}
