// Package turn is the debate state machine.
//
// Apply is a pure function: it never touches the network, the clock or the message log.
// Callers own the state value and replace it with the returned one on success.
package turn

import (
	"strings"

	v1 "podium/shared/contracts/debate/v1"
)

// State is the debate session the engine transitions.
type State = v1.Debate

// Submitter identifies who is trying to speak.
type Submitter struct {
	UserID string
	Role   v1.Role
}

type CommandType string

const (
	CmdJoin     CommandType = "Join"
	CmdSubmit   CommandType = "Submit"
	CmdTick     CommandType = "Tick"
	CmdSetRound CommandType = "SetRound"
	CmdComplete CommandType = "Complete"
)

type Command struct {
	Type        CommandType
	Participant v1.Participant // CmdJoin
	Submitter   Submitter      // CmdSubmit
	Message     v1.Message     // CmdSubmit
	Round       int            // CmdSetRound
}

type EventType string

const (
	EvtParticipantJoined EventType = "ParticipantJoined"
	EvtWentLive          EventType = "WentLive"
	EvtMessageAccepted   EventType = "MessageAccepted"
	EvtTurnChanged       EventType = "TurnChanged"
	EvtClockExpired      EventType = "ClockExpired"
	EvtRoundChanged      EventType = "RoundChanged"
	EvtCompleted         EventType = "Completed"
)

// Event describes one effect of an applied command.
// For EvtTurnChanged, From/To are the seats and Participant is the next speaker.
type Event struct {
	Type        EventType
	Slot        v1.Slot
	From        v1.Slot
	To          v1.Slot
	Participant v1.Participant
	Message     v1.Message
	Round       int
}

// Apply runs cmd against s. On error the returned state is s unchanged and no events are emitted.
func Apply(s State, cmd Command) ([]Event, State, error) {
	switch cmd.Type {
	case CmdJoin:
		return join(s, cmd.Participant)
	case CmdSubmit:
		return submit(s, cmd.Submitter, cmd.Message)
	case CmdTick:
		evts, next := tick(s)
		return evts, next, nil
	case CmdSetRound:
		return setRound(s, cmd.Round)
	case CmdComplete:
		evts, next := complete(s)
		return evts, next, nil
	default:
		return nil, s, ErrUnsupportedCommand
	}
}

// Join seats p in the vacant slot.
func Join(s State, p v1.Participant) ([]Event, State, error) {
	return Apply(s, Command{Type: CmdJoin, Participant: p})
}

// Submit validates and accepts m on behalf of who.
func Submit(s State, who Submitter, m v1.Message) ([]Event, State, error) {
	return Apply(s, Command{Type: CmdSubmit, Submitter: who, Message: m})
}

// Tick advances the countdown by one second.
func Tick(s State) ([]Event, State) {
	evts, next, _ := Apply(s, Command{Type: CmdTick})
	return evts, next
}

// SetRound moves the debate to round n.
func SetRound(s State, n int) ([]Event, State, error) {
	return Apply(s, Command{Type: CmdSetRound, Round: n})
}

// Complete marks the debate as finished.
func Complete(s State) ([]Event, State) {
	evts, next, _ := Apply(s, Command{Type: CmdComplete})
	return evts, next
}

func join(s State, p v1.Participant) ([]Event, State, error) {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return nil, s, ErrInvalidParticipant
	}

	// Rejoining a held seat is how reconnects look from here.
	if _, ok := s.SlotOf(p.ID); ok {
		return nil, s, nil
	}

	if s.Status != v1.StatusPending && s.Status != v1.StatusScheduled {
		return nil, s, ErrNotPending
	}

	var slot v1.Slot
	switch {
	case s.Debater1.Vacant():
		slot = v1.SlotDebater1
	case s.Debater2.Vacant():
		slot = v1.SlotDebater2
	default:
		return nil, s, ErrRoomFull
	}

	next := s
	seat := v1.Participant{ID: p.ID, Username: p.Username, Position: seatPosition(s, slot, p.Position)}
	if slot == v1.SlotDebater1 {
		next.Debater1 = seat
	} else {
		next.Debater2 = seat
	}

	evts := []Event{{Type: EvtParticipantJoined, Slot: slot, Participant: seat}}

	if !next.Debater1.Vacant() && !next.Debater2.Vacant() {
		next.Status = v1.StatusLive
		if !next.CurrentTurn.Valid() {
			next.CurrentTurn = v1.SlotDebater1
		}
		evts = append(evts, Event{
			Type:        EvtWentLive,
			Slot:        next.CurrentTurn,
			Participant: next.Seat(next.CurrentTurn),
		})
	}
	return evts, next, nil
}

// A seat reserved by a challenge keeps its side; otherwise the joiner's wish counts,
// falling back to the side opposite the other seat.
func seatPosition(s State, slot v1.Slot, want v1.Position) v1.Position {
	if reserved := s.Seat(slot).Position; reserved.Valid() {
		return reserved
	}
	if want.Valid() {
		return want
	}
	if other := s.Seat(slot.Other()).Position; other.Valid() {
		return other.Opposite()
	}
	return v1.PositionFor
}

func submit(s State, who Submitter, m v1.Message) ([]Event, State, error) {
	if s.Status != v1.StatusLive {
		return nil, s, ErrNotLive
	}
	if who.Role == v1.RoleAudience {
		return nil, s, ErrNotParticipant
	}
	slot, ok := s.SlotOf(who.UserID)
	if !ok {
		return nil, s, ErrNotParticipant
	}
	if m.DebaterID != "" && m.DebaterID != who.UserID {
		return nil, s, ErrNotParticipant
	}
	if s.TimeRemaining <= 0 {
		return nil, s, ErrTimeExpired
	}
	if slot != s.CurrentTurn {
		return nil, s, ErrNotYourTurn
	}

	next := s
	next.CurrentTurn = slot.Other()

	return []Event{
		{Type: EvtMessageAccepted, Slot: slot, Message: m, Round: s.CurrentRound},
		{Type: EvtTurnChanged, From: slot, To: next.CurrentTurn, Participant: next.Seat(next.CurrentTurn)},
	}, next, nil
}

func tick(s State) ([]Event, State) {
	if s.Status != v1.StatusLive || s.TimeRemaining <= 0 {
		return nil, s
	}

	next := s
	next.TimeRemaining--
	if next.TimeRemaining == 0 {
		return []Event{{Type: EvtClockExpired, Slot: next.CurrentTurn}}, next
	}
	return nil, next
}

func setRound(s State, n int) ([]Event, State, error) {
	if n < 1 || n > s.TotalRounds || n < s.CurrentRound {
		return nil, s, ErrInvalidRound
	}
	if n == s.CurrentRound {
		return nil, s, nil
	}

	next := s
	next.CurrentRound = n
	return []Event{{Type: EvtRoundChanged, Round: n}}, next, nil
}

func complete(s State) ([]Event, State) {
	if s.Status == v1.StatusCompleted {
		return nil, s
	}
	next := s
	next.Status = v1.StatusCompleted
	return []Event{{Type: EvtCompleted, Round: next.CurrentRound}}, next
}
