package v1

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role is the kind of account a user logged in with.
type Role string

const (
	RoleDebater  Role = "debater"
	RoleAudience Role = "audience"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleDebater || r == RoleAudience }

// User is the public view of an account.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// UserRef is a short reference to a user.
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Topic is a debate motion.
type Topic struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Category string `json:"category"`
}

// Position is the side a debater argues.
type Position string

const (
	PositionFor     Position = "for"
	PositionAgainst Position = "against"
)

// Valid reports whether p is a known position.
func (p Position) Valid() bool { return p == PositionFor || p == PositionAgainst }

// Opposite returns the other side.
func (p Position) Opposite() Position {
	if p == PositionFor {
		return PositionAgainst
	}
	return PositionFor
}

// Participant occupies one debater slot. A zero ID marks the slot as vacant.
type Participant struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Position Position `json:"position"`
}

// Vacant reports whether the slot has not been filled yet.
func (p Participant) Vacant() bool { return strings.TrimSpace(p.ID) == "" }

// Slot names one of the two debater seats.
type Slot string

const (
	SlotDebater1 Slot = "debater1"
	SlotDebater2 Slot = "debater2"
)

// Valid reports whether s names a seat.
func (s Slot) Valid() bool { return s == SlotDebater1 || s == SlotDebater2 }

// Other returns the opposing seat.
func (s Slot) Other() Slot {
	if s == SlotDebater1 {
		return SlotDebater2
	}
	return SlotDebater1
}

// Status is the debate lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusLive      Status = "live"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusLive, StatusCompleted:
		return true
	}
	return false
}

// Debate is the room session shared by both debaters and the audience.
type Debate struct {
	ID            string      `json:"id"`
	Topic         Topic       `json:"topic"`
	Debater1      Participant `json:"debater1"`
	Debater2      Participant `json:"debater2"`
	Status        Status      `json:"status"`
	CurrentRound  int         `json:"currentRound"`
	TotalRounds   int         `json:"totalRounds"`
	CurrentTurn   Slot        `json:"currentTurn"`
	TimeRemaining int         `json:"timeRemaining"`
	StartedAt     time.Time   `json:"startedAt"`
}

// Seat returns the participant sitting in slot s.
func (d Debate) Seat(s Slot) Participant {
	if s == SlotDebater2 {
		return d.Debater2
	}
	return d.Debater1
}

// SlotOf returns the seat held by userID, if any.
func (d Debate) SlotOf(userID string) (Slot, bool) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", false
	}
	switch {
	case d.Debater1.ID == userID:
		return SlotDebater1, true
	case d.Debater2.ID == userID:
		return SlotDebater2, true
	}
	return "", false
}

// Validate checks the structural invariants of a debate session.
func (d Debate) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("missing field: id")
	}
	if !d.Status.Valid() {
		return fmt.Errorf("invalid status: %q", d.Status)
	}
	if d.TotalRounds < 1 {
		return fmt.Errorf("invalid totalRounds: %d", d.TotalRounds)
	}
	if d.CurrentRound < 1 || d.CurrentRound > d.TotalRounds {
		return fmt.Errorf("invalid currentRound: %d of %d", d.CurrentRound, d.TotalRounds)
	}
	if !d.CurrentTurn.Valid() {
		return fmt.Errorf("invalid currentTurn: %q", d.CurrentTurn)
	}
	if d.TimeRemaining < 0 {
		return fmt.Errorf("invalid timeRemaining: %d", d.TimeRemaining)
	}
	if d.Status == StatusLive && (d.Debater1.Vacant() || d.Debater2.Vacant()) {
		return errors.New("live debate with a vacant seat")
	}
	if !d.Debater1.Vacant() && d.Debater1.ID == d.Debater2.ID {
		return errors.New("same participant in both seats")
	}
	return nil
}

// FactCheckStatus is the verification label attached to a message.
type FactCheckStatus string

const (
	FactVerified     FactCheckStatus = "verified"
	FactQuestionable FactCheckStatus = "questionable"
	FactPending      FactCheckStatus = "pending"
	FactUnverified   FactCheckStatus = "unverified"
)

// Valid reports whether f is a known status.
func (f FactCheckStatus) Valid() bool {
	switch f {
	case FactVerified, FactQuestionable, FactPending, FactUnverified:
		return true
	}
	return false
}

// Message is one accepted debate contribution.
// MessageID is generated by the sender and is the de-duplication key inside a room.
type Message struct {
	ID              string          `json:"id,omitempty"`
	MessageID       string          `json:"messageId"`
	DebaterID       string          `json:"debaterId"`
	DebaterName     string          `json:"debaterName"`
	Body            string          `json:"message"`
	Timestamp       time.Time       `json:"timestamp"`
	FactCheckStatus FactCheckStatus `json:"factCheckStatus"`
	Round           int             `json:"round"`
}

// ChallengeStatus is the lifecycle state of a challenge.
type ChallengeStatus string

const (
	ChallengePending  ChallengeStatus = "pending"
	ChallengeAccepted ChallengeStatus = "accepted"
	ChallengeDeclined ChallengeStatus = "declined"
)

// Challenge is an open invitation to debate a topic from a given position.
type Challenge struct {
	ID         string          `json:"id"`
	Challenger UserRef         `json:"challenger"`
	Challenged *UserRef        `json:"challenged,omitempty"`
	Topic      Topic           `json:"topic"`
	Position   Position        `json:"position"`
	Status     ChallengeStatus `json:"status"`
	DebateID   string          `json:"debateId,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}
