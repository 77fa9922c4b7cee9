package turn

import "errors"

// Rejections returned by Apply. They are expected outcomes, not failures of the engine.
var (
	ErrInvalidParticipant = errors.New("turn: invalid participant")
	ErrNotPending         = errors.New("turn: debate is not accepting participants")
	ErrRoomFull           = errors.New("turn: both seats are taken")

	ErrNotLive        = errors.New("turn: debate is not live")
	ErrNotParticipant = errors.New("turn: submitter is not a debater in this room")
	ErrTimeExpired    = errors.New("turn: time expired")
	ErrNotYourTurn    = errors.New("turn: not your turn")

	ErrInvalidRound       = errors.New("turn: invalid round")
	ErrUnsupportedCommand = errors.New("turn: unsupported command")
)
