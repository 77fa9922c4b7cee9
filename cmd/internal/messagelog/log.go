// Package messagelog holds the ordered, duplicate-free message sequence of one debate room.
package messagelog

import (
	"errors"
	"strings"
	"sync"

	v1 "podium/shared/contracts/debate/v1"
)

// ErrMissingID is returned for a message without a messageId.
var ErrMissingID = errors.New("messagelog: missing message id")

// Outcome reports what Append did with a message.
type Outcome uint8

const (
	// Accepted means the message was appended at the tail.
	Accepted Outcome = iota + 1
	// Duplicate means a message with the same id was already present; the log is unchanged.
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Log is append-only and keeps insertion order. Entries are never removed or mutated.
//
// The owning room serializes writes; the mutex only protects snapshot readers on other goroutines.
type Log struct {
	mu   sync.RWMutex
	seen map[string]int // messageId -> index in msgs
	msgs []v1.Message
}

// New constructs an empty Log.
func New() *Log {
	return &Log{
		seen: make(map[string]int),
		msgs: make([]v1.Message, 0, 64),
	}
}

// Append adds m unless a message with the same id is already recorded.
// The id is stored trimmed, so stored copies and lookups agree.
func (l *Log) Append(m v1.Message) (Outcome, error) {
	id := strings.TrimSpace(m.MessageID)
	if id == "" {
		return 0, ErrMissingID
	}
	m.MessageID = id

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[id]; ok {
		return Duplicate, nil
	}
	l.seen[id] = len(l.msgs)
	l.msgs = append(l.msgs, m)
	return Accepted, nil
}

// All returns a snapshot in append order.
func (l *Log) All() []v1.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return append([]v1.Message(nil), l.msgs...)
}

// Len returns the number of recorded messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.msgs)
}

// Get returns the message recorded under id.
func (l *Log) Get(id string) (v1.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.seen[strings.TrimSpace(id)]
	if !ok {
		return v1.Message{}, false
	}
	return l.msgs[i], true
}
