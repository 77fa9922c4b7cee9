// Package ids mints the server-side identifiers for debates and challenges.
package ids

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator produces ULIDs that sort by creation time, strictly increasing
// within the same millisecond.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewGenerator uses crypto/rand for entropy and the wall clock when now is nil.
func NewGenerator(now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0), now: now}
}

// New returns a 26-char ULID, optionally prefixed ("dbt_01H...").
func (g *Generator) New(prefix string) (string, error) {
	g.mu.Lock()
	id, err := ulid.New(ulid.Timestamp(g.now().UTC()), g.entropy)
	g.mu.Unlock()
	if err != nil {
		return "", err
	}
	if prefix == "" {
		return id.String(), nil
	}
	return prefix + "_" + id.String(), nil
}

// NewULID is a one-off helper for callers without a Generator.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now()
	}
	id, err := ulid.New(ulid.Timestamp(now.UTC()), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
