package realtime

import (
	"time"

	"podium/cmd/identity/ids"
	v1 "podium/shared/contracts/debate/v1"

	"github.com/google/uuid"
)

// newSessionID names one websocket session in logs and join acks.
func newSessionID() string {
	return uuid.NewString()
}

var envelopeIDs = ids.NewGenerator(nil)

// newEnvelopeID returns a ULID so relay frames sort by emission time in logs.
func newEnvelopeID() string {
	id, err := envelopeIDs.New("")
	if err != nil {
		return uuid.NewString()
	}
	return id
}

func newEnvelope(typ string, ts time.Time, payload any) (v1.Envelope, error) {
	return v1.NewEnvelope(typ, newEnvelopeID(), ts, payload)
}
