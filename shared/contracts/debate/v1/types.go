// Package v1 defines the Podium debate realtime protocol v1 contract.
//
// It is shared between the relay server, the room channel client and the smoke tools
// to keep the wire protocol authoritative. Event type names match the debate clients
// already deployed against the relay.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated on the websocket upgrade.
const Subprotocol = "podium.debate.v1"

// Type constants (wire-stable).
const (
	// TypeJoinDebate announces room membership (client -> server).
	TypeJoinDebate = "join-debate"
	// TypeJoinAck confirms a membership announcement (server -> client).
	TypeJoinAck = "join-debate.ack"

	// TypeSendMsg emits an already accepted message to the room (client -> server).
	TypeSendMsg = "sendMsg"
	// TypeSyncMessage delivers a room message to every member, sender included (server -> client).
	TypeSyncMessage = "real-time-sync-message"

	// TypeDebateUpdate carries the room's debate after a join ack and whenever a seat or status
	// changes server side (server -> client).
	TypeDebateUpdate = "debate-update"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeJoinDebate,
		TypeJoinAck,
		TypeSendMsg,
		TypeSyncMessage,
		TypeDebateUpdate,
		TypeError:
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}

	if len(e.Payload) == 0 {
		return errors.New("missing field: payload")
	}
	return nil
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(typ, id string, ts time.Time, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{V: Version, Type: typ, ID: id, TS: ts, Payload: raw}, nil
}

// ---- Payloads ----

// JoinDebatePayload requests membership in a debate room.
type JoinDebatePayload struct {
	DebateID string `json:"debateId"`
}

// JoinAckPayload confirms membership and reports the relay session id.
type JoinAckPayload struct {
	DebateID  string `json:"debateId"`
	SessionID string `json:"sessionId"`
	Members   int    `json:"members"`
}

// SendMsgPayload carries a message the sender already appended locally.
// Message is kept raw so the receiving side decodes it through DecodeMessage.
type SendMsgPayload struct {
	DebateID string          `json:"debateId"`
	Message  json.RawMessage `json:"message"`
}

// SyncMessagePayload is fanned out to room members.
type SyncMessagePayload struct {
	DebateID string          `json:"debateId"`
	Message  json.RawMessage `json:"message"`
}

// DebateUpdatePayload is the server's current view of a debate.
type DebateUpdatePayload struct {
	DebateID string `json:"debateId"`
	Debate   Debate `json:"debate"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
