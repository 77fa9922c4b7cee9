package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxMessageChars bounds the body length in runes.
	MaxMessageChars = 4000
	// MaxMessageIDLen bounds sender-generated ids.
	MaxMessageIDLen = 128
)

// ErrInvalidMessage is wrapped by every DecodeMessage / Validate failure.
var ErrInvalidMessage = errors.New("invalid message")

// Some backends serialize lower-cased keys. They are accepted only as a fallback for the
// canonical key; disagreeing values under both spellings reject the payload.
var messageAliases = map[string]string{
	"messageId":       "messageid",
	"debaterId":       "debaterid",
	"debaterName":     "debatername",
	"factCheckStatus": "factcheckstatus",
}

// Validate checks the invariants of an accepted message.
func (m Message) Validate() error {
	switch {
	case strings.TrimSpace(m.MessageID) == "":
		return fmt.Errorf("%w: missing messageId", ErrInvalidMessage)
	case len(m.MessageID) > MaxMessageIDLen:
		return fmt.Errorf("%w: messageId too long", ErrInvalidMessage)
	case strings.TrimSpace(m.DebaterID) == "":
		return fmt.Errorf("%w: missing debaterId", ErrInvalidMessage)
	case strings.TrimSpace(m.Body) == "":
		return fmt.Errorf("%w: empty message", ErrInvalidMessage)
	case utf8.RuneCountInString(m.Body) > MaxMessageChars:
		return fmt.Errorf("%w: message too long: max=%d chars", ErrInvalidMessage, MaxMessageChars)
	case m.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrInvalidMessage)
	case !m.FactCheckStatus.Valid():
		return fmt.Errorf("%w: unknown factCheckStatus %q", ErrInvalidMessage, m.FactCheckStatus)
	case m.Round < 1:
		return fmt.Errorf("%w: invalid round %d", ErrInvalidMessage, m.Round)
	}
	return nil
}

// EncodeMessage validates m and returns its canonical JSON form.
func EncodeMessage(m Message) (json.RawMessage, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// DecodeMessage decodes an inbound payload into the canonical Message shape and validates it.
func DecodeMessage(raw []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if fields == nil {
		return Message{}, fmt.Errorf("%w: not an object", ErrInvalidMessage)
	}

	var (
		m   Message
		err error
	)

	if m.ID, err = field(fields, "id", decodeIdent); err != nil {
		return Message{}, err
	}
	if m.MessageID, err = field(fields, "messageId", decodeIdent); err != nil {
		return Message{}, err
	}
	if m.DebaterID, err = field(fields, "debaterId", decodeIdent); err != nil {
		return Message{}, err
	}
	if m.DebaterName, err = field(fields, "debaterName", decodeString); err != nil {
		return Message{}, err
	}
	if m.Body, err = field(fields, "message", decodeString); err != nil {
		return Message{}, err
	}

	status, err := field(fields, "factCheckStatus", decodeString)
	if err != nil {
		return Message{}, err
	}
	m.FactCheckStatus = normalizeFactCheck(status)

	if ts, ok := present(fields, "timestamp"); ok {
		var s string
		if err := json.Unmarshal(ts, &s); err != nil {
			return Message{}, fmt.Errorf("%w: timestamp: %v", ErrInvalidMessage, err)
		}
		m.Timestamp, err = time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
		if err != nil {
			return Message{}, fmt.Errorf("%w: timestamp: %v", ErrInvalidMessage, err)
		}
	}

	if r, ok := present(fields, "round"); ok {
		if err := json.Unmarshal(r, &m.Round); err != nil {
			return Message{}, fmt.Errorf("%w: round: %v", ErrInvalidMessage, err)
		}
	}

	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

func normalizeFactCheck(s string) FactCheckStatus {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return FactPending
	case "false":
		// Older clients labelled refuted claims "false".
		return FactUnverified
	}
	return FactCheckStatus(s)
}

func field(fields map[string]json.RawMessage, canonical string, decode func(json.RawMessage) (string, error)) (string, error) {
	var (
		cv, av   string
		cok, aok bool
		err      error
	)

	if raw, ok := present(fields, canonical); ok {
		if cv, err = decode(raw); err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrInvalidMessage, canonical, err)
		}
		cok = true
	}
	if alias := messageAliases[canonical]; alias != "" {
		if raw, ok := present(fields, alias); ok {
			if av, err = decode(raw); err != nil {
				return "", fmt.Errorf("%w: %s: %v", ErrInvalidMessage, alias, err)
			}
			aok = true
		}
	}

	switch {
	case cok && aok && cv != av:
		return "", fmt.Errorf("%w: conflicting values for %s", ErrInvalidMessage, canonical)
	case cok:
		return cv, nil
	case aok:
		return av, nil
	}
	return "", nil
}

func present(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	raw, ok := fields[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false
	}
	return raw, true
}

func decodeString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return s, nil
}

// decodeIdent accepts ids serialized either as strings or as JSON numbers.
func decodeIdent(raw json.RawMessage) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), nil
	case json.Number:
		return t.String(), nil
	default:
		return "", fmt.Errorf("unsupported id type %T", v)
	}
}
