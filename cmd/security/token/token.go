package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

// #nosec G101 -- environment variable name, not a credential.
const HMACEnvKey = "PODIUM_TOKEN_HMAC_KEY"

var ErrKeyTooShort = errors.New("token: hmac key too short")

// Hasher turns raw bearer tokens into stable 64-char hex digests.
type Hasher struct {
	key []byte
}

// NewHasher returns an HMAC hasher for key, or a SHA-256 hasher when key is empty.
func NewHasher(key []byte, minBytes int) (Hasher, error) {
	if len(key) > 0 && len(key) < minBytes {
		return Hasher{}, ErrKeyTooShort
	}
	return Hasher{key: append([]byte(nil), key...)}, nil
}

// HasherFromEnv reads PODIUM_TOKEN_HMAC_KEY.
func HasherFromEnv(minBytes int) (Hasher, error) {
	return NewHasher([]byte(strings.TrimSpace(os.Getenv(HMACEnvKey))), minBytes)
}

// Keyed reports whether the hasher uses HMAC.
func (h Hasher) Keyed() bool { return len(h.key) > 0 }

func (h Hasher) Hash(tok string) string {
	if !h.Keyed() {
		sum := sha256.Sum256([]byte(tok))
		return hex.EncodeToString(sum[:])
	}
	m := hmac.New(sha256.New, h.key)
	_, _ = m.Write([]byte(tok))
	return hex.EncodeToString(m.Sum(nil))
}

// Equal compares a raw token against a stored digest in constant time.
func (h Hasher) Equal(tok, digest string) bool {
	return hmac.Equal([]byte(h.Hash(tok)), []byte(digest))
}

// New returns a random URL-safe token carrying 32 bytes of entropy.
func New() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("token entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
