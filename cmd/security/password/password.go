package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var b64 = base64.RawStdEncoding

type encoded struct {
	params Params
	salt   []byte
	key    []byte
}

func (e encoded) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, e.params.MemoryKiB, e.params.Iterations, e.params.Parallelism,
		b64.EncodeToString(e.salt), b64.EncodeToString(e.key))
}

// Hash validates pw against the policy and returns its encoded Argon2id hash.
func (c Config) Hash(pw string) (string, error) {
	if err := c.Validate(pw); err != nil {
		return "", err
	}
	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password salt: %w", err)
	}
	e := encoded{params: c.Params, salt: salt}
	e.key = derive(pw, e.params, salt, c.Params.KeyLength)
	return e.String(), nil
}

// Verify reports whether pw matches hash. A malformed hash, or one whose cost
// is far above the configured params, yields ErrInvalidHash.
func (c Config) Verify(hash, pw string) (bool, error) {
	e, err := parse(hash)
	if err != nil {
		return false, err
	}
	if !c.acceptable(e.params) {
		return false, ErrInvalidHash
	}
	got := derive(pw, e.params, e.salt, e.params.KeyLength)
	return subtle.ConstantTimeCompare(got, e.key) == 1, nil
}

func derive(pw string, p Params, salt []byte, keyLen uint32) []byte {
	return argon2.IDKey([]byte(pw), salt, p.Iterations, p.MemoryKiB, p.Parallelism, keyLen)
}

// Hashes made with cheaper settings still verify; attacker-sized ones do not.
func (c Config) acceptable(p Params) bool {
	lim := c.Params
	return p.MemoryKiB <= lim.MemoryKiB*2 &&
		p.Iterations <= lim.Iterations*2 &&
		p.Parallelism <= lim.Parallelism*2 &&
		p.SaltLength >= 8 && p.SaltLength <= 64 &&
		p.KeyLength >= 16 && p.KeyLength <= 128
}

func parse(s string) (encoded, error) {
	parts := strings.Split(s, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return encoded{}, ErrInvalidHash
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return encoded{}, ErrInvalidHash
	}

	var mem, iter uint32
	var lanes uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iter, &lanes); err != nil {
		return encoded{}, ErrInvalidHash
	}
	if mem == 0 || iter == 0 || lanes == 0 {
		return encoded{}, ErrInvalidHash
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return encoded{}, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil {
		return encoded{}, ErrInvalidHash
	}
	if len(salt) > 64 || len(key) > 128 {
		return encoded{}, ErrInvalidHash
	}

	return encoded{
		params: Params{
			MemoryKiB:   mem,
			Iterations:  iter,
			Parallelism: lanes,
			SaltLength:  uint32(len(salt)), // #nosec G115 -- bounded above.
			KeyLength:   uint32(len(key)),  // #nosec G115 -- bounded above.
		},
		salt: salt,
		key:  key,
	}, nil
}
