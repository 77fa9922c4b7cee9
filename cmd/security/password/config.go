package password

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Params are the Argon2id cost settings used for new hashes.
type Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds what Hash will accept.
type Policy struct {
	MinLength  int
	MaxLength  int
	RejectWeak bool
}

type Config struct {
	Params Params
	Policy Policy
}

// DefaultConfig is tuned for an interactive login on a dev box.
// MinLength stays at 6 so the seeded accounts remain valid.
func DefaultConfig() Config {
	lanes := runtime.NumCPU()
	if lanes > 4 {
		lanes = 4
	}
	if lanes < 1 {
		lanes = 1
	}
	return Config{
		Params: Params{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(lanes), // #nosec G115 -- clamped to 1..4 above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{MinLength: 6, MaxLength: 256, RejectWeak: false},
	}
}

// FromEnv starts from DefaultConfig and applies any PODIUM_* overrides.
// A present but unparsable value is an error; absent values keep the default.
func FromEnv() (Config, error) {
	c := DefaultConfig()

	ints := []struct {
		key string
		dst *int
	}{
		{"PODIUM_PASSWORD_MIN_LEN", &c.Policy.MinLength},
		{"PODIUM_PASSWORD_MAX_LEN", &c.Policy.MaxLength},
	}
	for _, o := range ints {
		if raw, ok := lookup(o.key); ok {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				return Config{}, fmt.Errorf("%s: want positive integer, got %q", o.key, raw)
			}
			*o.dst = n
		}
	}

	u32s := []struct {
		key string
		dst *uint32
	}{
		{"PODIUM_ARGON2_MEMORY_KIB", &c.Params.MemoryKiB},
		{"PODIUM_ARGON2_ITERATIONS", &c.Params.Iterations},
		{"PODIUM_ARGON2_SALT_LEN", &c.Params.SaltLength},
		{"PODIUM_ARGON2_KEY_LEN", &c.Params.KeyLength},
	}
	for _, o := range u32s {
		if raw, ok := lookup(o.key); ok {
			n, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || n == 0 {
				return Config{}, fmt.Errorf("%s: want positive integer, got %q", o.key, raw)
			}
			*o.dst = uint32(n)
		}
	}

	if raw, ok := lookup("PODIUM_ARGON2_PARALLELISM"); ok {
		n, err := strconv.ParseUint(raw, 10, 8)
		if err != nil || n == 0 {
			return Config{}, fmt.Errorf("PODIUM_ARGON2_PARALLELISM: want 1..255, got %q", raw)
		}
		c.Params.Parallelism = uint8(n)
	}

	if raw, ok := lookup("PODIUM_PASSWORD_REJECT_WEAK"); ok {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("PODIUM_PASSWORD_REJECT_WEAK: %w", err)
		}
		c.Policy.RejectWeak = b
	}

	if c.Policy.MaxLength < c.Policy.MinLength {
		return Config{}, fmt.Errorf("password max length %d below min length %d", c.Policy.MaxLength, c.Policy.MinLength)
	}
	return c, nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}
