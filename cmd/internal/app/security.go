package app

import (
	"errors"
	"fmt"

	"podium/cmd/security/token"
)

const minHMACKeyBytes = 32

// ValidateSecurityConfig builds the bearer-token hasher and enforces the HMAC policy.
// With PODIUM_REQUIRE_TOKEN_HMAC=true startup fails unless PODIUM_TOKEN_HMAC_KEY is set and long enough.
func ValidateSecurityConfig(cfg Config) (token.Hasher, error) {
	h, err := token.HasherFromEnv(minHMACKeyBytes)
	if err != nil {
		return token.Hasher{}, fmt.Errorf("security policy: %s: %w", token.HMACEnvKey, err)
	}
	if cfg.RequireHMAC && !h.Keyed() {
		return token.Hasher{}, errors.New("security policy: PODIUM_REQUIRE_TOKEN_HMAC=true but " + token.HMACEnvKey + " is missing")
	}
	return h, nil
}
