// Package token mints and hashes the opaque bearer tokens issued at login.
//
// Only hashes are kept server-side. With PODIUM_TOKEN_HMAC_KEY set the hash
// is HMAC-SHA256 under that key; without it, plain SHA-256 (dev mode).
package token
