package internal

import (
	"crypto/rand"
	"encoding/base64"
)

const (
	sessionIDSize  = 20
	authCodeSize   = 32
	stateNonceSize = 32
)

func randomURLSafe(size int) (string, error) {
	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// NewSessionID returns an opaque, unguessable session identifier.
func NewSessionID() (string, error) {
	return randomURLSafe(sessionIDSize)
}

// NewAuthorizationCode returns a single-use authorization code value.
func NewAuthorizationCode() (string, error) {
	return randomURLSafe(authCodeSize)
}

// NewStateNonce returns a one-time state value for redirect round-trips.
func NewStateNonce() (string, error) {
	return randomURLSafe(stateNonceSize)
}
