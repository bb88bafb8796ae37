// Package clientauth verifies private-key JWT client authentication: the
// client proves its identity by presenting a JWT signed with its own private
// key, and the verifier checks it against the public key registered for the
// claimed client id.
package clientauth

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidClient is the uniform failure for client authentication. Every
// verification failure maps here so callers cannot distinguish a wrong key
// from an expired assertion.
var ErrInvalidClient = errors.New("invalid_client")

// KeySelector returns the registered public keys for the claimed client id,
// and only for that id. Keys embedded in the assertion itself are never
// trusted.
type KeySelector func(ctx context.Context, clientID string) ([]crypto.PublicKey, error)

var allowedAlgorithms = []string{"RS256", "PS256", "ES256"}

// Verifier checks client assertions against a key-selector strategy and an
// expected audience (the token endpoint URL).
type Verifier struct {
	audience string
	selector KeySelector
	leeway   time.Duration
}

// NewVerifier creates a Verifier. leeway bounds acceptable clock skew and
// must be within [0, 2m].
func NewVerifier(audience string, selector KeySelector, leeway time.Duration) (*Verifier, error) {
	if audience == "" {
		return nil, errors.New("clientauth: audience required")
	}
	if selector == nil {
		return nil, errors.New("clientauth: key selector required")
	}
	if leeway < 0 || leeway > 2*time.Minute {
		return nil, errors.New("clientauth: invalid leeway configuration")
	}
	return &Verifier{
		audience: audience,
		selector: selector,
		leeway:   leeway,
	}, nil
}

// Verify checks the assertion's signature, audience, and expiry, and that
// its issuer and subject both equal the claimed client id. Any failure,
// including infrastructure failure resolving keys, yields ErrInvalidClient.
func (v *Verifier) Verify(ctx context.Context, assertion, clientID string) error {
	if assertion == "" || clientID == "" {
		return ErrInvalidClient
	}

	keys, err := v.selector(ctx, clientID)
	if err != nil || len(keys) == 0 {
		return ErrInvalidClient
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods(allowedAlgorithms),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(clientID),
		jwt.WithSubject(clientID),
	}
	if v.leeway > 0 {
		options = append(options, jwt.WithLeeway(v.leeway))
	}
	parser := jwt.NewParser(options...)

	// The selector may return several registered keys (rotation); accept
	// the assertion if any of them verifies it.
	for _, key := range keys {
		token, err := parser.ParseWithClaims(assertion, &jwt.RegisteredClaims{}, func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		if err == nil && token.Valid {
			return nil
		}
	}
	return ErrInvalidClient
}

// ParsePublicKey decodes registered public key material. It accepts PEM
// blocks, base64-encoded DER (the form client registries commonly hold),
// and raw DER, all in SubjectPublicKeyInfo layout.
func ParsePublicKey(material []byte) (crypto.PublicKey, error) {
	if block, _ := pem.Decode(material); block != nil {
		return x509.ParsePKIXPublicKey(block.Bytes)
	}

	trimmed := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, string(material))
	if der, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
		if key, err := x509.ParsePKIXPublicKey(der); err == nil {
			return key, nil
		}
	}

	key, err := x509.ParsePKIXPublicKey(material)
	if err != nil {
		return nil, fmt.Errorf("clientauth: unsupported public key material: %w", err)
	}
	return key, nil
}
