// Package jwt signs the tokens the issuance engine mints. Signing is kept
// behind a narrow interface in the root package so deployments can move key
// material into an HSM or external signing service without touching the
// token flows.
package jwt

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrSigning is returned when a token cannot be produced.
var ErrSigning = errors.New("token signing failed")

// ES256Signer signs JWTs with an ECDSA P-256 key. The key id header is
// derived from the public key so verifiers can match tokens to published
// JWKS entries.
type ES256Signer struct {
	key   *ecdsa.PrivateKey
	keyID string
}

// NewES256Signer builds a signer from a PEM-encoded EC private key, either
// SEC 1 ("EC PRIVATE KEY") or PKCS#8.
func NewES256Signer(pemKey []byte) (*ES256Signer, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, errors.New("jwt: no PEM block in signing key material")
	}

	var key *ecdsa.PrivateKey
	switch block.Type {
	case "EC PRIVATE KEY":
		parsed, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("jwt: parsing EC key: %w", err)
		}
		key = parsed
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("jwt: parsing PKCS#8 key: %w", err)
		}
		ecKey, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("jwt: expected ECDSA key, got %T", parsed)
		}
		key = ecKey
	default:
		return nil, fmt.Errorf("jwt: unsupported PEM block %q", block.Type)
	}

	return newSigner(key)
}

// GenerateES256Signer creates a signer with a fresh P-256 key. Intended for
// tests and local development.
func GenerateES256Signer() (*ES256Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("jwt: generating key: %w", err)
	}
	return newSigner(key)
}

func newSigner(key *ecdsa.PrivateKey) (*ES256Signer, error) {
	if key.Curve != elliptic.P256() {
		return nil, errors.New("jwt: ES256 requires a P-256 key")
	}

	spki, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("jwt: deriving key id: %w", err)
	}
	sum := sha256.Sum256(spki)

	return &ES256Signer{
		key:   key,
		keyID: base64.RawURLEncoding.EncodeToString(sum[:8]),
	}, nil
}

// SignJWT produces a compact ES256-signed JWT carrying the given claims.
func (s *ES256Signer) SignJWT(ctx context.Context, claims map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims(claims))
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return signed, nil
}

// KeyID is the kid header stamped on every token this signer produces.
func (s *ES256Signer) KeyID() string {
	return s.keyID
}

// PublicKey exposes the verification half of the signing key.
func (s *ES256Signer) PublicKey() *ecdsa.PublicKey {
	return &s.key.PublicKey
}
