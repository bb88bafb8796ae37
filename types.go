package diauth

import (
	"context"

	"github.com/OllieJC/di-authentication-api/internal/audit"
)

// TokenSet is a successful token endpoint response.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	IDToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// ClientRegistration is the registered configuration of a relying party.
// PublicKeys holds the key material clients sign their authentication
// assertions with, as PEM or base64 DER in SubjectPublicKeyInfo layout.
type ClientRegistration struct {
	ClientID     string
	PublicKeys   [][]byte
	RedirectURIs []string
	Scopes       []string
}

// ClientRegistry resolves relying-party registrations. GetClient returns
// (nil, nil) for an unknown client id; errors are reserved for lookup
// infrastructure failures.
type ClientRegistry interface {
	GetClient(ctx context.Context, clientID string) (*ClientRegistration, error)
}

// SubjectPair carries both identifiers of a user: the public subject issued
// to relying parties and the internal subject used by backend services. The
// internal identifier never appears in a token.
type SubjectPair struct {
	Public   string
	Internal string
}

// UserRegistry resolves the subject identifiers for an authenticated user.
type UserRegistry interface {
	SubjectForEmail(ctx context.Context, email string) (SubjectPair, error)
}

// Signer produces compact signed JWTs for the claims the engine assembles.
// Implementations own the key material; see the jwt package for an ES256
// implementation.
type Signer interface {
	SignJWT(ctx context.Context, claims map[string]any) (string, error)
}

// AuditSink receives the audit events the engine emits.
type AuditSink = audit.Sink

// AuditEvent is the structured audit record emitted by the engine.
type AuditEvent = audit.Event

// Audit event types emitted by the engine.
const (
	AuditAuthCodeIssued       = "AUTH_CODE_ISSUED"
	AuditTokenIssued          = "TOKEN_ISSUED"
	AuditTokenRequestRejected = "TOKEN_REQUEST_REJECTED"
	AuditRefreshRotated       = "REFRESH_TOKEN_ROTATED"
	AuditRefreshReuse         = "REFRESH_TOKEN_REUSE"
	AuditClientAuthFailed     = "CLIENT_AUTH_FAILED"
	AuditTransitionRejected   = "STATE_TRANSITION_REJECTED"
)
