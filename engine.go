package diauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/OllieJC/di-authentication-api/authcode"
	"github.com/OllieJC/di-authentication-api/callback"
	"github.com/OllieJC/di-authentication-api/clientauth"
	"github.com/OllieJC/di-authentication-api/internal/audit"
	"github.com/OllieJC/di-authentication-api/session"
	"github.com/OllieJC/di-authentication-api/store"
	"github.com/OllieJC/di-authentication-api/vot"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

const (
	// GrantTypeAuthorizationCode and GrantTypeRefreshToken are the only
	// grant types the token endpoint issues for.
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"

	// ScopeOfflineAccess gates refresh token issuance.
	ScopeOfflineAccess = "offline_access"

	accessTokenPrefix = "access:"
)

// Engine is the protocol core. It is safe for concurrent use; all mutable
// state lives in the backing store.
type Engine struct {
	config    Config
	log       hclog.Logger
	clients   ClientRegistry
	users     UserRegistry
	signer    Signer
	ephemeral store.EphemeralStore
	sessions  *session.Store
	policy    *session.Policy
	codes     *authcode.Service
	states    *callback.StateValidator
	verifier  *clientauth.Verifier
	refresh   *refreshStore
	audit     *audit.Dispatcher
	metrics   *Metrics
}

// Metrics exposes the engine's counters.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Close flushes buffered audit events. The engine must not be used after.
func (e *Engine) Close() {
	e.audit.Close()
}

// StartSession creates a session, moves it out of its initial state, and
// persists it.
func (e *Engine) StartSession(ctx context.Context) (*session.Session, error) {
	s, err := session.NewSession()
	if err != nil {
		return nil, err
	}
	s, err = e.policy.Advance(s, session.EventSessionStarted, session.Decision{})
	if err != nil {
		return nil, err
	}
	if err := e.sessions.Save(ctx, s); err != nil {
		return nil, err
	}

	e.log.Debug("session started", "session_id", s.SessionID)
	return s, nil
}

// CreateClientSession records a relying party's authorisation request
// against an existing session. The client must be registered, the redirect
// URI must be one it registered, and any requested trust vectors must
// parse; violations are reported as ErrInvalidRequest.
func (e *Engine) CreateClientSession(ctx context.Context, sessionID string, authRequest map[string][]string) (*session.ClientSession, error) {
	s, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, err
	}

	clientID := firstValue(authRequest, "client_id")
	if clientID == "" {
		return nil, fmt.Errorf("%w: client_id missing", ErrInvalidRequest)
	}
	registration, err := e.clients.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if registration == nil {
		return nil, fmt.Errorf("%w: unknown client %q", ErrInvalidRequest, clientID)
	}

	redirectURI := firstValue(authRequest, "redirect_uri")
	if !containsString(registration.RedirectURIs, redirectURI) {
		return nil, fmt.Errorf("%w: redirect_uri not registered for client", ErrInvalidRequest)
	}

	candidates, err := vot.ParseFromAuthRequestAttribute(authRequest["vtr"])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	vector, err := vot.Resolve(candidates, vot.Low)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	cs := session.NewClientSession(authRequest, vector)
	if err := e.sessions.SaveClientSession(ctx, cs); err != nil {
		return nil, err
	}

	s.AttachClientSession(cs.ID)
	if err := e.sessions.Save(ctx, s); err != nil {
		return nil, err
	}

	e.log.Debug("client session created",
		"session_id", s.SessionID,
		"client_session_id", cs.ID,
		"client_id", clientID,
		"trust_level", vector.CredentialTrustLevel.String(),
	)
	return cs, nil
}

// SetSessionEmail records the email address the user authenticated with.
// Later operations validate against it.
func (e *Engine) SetSessionEmail(ctx context.Context, sessionID, emailAddress string) (*session.Session, error) {
	s, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, err
	}

	s.EmailAddress = emailAddress
	if err := e.sessions.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// AdvanceSession applies a lifecycle event to the session and persists the
// outcome. An event that is not legal from the current state leaves the
// stored session untouched and returns ErrInvalidStateTransition.
func (e *Engine) AdvanceSession(ctx context.Context, sessionID string, event session.Event, decision session.Decision) (*session.Session, error) {
	s, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, err
	}

	next, err := e.policy.Advance(s, event, decision)
	if err != nil {
		e.metrics.Inc(MetricTransitionRejected)
		e.emitAudit(AuditEvent{
			EventType: AuditTransitionRejected,
			SessionID: sessionID,
			Success:   false,
			Error:     fmt.Sprintf("event %s from state %s", event, s.State),
		})
		e.log.Warn("state transition rejected",
			"session_id", sessionID, "state", string(s.State), "event", string(event))
		return nil, err
	}

	if err := e.sessions.Save(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// IssueAuthorizationCode mints a single-use code for an authenticated
// session. The session must have completed its journey (AUTHENTICATED or
// LOGGED_IN) and must belong to the supplied email address.
func (e *Engine) IssueAuthorizationCode(ctx context.Context, sessionID, clientSessionID, emailAddress string) (string, error) {
	s, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return "", err
	}

	if s.State != session.StateAuthenticated && s.State != session.StateLoggedIn {
		return "", fmt.Errorf("%w: session not authenticated", ErrInvalidRequest)
	}
	if !s.Validate(emailAddress) {
		return "", fmt.Errorf("%w: email does not match session", ErrInvalidRequest)
	}
	if _, err := e.sessions.GetClientSession(ctx, clientSessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return "", fmt.Errorf("%w: client session %s", ErrSessionNotFound, clientSessionID)
		}
		return "", err
	}

	code, err := e.codes.Generate(ctx, clientSessionID, s.EmailAddress)
	if err != nil {
		return "", err
	}

	e.metrics.Inc(MetricAuthCodeIssued)
	e.emitAudit(AuditEvent{
		EventType:       AuditAuthCodeIssued,
		SessionID:       sessionID,
		ClientSessionID: clientSessionID,
		Email:           s.EmailAddress,
		Success:         true,
	})
	return code, nil
}

// ValidateTokenRequest checks a token request's parameters before any
// stateful work. It rejects unknown grant types and missing parameters but
// performs no client authentication.
func (e *Engine) ValidateTokenRequest(params url.Values) error {
	grantType := params.Get("grant_type")
	if grantType == "" {
		return fmt.Errorf("%w: grant_type missing", ErrInvalidRequest)
	}
	if grantType != GrantTypeAuthorizationCode && grantType != GrantTypeRefreshToken {
		return fmt.Errorf("%w: %q", ErrUnsupportedGrantType, grantType)
	}

	if params.Get("client_id") == "" {
		return fmt.Errorf("%w: client_id missing", ErrInvalidRequest)
	}
	if params.Get("client_assertion") == "" {
		return fmt.Errorf("%w: client_assertion missing", ErrInvalidRequest)
	}

	switch grantType {
	case GrantTypeAuthorizationCode:
		if params.Get("code") == "" {
			return fmt.Errorf("%w: code missing", ErrInvalidRequest)
		}
		if params.Get("redirect_uri") == "" {
			return fmt.Errorf("%w: redirect_uri missing", ErrInvalidRequest)
		}
	case GrantTypeRefreshToken:
		if params.Get("refresh_token") == "" {
			return fmt.Errorf("%w: refresh_token missing", ErrInvalidRequest)
		}
	}
	return nil
}

// ExchangeAuthorizationCode authenticates the client, redeems the code, and
// issues the token set for the client session the code was bound to. A code
// can be exchanged exactly once; every later attempt is ErrInvalidGrant.
func (e *Engine) ExchangeAuthorizationCode(ctx context.Context, code, clientID, redirectURI, clientAssertion string) (*TokenSet, error) {
	if err := e.authenticateClient(ctx, clientAssertion, clientID); err != nil {
		return nil, err
	}

	binding, err := e.codes.Redeem(ctx, code)
	if err != nil {
		if errors.Is(err, authcode.ErrInvalidCode) {
			e.metrics.Inc(MetricAuthCodeInvalid)
			e.emitAudit(AuditEvent{
				EventType: AuditTokenRequestRejected,
				ClientID:  clientID,
				Success:   false,
				Error:     "authorization code invalid",
			})
			return nil, fmt.Errorf("%w: code", ErrInvalidGrant)
		}
		return nil, err
	}
	e.metrics.Inc(MetricAuthCodeRedeemed)

	cs, err := e.sessions.GetClientSession(ctx, binding.ClientSessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, fmt.Errorf("%w: client session expired", ErrInvalidGrant)
		}
		return nil, err
	}

	// The code is bound to the request that produced it; a different
	// client or redirect URI means the grant is being replayed elsewhere.
	if cs.ClientID() != clientID {
		return nil, fmt.Errorf("%w: code issued to another client", ErrInvalidGrant)
	}
	if cs.RedirectURI() != redirectURI {
		return nil, fmt.Errorf("%w: redirect_uri mismatch", ErrInvalidGrant)
	}

	pair, err := e.users.SubjectForEmail(ctx, binding.EmailAddress)
	if err != nil {
		return nil, fmt.Errorf("resolving subject: %w", err)
	}

	tokens, err := e.issueTokens(ctx, cs, pair)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricTokenIssued)
	e.emitAudit(AuditEvent{
		EventType:       AuditTokenIssued,
		ClientSessionID: cs.ID,
		ClientID:        clientID,
		Email:           binding.EmailAddress,
		Success:         true,
	})
	return tokens, nil
}

// ExchangeRefreshToken authenticates the client and rotates the presented
// refresh token for a fresh token pair. Rotation is atomic: of any number of
// concurrent presentations of the same token, exactly one succeeds and the
// rest are ErrInvalidGrant.
func (e *Engine) ExchangeRefreshToken(ctx context.Context, refreshToken, clientID, clientAssertion string) (*TokenSet, error) {
	if err := e.authenticateClient(ctx, clientAssertion, clientID); err != nil {
		return nil, err
	}

	// Authenticity comes from exact membership in the stored record, so
	// the claims only need extracting, not verifying.
	publicSubject, scope, err := refreshTokenClaims(refreshToken)
	if err != nil {
		e.metrics.Inc(MetricRefreshFailure)
		return nil, fmt.Errorf("%w: refresh token unreadable", ErrInvalidGrant)
	}

	// Both tokens are signed before rotation: rotation consumes the
	// presented token irreversibly, so a signer outage afterwards would
	// turn a retryable failure into a dead grant.
	next, err := e.signRefreshToken(ctx, publicSubject, scope)
	if err != nil {
		return nil, err
	}
	accessToken, err := e.signAccessToken(ctx, publicSubject, clientID, scope)
	if err != nil {
		return nil, err
	}

	internalSubject, status, err := e.refresh.Rotate(ctx, clientID, publicSubject, refreshToken, next)
	if err != nil {
		return nil, err
	}
	switch status {
	case rotateTokenUnknown:
		// The record exists but this token is not in it: either it was
		// already rotated, or it was never issued. Treat as reuse.
		e.metrics.Inc(MetricRefreshReuseDetected)
		e.metrics.Inc(MetricRefreshFailure)
		e.emitAudit(AuditEvent{
			EventType: AuditRefreshReuse,
			ClientID:  clientID,
			Success:   false,
			Error:     "refresh token not current",
		})
		e.log.Warn("refresh token reuse detected", "client_id", clientID)
		return nil, fmt.Errorf("%w: refresh token", ErrInvalidGrant)
	case rotateRecordAbsent:
		e.metrics.Inc(MetricRefreshFailure)
		return nil, fmt.Errorf("%w: refresh token", ErrInvalidGrant)
	}

	if err := e.storeAccessToken(ctx, accessToken, internalSubject); err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricRefreshSuccess)
	e.emitAudit(AuditEvent{
		EventType: AuditRefreshRotated,
		ClientID:  clientID,
		Success:   true,
	})

	return &TokenSet{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(e.config.AccessTokenTTL.Seconds()),
		RefreshToken: next,
	}, nil
}

// GetSubjectForAccessToken resolves an issued access token to the internal
// subject identifier backend services key user data by.
func (e *Engine) GetSubjectForAccessToken(ctx context.Context, accessToken string) (string, error) {
	data, err := e.ephemeral.Get(ctx, accessTokenPrefix+accessToken)
	if err != nil {
		return "", err
	}
	if data == nil {
		return "", ErrUnknownAccessToken
	}
	return string(data), nil
}

// StoreCallbackState issues the state nonce for an outbound authorisation
// request dispatched on behalf of the session.
func (e *Engine) StoreCallbackState(ctx context.Context, sessionID string) (string, error) {
	return e.states.StoreState(ctx, sessionID)
}

// ValidateCallbackResponse checks a redirect response against the state
// stored for the session.
func (e *Engine) ValidateCallbackResponse(ctx context.Context, sessionID string, params url.Values) (callback.Result, error) {
	return e.states.ValidateResponse(ctx, sessionID, params)
}

func (e *Engine) authenticateClient(ctx context.Context, assertion, clientID string) error {
	if err := e.verifier.Verify(ctx, assertion, clientID); err != nil {
		e.metrics.Inc(MetricClientAuthFailure)
		e.emitAudit(AuditEvent{
			EventType: AuditClientAuthFailed,
			ClientID:  clientID,
			Success:   false,
			Error:     "client assertion rejected",
		})
		e.log.Warn("client authentication failed", "client_id", clientID)
		return err
	}
	return nil
}

func (e *Engine) issueTokens(ctx context.Context, cs *session.ClientSession, pair SubjectPair) (*TokenSet, error) {
	scope := strings.Join(cs.Scopes(), " ")

	accessToken, err := e.signAccessToken(ctx, pair.Public, cs.ClientID(), scope)
	if err != nil {
		return nil, err
	}
	if err := e.storeAccessToken(ctx, accessToken, pair.Internal); err != nil {
		return nil, err
	}

	idToken, err := e.signIDToken(ctx, cs, pair.Public)
	if err != nil {
		return nil, err
	}

	tokens := &TokenSet{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(e.config.AccessTokenTTL.Seconds()),
		IDToken:     idToken,
	}

	if cs.HasScope(ScopeOfflineAccess) {
		refreshToken, err := e.signRefreshToken(ctx, pair.Public, scope)
		if err != nil {
			return nil, err
		}
		if err := e.refresh.Append(ctx, cs.ClientID(), pair.Public, pair.Internal, refreshToken); err != nil {
			return nil, err
		}
		tokens.RefreshToken = refreshToken
	}

	return tokens, nil
}

func (e *Engine) signAccessToken(ctx context.Context, publicSubject, clientID, scope string) (string, error) {
	now := time.Now()
	token, err := e.signer.SignJWT(ctx, map[string]any{
		"iss":       e.config.Issuer,
		"sub":       publicSubject,
		"client_id": clientID,
		"scope":     scope,
		"jti":       uuid.NewString(),
		"iat":       now.Unix(),
		"exp":       now.Add(e.config.AccessTokenTTL).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigningUnavailable, err)
	}
	return token, nil
}

func (e *Engine) signIDToken(ctx context.Context, cs *session.ClientSession, publicSubject string) (string, error) {
	now := time.Now()
	claims := map[string]any{
		"iss": e.config.Issuer,
		"sub": publicSubject,
		"aud": cs.ClientID(),
		"iat": now.Unix(),
		"exp": now.Add(e.config.IDTokenTTL).Unix(),
		"jti": uuid.NewString(),
		"vot": cs.VectorOfTrust.CredentialTrustLevel.Value(),
	}
	if e.config.TrustMarkURI != "" {
		claims["vtm"] = e.config.TrustMarkURI
	}
	if nonce := cs.Nonce(); nonce != "" {
		claims["nonce"] = nonce
	}

	token, err := e.signer.SignJWT(ctx, claims)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigningUnavailable, err)
	}
	return token, nil
}

func (e *Engine) signRefreshToken(ctx context.Context, publicSubject, scope string) (string, error) {
	now := time.Now()
	token, err := e.signer.SignJWT(ctx, map[string]any{
		"sub":   publicSubject,
		"scope": scope,
		"jti":   uuid.NewString(),
		"iat":   now.Unix(),
		"exp":   now.Add(e.config.RefreshTokenTTL).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigningUnavailable, err)
	}
	return token, nil
}

func (e *Engine) storeAccessToken(ctx context.Context, accessToken, internalSubject string) error {
	return e.ephemeral.SetWithExpiry(ctx, accessTokenPrefix+accessToken, []byte(internalSubject), e.config.AccessTokenTTL)
}

func (e *Engine) emitAudit(event AuditEvent) {
	if e.audit == nil {
		return
	}
	event.Timestamp = time.Now().UTC()
	e.audit.Emit(event)
}

// refreshTokenClaims extracts the subject and scope a refresh token was
// issued with.
func refreshTokenClaims(refreshToken string) (publicSubject, scope string, err error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(refreshToken, claims); err != nil {
		return "", "", err
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", "", errors.New("refresh token has no subject")
	}
	sc, _ := claims["scope"].(string)
	return sub, sc, nil
}

func firstValue(params map[string][]string, name string) string {
	values := params[name]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func containsString(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
